// Package harvest defines the core types shared across the harvesting subsystems.
package harvest

import (
	"fmt"
	"sort"
	"strings"
)

// Field keys with extraction behavior of their own.
const (
	FieldName      = "name"
	FieldStandards = "standards"
)

// FailurePrefix starts the message stored in the name field of a failure record.
const FailurePrefix = "Error after "

// Field describes one extracted column of the harvested table.
type Field struct {
	// Key is the stable identifier used in code and in JSON payloads.
	Key string
	// Column is the header written to tabular artifacts.
	Column string
	// Label is the text searched for on the page.
	Label string
}

// Schema is the fixed, ordered column layout of a Record.
type Schema struct {
	IndexColumn string
	URLColumn   string
	Fields      []Field
}

// Columns returns every header in table order, index and URL first.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(s.Fields)+2)
	cols = append(cols, s.IndexColumn, s.URLColumn)
	for _, f := range s.Fields {
		cols = append(cols, f.Column)
	}
	return cols
}

// Field returns the field registered under key.
func (s Schema) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks that keys and columns are unique and non-empty.
func (s Schema) Validate() error {
	if s.IndexColumn == "" || s.URLColumn == "" {
		return fmt.Errorf("schema requires index and url columns")
	}
	if _, ok := s.Field(FieldName); !ok {
		return fmt.Errorf("schema requires a %q field", FieldName)
	}
	keys := make(map[string]struct{}, len(s.Fields))
	cols := map[string]struct{}{s.IndexColumn: {}, s.URLColumn: {}}
	for _, f := range s.Fields {
		if f.Key == "" || f.Column == "" {
			return fmt.Errorf("schema field requires key and column: %+v", f)
		}
		if _, dup := keys[f.Key]; dup {
			return fmt.Errorf("duplicate schema key %q", f.Key)
		}
		if _, dup := cols[f.Column]; dup {
			return fmt.Errorf("duplicate schema column %q", f.Column)
		}
		keys[f.Key] = struct{}{}
		cols[f.Column] = struct{}{}
	}
	return nil
}

// Record is one harvested row keyed by URL and sequence Index.
// A field missing from Fields is unset, which is distinct from an empty value.
type Record struct {
	Index  int
	URL    string
	Fields map[string]string
}

// NewRecord returns an empty record for url at index.
func NewRecord(index int, url string) Record {
	return Record{Index: index, URL: url, Fields: map[string]string{}}
}

// NewFailureRecord builds the degraded record produced when every attempt failed.
func NewFailureRecord(index int, url string, attempts int, err error) Record {
	rec := NewRecord(index, url)
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	rec.Fields[FieldName] = fmt.Sprintf("%s%d attempts: %s", FailurePrefix, attempts, reason)
	return rec
}

// Get returns the value of key and whether it is set.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.Fields[key]
	return v, ok
}

// Set assigns a value to key.
func (r *Record) Set(key, value string) {
	if r.Fields == nil {
		r.Fields = map[string]string{}
	}
	r.Fields[key] = value
}

// Name returns the name field or the empty string.
func (r Record) Name() string {
	return r.Fields[FieldName]
}

// Failed reports whether the record is an extraction failure record.
func (r Record) Failed() bool {
	return strings.HasPrefix(r.Fields[FieldName], FailurePrefix)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := Record{Index: r.Index, URL: r.URL, Fields: make(map[string]string, len(r.Fields))}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return out
}

// SortByIndex orders records by ascending Index, breaking ties by URL.
func SortByIndex(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Index != records[j].Index {
			return records[i].Index < records[j].Index
		}
		return records[i].URL < records[j].URL
	})
}

// OutcomeKind tags the result of a single fetch-and-extract attempt.
type OutcomeKind int

// Attempt outcome tags.
const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeTransient
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// AttemptOutcome is the tagged result of one attempt.
type AttemptOutcome struct {
	Kind   OutcomeKind
	Record Record
	Err    error
}

// Success wraps an extracted record.
func Success(rec Record) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeSuccess, Record: rec}
}

// TransientFailure marks err as eligible for retry.
func TransientFailure(err error) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeTransient, Err: err}
}

// FatalFailure marks err as not worth retrying.
func FatalFailure(err error) AttemptOutcome {
	return AttemptOutcome{Kind: OutcomeFatal, Err: err}
}
