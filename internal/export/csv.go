package export

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fliupa/cni-scrapy/internal/harvest"
	"github.com/fliupa/cni-scrapy/internal/tabular"
)

// StableSuffix names the copy of the export that every run overwrites.
const StableSuffix = "completo"

const timestampLayout = "20060102_150405"

// Artifact describes one written export file.
type Artifact struct {
	Path    string `json:"path"`
	URI     string `json:"uri"`
	Digest  string `json:"digest,omitempty"`
	Records int    `json:"records"`
	Failed  int    `json:"failed"`
}

// CSVOption customizes a CSVSink.
type CSVOption func(*CSVSink)

// WithHasher records a digest of the rendered table on every artifact.
func WithHasher(h harvest.Hasher) CSVOption {
	return func(s *CSVSink) { s.hasher = h }
}

// CSVSink buffers records and writes them on Flush as
// <prefix>_<YYYYMMDD_HHMMSS>.csv plus <prefix>_completo.csv.
type CSVSink struct {
	store  harvest.BlobStore
	clock  harvest.Clock
	hasher harvest.Hasher
	schema harvest.Schema
	prefix string

	mu        sync.Mutex
	records   []harvest.Record
	artifacts []Artifact
}

// NewCSVSink builds a sink writing through store. A nil clock uses time.Now.
func NewCSVSink(store harvest.BlobStore, clock harvest.Clock, schema harvest.Schema, prefix string, opts ...CSVOption) (*CSVSink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if prefix == "" {
		return nil, fmt.Errorf("export prefix is required")
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("export schema: %w", err)
	}
	s := &CSVSink{store: store, clock: clock, schema: schema, prefix: prefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append buffers rec.
func (s *CSVSink) Append(_ context.Context, rec harvest.Record) error {
	s.mu.Lock()
	s.records = append(s.records, rec.Clone())
	s.mu.Unlock()
	return nil
}

// Flush writes the buffered records in Index order and resets the buffer.
func (s *CSVSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := append([]harvest.Record(nil), s.records...)
	harvest.SortByIndex(records)
	data, err := tabular.Marshal(s.schema, records)
	if err != nil {
		return fmt.Errorf("render export: %w", err)
	}
	var digest string
	if s.hasher != nil {
		if digest, err = s.hasher.Hash(data); err != nil {
			return fmt.Errorf("hash export: %w", err)
		}
	}
	failed := 0
	for _, r := range records {
		if r.Failed() {
			failed++
		}
	}

	paths := []string{
		fmt.Sprintf("%s_%s.csv", s.prefix, s.now().Format(timestampLayout)),
		fmt.Sprintf("%s_%s.csv", s.prefix, StableSuffix),
	}
	written := make([]Artifact, 0, len(paths))
	for _, p := range paths {
		uri, err := s.store.PutObject(ctx, p, tabular.ContentType, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		written = append(written, Artifact{Path: p, URI: uri, Digest: digest, Records: len(records), Failed: failed})
	}
	s.artifacts = append(s.artifacts, written...)
	s.records = nil
	return nil
}

// Artifacts lists everything written so far.
func (s *CSVSink) Artifacts() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Artifact(nil), s.artifacts...)
}

func (s *CSVSink) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}
