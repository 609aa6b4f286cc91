package scheduler

import "github.com/fliupa/cni-scrapy/internal/harvest"

const previewSize = 10

// Preview is one (Index, Name) pair of the run summary.
type Preview struct {
	Index int
	Name  string
}

// Summary counts the outcome of a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Preview   []Preview
}

// Summarize counts successes and failure records and previews the first ten
// records in Index order.
func Summarize(records []harvest.Record) Summary {
	ordered := append([]harvest.Record(nil), records...)
	harvest.SortByIndex(ordered)

	s := Summary{Total: len(ordered)}
	for i, r := range ordered {
		if r.Failed() {
			s.Failed++
		} else {
			s.Succeeded++
		}
		if i < previewSize {
			s.Preview = append(s.Preview, Preview{Index: r.Index, Name: r.Name()})
		}
	}
	return s
}
