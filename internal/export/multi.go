package export

import (
	"context"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

type multi []harvest.Sink

// Multi returns a sink that forwards to each non-nil sink in order and stops
// at the first error.
func Multi(sinks ...harvest.Sink) harvest.Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Append(ctx context.Context, rec harvest.Record) error {
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (m multi) Flush(ctx context.Context) error {
	for _, s := range m {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
