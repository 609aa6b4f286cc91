// Package harvesttest provides in-memory harvest collaborators for tests.
package harvesttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fliupa/cni-scrapy/internal/dom"
	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// ErrNavigation is the default scripted navigation failure.
var ErrNavigation = errors.New("net::ERR_TIMED_OUT")

// Page renders a minimal metadata page whose indicator name is name.
func Page(name string) string {
	return `<html><body><table>
<tr><td id="lbNombreInd">` + name + `</td></tr>
<tr><td><b>Periodicidad</b></td></tr>
<tr><td class="SizeGralApartado">Anual</td></tr>
</table></body></html>`
}

// Backend is a scripted harvest.Backend. Unknown URLs render Page(url).
type Backend struct {
	// LaunchErr is returned by Launch.
	LaunchErr error
	// Delay is spent inside every navigation.
	Delay time.Duration
	// Pages maps URL to markup.
	Pages map[string]string
	// Failures maps URL to how many leading attempts fail; a negative value fails every attempt.
	Failures map[string]int
	// FailErr replaces ErrNavigation.
	FailErr error

	mu        sync.Mutex
	launched  bool
	closed    bool
	opened    int
	released  int
	active    int
	maxActive int
	attempts  map[string]int
}

// Launch implements harvest.Backend.
func (b *Backend) Launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.LaunchErr != nil {
		return fmt.Errorf("%w: %w", harvest.ErrBackendUnavailable, b.LaunchErr)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.launched = true
	return nil
}

// OpenContext implements harvest.Backend.
func (b *Backend) OpenContext(ctx context.Context) (harvest.BrowsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.launched {
		return nil, errors.New("backend not launched")
	}
	b.opened++
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	return &browsingContext{backend: b}, nil
}

// Close implements harvest.Backend.
func (b *Backend) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Opened reports how many browsing contexts were opened.
func (b *Backend) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Released reports how many browsing contexts were closed.
func (b *Backend) Released() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// MaxActive reports the highest number of simultaneously open contexts.
func (b *Backend) MaxActive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxActive
}

// Attempts reports how many navigations url received.
func (b *Backend) Attempts(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts[url]
}

// TotalAttempts reports navigations across all URLs.
func (b *Backend) TotalAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.attempts {
		n += v
	}
	return n
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) navigate(ctx context.Context, url string) (harvest.Document, error) {
	b.mu.Lock()
	if b.attempts == nil {
		b.attempts = map[string]int{}
	}
	b.attempts[url]++
	attempt := b.attempts[url]
	failures := b.Failures[url]
	markup, ok := b.Pages[url]
	b.mu.Unlock()

	if b.Delay > 0 {
		timer := time.NewTimer(b.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if failures < 0 || attempt <= failures {
		if b.FailErr != nil {
			return nil, b.FailErr
		}
		return nil, ErrNavigation
	}
	if !ok {
		markup = Page(url)
	}
	doc, err := dom.NewDocument(markup)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type browsingContext struct {
	backend *Backend
	once    sync.Once
}

func (c *browsingContext) Navigate(ctx context.Context, url string, _ time.Duration) (harvest.Document, error) {
	return c.backend.navigate(ctx, url)
}

func (c *browsingContext) Close() error {
	c.once.Do(func() {
		c.backend.mu.Lock()
		c.backend.active--
		c.backend.released++
		c.backend.mu.Unlock()
	})
	return nil
}

// Checkpoint is an in-memory harvest.CheckpointStore that keeps every save.
type Checkpoint struct {
	LoadErr error
	SaveErr error

	mu      sync.Mutex
	records []harvest.Record
	saves   [][]harvest.Record
	cleared bool
}

// NewCheckpoint returns a store preloaded with records.
func NewCheckpoint(records ...harvest.Record) *Checkpoint {
	return &Checkpoint{records: clone(records)}
}

// Load implements harvest.CheckpointStore.
func (c *Checkpoint) Load(context.Context) ([]harvest.Record, error) {
	if c.LoadErr != nil {
		return nil, c.LoadErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := clone(c.records)
	harvest.SortByIndex(out)
	return out, nil
}

// Save implements harvest.CheckpointStore.
func (c *Checkpoint) Save(_ context.Context, records []harvest.Record) error {
	if c.SaveErr != nil {
		return c.SaveErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = clone(records)
	c.saves = append(c.saves, clone(records))
	c.cleared = false
	return nil
}

// Clear implements harvest.CheckpointStore.
func (c *Checkpoint) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
	c.cleared = true
	return nil
}

// Records returns the currently persisted records.
func (c *Checkpoint) Records() []harvest.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.records)
}

// Saves returns the size of every save in order.
func (c *Checkpoint) Saves() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.saves))
	for i, s := range c.saves {
		sizes[i] = len(s)
	}
	return sizes
}

// Cleared reports whether the last operation was Clear.
func (c *Checkpoint) Cleared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

// Sink is a harvest.Sink that keeps appended records.
type Sink struct {
	AppendErr error
	FlushErr  error

	mu      sync.Mutex
	records []harvest.Record
	flushes int
}

// Append implements harvest.Sink.
func (s *Sink) Append(_ context.Context, rec harvest.Record) error {
	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec.Clone())
	return nil
}

// Flush implements harvest.Sink.
func (s *Sink) Flush(context.Context) error {
	if s.FlushErr != nil {
		return s.FlushErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Records returns what was appended.
func (s *Sink) Records() []harvest.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.records)
}

// Flushes reports how many times Flush succeeded.
func (s *Sink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func clone(records []harvest.Record) []harvest.Record {
	if records == nil {
		return nil
	}
	out := make([]harvest.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
