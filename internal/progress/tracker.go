package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a point-in-time view of the current or last run.
type Snapshot struct {
	RunID       string    `json:"run_id,omitempty"`
	State       string    `json:"state"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
	Pending     int       `json:"pending"`
	InFlight    int       `json:"in_flight"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Retries     int       `json:"retries"`
	Checkpoints int       `json:"checkpoints"`
	LastError   string    `json:"last_error,omitempty"`
}

// Run states reported by Snapshot.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateDone    = "done"
	StateError   = "error"
)

// Tracker is a Sink that keeps live counters for the status endpoint.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: StateIdle}}
}

// Consume folds a batch into the counters. Events from a new run reset them.
func (t *Tracker) Consume(_ context.Context, batch []Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, evt := range batch {
		t.apply(evt)
	}
	return nil
}

func (t *Tracker) apply(evt Event) {
	runID := uuid.UUID(evt.RunID).String()
	if evt.Stage == StageRunStart {
		t.snap = Snapshot{RunID: runID, State: StateRunning, StartedAt: evt.TS, Pending: evt.Records}
	}
	if t.snap.RunID != runID {
		return
	}
	t.snap.UpdatedAt = evt.TS
	switch evt.Stage {
	case StageFetchStart:
		t.snap.InFlight++
	case StageFetchRetry:
		t.snap.Retries++
	case StageFetchDone:
		t.snap.Succeeded++
		t.finishFetch()
	case StageFetchFailed:
		t.snap.Failed++
		t.snap.LastError = evt.Note
		t.finishFetch()
	case StageCheckpoint:
		t.snap.Checkpoints++
		if evt.Note != "" {
			t.snap.LastError = evt.Note
		}
	case StageRunDone:
		t.snap.State = StateDone
		t.snap.InFlight = 0
	case StageRunError:
		t.snap.State = StateError
		t.snap.LastError = evt.Note
		t.snap.InFlight = 0
	}
}

func (t *Tracker) finishFetch() {
	if t.snap.InFlight > 0 {
		t.snap.InFlight--
	}
	if t.snap.Pending > 0 {
		t.snap.Pending--
	}
}

// Snapshot returns a copy of the counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Close implements Sink.
func (t *Tracker) Close(context.Context) error {
	return nil
}
