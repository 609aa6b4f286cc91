package progress

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunEmitter stamps events with a run id and timestamp. A nil *RunEmitter or
// one without an Emitter drops everything.
type RunEmitter struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time
}

// ForRun scopes emitter to one harvest run. now defaults to time.Now.
func ForRun(emitter Emitter, runID uuid.UUID, now func() time.Time) *RunEmitter {
	if now == nil {
		now = time.Now
	}
	return &RunEmitter{emitter: emitter, runID: UUIDToBytes(runID), now: now}
}

// RunID returns the run identifier.
func (r *RunEmitter) RunID() uuid.UUID {
	if r == nil {
		return uuid.Nil
	}
	return uuid.UUID(r.runID)
}

func (r *RunEmitter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.now().UTC()
	if evt.URL != "" && evt.Site == "" {
		evt.Site = hostOf(evt.URL)
	}
	r.emitter.Emit(evt)
}

// RunStarted reports that pending URLs are about to be scheduled.
func (r *RunEmitter) RunStarted(pending int) {
	r.emit(Event{Stage: StageRunStart, Records: pending})
}

// RunDone reports a completed run.
func (r *RunEmitter) RunDone(total, failed int, dur time.Duration) {
	r.emit(Event{Stage: StageRunDone, Records: total, Failed: failed, Dur: dur})
}

// RunError reports a run that stopped early.
func (r *RunEmitter) RunError(err error, dur time.Duration) {
	r.emit(Event{Stage: StageRunError, Dur: dur, Note: errText(err)})
}

// FetchStarted reports that a worker took a slot for url.
func (r *RunEmitter) FetchStarted(url string, index int) {
	r.emit(Event{Stage: StageFetchStart, URL: url, Index: index})
}

// FetchRetry reports a failed attempt that will be retried.
func (r *RunEmitter) FetchRetry(url string, index, attempt int, err error) {
	r.emit(Event{Stage: StageFetchRetry, URL: url, Index: index, Attempt: attempt, Note: errText(err)})
}

// FetchDone reports a record extracted after attempts tries.
func (r *RunEmitter) FetchDone(url string, index, attempts int, dur time.Duration) {
	r.emit(Event{Stage: StageFetchDone, URL: url, Index: index, Attempt: attempts, Dur: dur})
}

// FetchFailed reports a terminal failure.
func (r *RunEmitter) FetchFailed(url string, index, attempts int, err error, dur time.Duration) {
	r.emit(Event{Stage: StageFetchFailed, URL: url, Index: index, Attempt: attempts, Dur: dur, Note: errText(err)})
}

// Checkpoint reports a checkpoint save of records rows.
func (r *RunEmitter) Checkpoint(records int, err error) {
	r.emit(Event{Stage: StageCheckpoint, Records: records, Note: errText(err)})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
