package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageFetchStart  Stage = "FETCH_START"
	StageFetchRetry  Stage = "FETCH_RETRY"
	StageFetchDone   Stage = "FETCH_DONE"
	StageFetchFailed Stage = "FETCH_FAILED"
	StageCheckpoint  Stage = "CHECKPOINT"
)

// Event is one milestone of a harvest run.
type Event struct {
	// RunID identifies the harvest run in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Site is the host of URL, used as a metric label.
	Site string
	URL  string
	// Index is the record index the fetch events refer to.
	Index int
	// Attempt is the 1-based attempt number, or the attempts used once a fetch ends.
	Attempt int
	// Records counts pending URLs on RUN_START, persisted records on CHECKPOINT
	// and total records on RUN_DONE.
	Records int
	// Failed counts failure records on RUN_DONE.
	Failed int
	Dur    time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageFetchStart, StageFetchRetry, StageFetchDone, StageFetchFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
		if e.Index <= 0 {
			return fmt.Errorf("%s requires a positive index", e.Stage)
		}
	case StageCheckpoint:
		if e.Records < 0 {
			return errors.New("checkpoint record count must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
