package harvest

import "errors"

var (
	// ErrBackendUnavailable means the rendering backend could not be launched at all.
	ErrBackendUnavailable = errors.New("rendering backend unavailable")
	// ErrFatal marks an attempt error that retrying cannot fix.
	ErrFatal = errors.New("fatal attempt error")
	// ErrNoSeeds is returned when there is nothing to harvest.
	ErrNoSeeds = errors.New("no seed urls to harvest")
)
