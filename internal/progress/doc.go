// Package progress carries harvest run events from the scheduler and workers to
// pluggable sinks. Emit never blocks: events are buffered and flushed in
// batches on a background goroutine.
package progress
