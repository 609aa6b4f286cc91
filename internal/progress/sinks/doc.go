// Package sinks implements progress consumers that log events and export them
// as Prometheus metrics.
package sinks
