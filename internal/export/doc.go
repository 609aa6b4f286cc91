// Package export delivers the final ordered record set of a harvest run.
//
// A run hands every record to a harvest.Sink with Append and then calls
// Flush once. CSVSink renders the table and writes it through a
// harvest.BlobStore, Notifier publishes a completion notice, and Multi fans
// a run out to several sinks in order.
package export
