// Package capture carries the telemetry produced by a live session to its
// consumers.
//
// A session emits Events to a Sink: observations of changed values, decoded
// log records, setting writes, state changes and runtime errors. Sinks can
// print them, store them, export them or fan them out:
//
//	sink := capture.NewMultiSink(
//	    capture.NewSlogSink(slog.Default()),
//	    fileSink, // capture.NewFileSink("run.pplog")
//	)
//
// # File Format
//
// Capture files are a sequence of CBOR-encoded events with integer keys and
// the .pplog extension. The probeplot-log command views, exports and
// summarizes them; Reader streams them with an optional Filter.
package capture
