// Package otel provides OpenTelemetry metric exporter bindings for engine
// counters.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine metric. A
// single callback reads [securenote.Engine.MetricsSnapshot] on each
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider — callers supply the Meter.
//   - Mutate engine state.
package otel
