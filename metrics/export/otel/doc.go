// Package otel binds gateway metrics to an OpenTelemetry meter.
//
// [NewOTelExporter] registers an Int64ObservableCounter per gateway counter and an
// Int64ObservableGauge per latency bucket. One callback reads
// [authgate.Gateway.MetricsSnapshot] on each collection cycle and also reports the
// refresh state and queue length.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate gateway state.
package otel
