// Package prometheus exposes gateway metrics to Prometheus.
//
// [NewPrometheusExporter] wraps an [authgate.Gateway] in a client_golang collector and
// serves it from a private registry through promhttp. Counter names are
// authgate_*_total; the only histogram is authgate_dispatch_latency_seconds. Two gauges
// report refresh state: authgate_refresh_in_flight and authgate_refresh_queue_length.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers mount the Handler or add
//     [PrometheusExporter.Collector] to a registry of their own.
//   - Mutate gateway state.
package prometheus
