// Package prometheus exposes engine metrics as a client_golang Collector.
//
// [NewPrometheusExporter] wraps a [stepup.Engine]. Register the exporter with
// any prometheus.Registerer, or mount [PrometheusExporter.Handler], which
// serves from a private registry. Counters are named stepup_*_total; latency
// histograms are stepup_assess_latency_seconds and
// stepup_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global default registry.
//   - Mutate engine state.
package prometheus
