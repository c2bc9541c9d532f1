// Package metric exposes pipeline metrics through Prometheus.
//
// A MetricsRegistry wraps a private prometheus.Registry. It carries the
// pipeline-wide collectors in Metrics (ingest counters, alert counts, broker
// and hub gauges) and lets components add their own collectors under a
// "component.metric" key so duplicates are caught early:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordReceived()
//	router.Handle("/metrics", registry.Handler())
//
// The Record helpers on a nil *Metrics are no-ops, so components can be
// built without a registry in tests.
package metric
