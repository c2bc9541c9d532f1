package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// ringMetrics labels every series with the ring's name, so the hub alert log
// and any other exported ring share one set of metric names.
type ringMetrics struct {
	appended prometheus.Counter
	evicted  prometheus.Counter
	length   prometheus.Gauge
}

func newRingMetrics(registry *metric.MetricsRegistry, name string) (*ringMetrics, error) {
	labels := prometheus.Labels{"ring": name}
	counter := func(n, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "ring", Name: n, Help: help, ConstLabels: labels,
		})
	}

	m := &ringMetrics{
		appended: counter("appended_total", "Items written to the ring"),
		evicted:  counter("evicted_total", "Oldest items pushed out by a write to a full ring"),
		length: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "ring", Name: "length",
			Help: "Items currently held", ConstLabels: labels,
		}),
	}

	for suffix, c := range map[string]prometheus.Counter{
		"ring_appended": m.appended,
		"ring_evicted":  m.evicted,
	} {
		if err := registry.RegisterCounter(name, suffix, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(name, "ring_length", m.length); err != nil {
		return nil, err
	}
	return m, nil
}
