package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric this process exports.
const Namespace = "sensorstream"

// Metrics holds the pipeline-wide collectors. Component-private collectors
// (buffers, worker pools) are registered separately through the registry.
type Metrics struct {
	ReadingsReceived   prometheus.Counter
	ReadingsDropped    *prometheus.CounterVec
	ReadingsProcessed  *prometheus.CounterVec
	AlertsRaised       *prometheus.CounterVec
	PersistFailures    prometheus.Counter
	ProcessingDuration *prometheus.HistogramVec

	BrokerConnected  prometheus.Gauge
	BrokerReconnects prometheus.Counter

	HubSubscribers    prometheus.Gauge
	HubPublished      prometheus.Counter
	SubscriberDropped prometheus.Counter

	HealthCheckStatus *prometheus.GaugeVec
}

// NewMetrics creates the pipeline collectors. They are unregistered until
// handed to a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ReadingsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "messages_received_total",
			Help:      "Messages delivered by the broker, valid or not",
		}),
		ReadingsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "messages_dropped_total",
			Help:      "Messages discarded before processing",
		}, []string{"reason"}),
		ReadingsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "readings_processed_total",
			Help:      "Readings that completed the pipeline",
		}, []string{"status"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "alerts_total",
			Help:      "Alerts attached to readings",
		}, []string{"kind", "severity"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "persist_failures_total",
			Help:      "Readings that could not be stored and were not published",
		}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Time spent per pipeline stage",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		BrokerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "Broker connection status (0=disconnected, 1=connected)",
		}),
		BrokerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "broker",
			Name:      "reconnects_total",
			Help:      "Successful reconnections after a lost connection",
		}),
		HubSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Live push subscribers",
		}),
		HubPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "hub",
			Name:      "published_total",
			Help:      "Enriched readings published to the hub",
		}),
		SubscriberDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "hub",
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers disconnected for falling behind",
		}),
		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ReadingsReceived,
		c.ReadingsDropped,
		c.ReadingsProcessed,
		c.AlertsRaised,
		c.PersistFailures,
		c.ProcessingDuration,
		c.BrokerConnected,
		c.BrokerReconnects,
		c.HubSubscribers,
		c.HubPublished,
		c.SubscriberDropped,
		c.HealthCheckStatus,
	}
}

// The Record helpers are nil-safe so components can run without metrics.

// RecordReceived counts one inbound broker message
func (c *Metrics) RecordReceived() {
	if c == nil {
		return
	}
	c.ReadingsReceived.Inc()
}

// RecordDropped counts a message discarded before processing
func (c *Metrics) RecordDropped(reason string) {
	if c == nil {
		return
	}
	c.ReadingsDropped.WithLabelValues(reason).Inc()
}

// RecordProcessed counts a reading that left the pipeline with status
// "published" or "persist_failed".
func (c *Metrics) RecordProcessed(status string) {
	if c == nil {
		return
	}
	c.ReadingsProcessed.WithLabelValues(status).Inc()
}

// RecordAlert counts one alert
func (c *Metrics) RecordAlert(kind, severity string) {
	if c == nil {
		return
	}
	c.AlertsRaised.WithLabelValues(kind, severity).Inc()
}

// RecordPersistFailure counts a failed store write
func (c *Metrics) RecordPersistFailure() {
	if c == nil {
		return
	}
	c.PersistFailures.Inc()
}

// RecordStageDuration records time spent in a pipeline stage
func (c *Metrics) RecordStageDuration(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.ProcessingDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordBrokerStatus updates the connection gauge
func (c *Metrics) RecordBrokerStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.BrokerConnected.Set(value)
}

// RecordBrokerReconnect increments the reconnection counter
func (c *Metrics) RecordBrokerReconnect() {
	if c == nil {
		return
	}
	c.BrokerReconnects.Inc()
}

// RecordSubscribers sets the live subscriber gauge
func (c *Metrics) RecordSubscribers(n int) {
	if c == nil {
		return
	}
	c.HubSubscribers.Set(float64(n))
}

// RecordHubPublish counts a hub publish
func (c *Metrics) RecordHubPublish() {
	if c == nil {
		return
	}
	c.HubPublished.Inc()
}

// RecordSubscriberDropped counts a slow subscriber disconnect
func (c *Metrics) RecordSubscriberDropped() {
	if c == nil {
		return
	}
	c.SubscriberDropped.Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}
