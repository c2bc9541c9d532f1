package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

// jetstreamMetrics exports the state of the stream and durable consumer this
// client reads from.
type jetstreamMetrics struct {
	streamMessages      *prometheus.GaugeVec
	consumerPending     *prometheus.GaugeVec
	consumerAckPending  *prometheus.GaugeVec
	consumerRedelivered *prometheus.GaugeVec
	errors              *prometheus.CounterVec

	mu       sync.RWMutex
	stream   jetstream.Stream
	consumer jetstream.Consumer
}

func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &jetstreamMetrics{
		streamMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "jetstream",
			Name:      "stream_messages",
			Help:      "Messages currently stored in the telemetry stream",
		}, []string{"stream"}),
		consumerPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "jetstream",
			Name:      "consumer_pending_messages",
			Help:      "Messages not yet delivered to the durable consumer",
		}, []string{"stream", "consumer"}),
		consumerAckPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "jetstream",
			Name:      "consumer_ack_pending_messages",
			Help:      "Messages delivered but not yet acknowledged",
		}, []string{"stream", "consumer"}),
		consumerRedelivered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "jetstream",
			Name:      "consumer_redelivered_messages",
			Help:      "Messages currently being redelivered",
		}, []string{"stream", "consumer"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "JetStream operation errors",
		}, []string{"operation"}),
	}

	if err := registry.RegisterGaugeVec("jetstream", "stream_messages", m.streamMessages); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "consumer_pending", m.consumerPending); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "consumer_ack_pending", m.consumerAckPending); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "consumer_redelivered", m.consumerRedelivered); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *jetstreamMetrics) track(stream jetstream.Stream, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.stream = stream
	m.consumer = consumer
	m.mu.Unlock()
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes the gauges. Unavailable info is skipped.
func (m *jetstreamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	stream, consumer := m.stream, m.consumer
	m.mu.RUnlock()

	if stream != nil {
		if info, err := stream.Info(ctx); err == nil {
			m.streamMessages.WithLabelValues(info.Config.Name).Set(float64(info.State.Msgs))
		}
	}
	if consumer != nil {
		if info, err := consumer.Info(ctx); err == nil {
			m.consumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
			m.consumerAckPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumAckPending))
			m.consumerRedelivered.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumRedelivered))
		}
	}
}

// startPoller polls stats every interval until the returned cancel is called.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil || interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
