// Package hub is the single source of truth for the latest state of every
// device and the recent alert history. It serves push subscribers and pull
// readers from the same state.
//
// Every Publish updates the snapshot table and alert log and notifies the
// subscribers while holding one lock, so a pull reader and a push subscriber
// always observe publishes in the same order. Subscribe registers under the
// same lock and returns the snapshot at that instant, so nothing is lost or
// duplicated between the catch-up and the live stream.
package hub

import (
	stderrors "errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pkg/buffer"
	"github.com/c360/sensorstream/telemetry"
)

// Defaults for Config.
const (
	DefaultAlertLogSize     = 50
	DefaultSubscriberBuffer = 256
)

var (
	// ErrSlowSubscriber is reported by a subscription the hub disconnected
	// because its buffer was full.
	ErrSlowSubscriber = stderrors.New("subscriber fell behind")
	// ErrHubClosed is reported by subscriptions ended by Close.
	ErrHubClosed = stderrors.New("hub closed")
)

// EventType tags an Event.
type EventType string

// Event types. The names match what push clients receive on the wire.
const (
	EventReading EventType = "sensor-update"
	EventAlert   EventType = "alert"
)

// AlertRecord is one alert log entry: the alerts raised by one reading.
type AlertRecord struct {
	DeviceID  string            `json:"device_id"`
	ReadingID string            `json:"id,omitempty"`
	Alerts    []telemetry.Alert `json:"alerts"`
	Timestamp time.Time         `json:"timestamp"`
}

// Event is delivered to subscribers. Exactly one of Reading or Alert is set.
// Events are shared between subscribers and must not be modified.
type Event struct {
	Type    EventType                  `json:"type"`
	Seq     uint64                     `json:"seq"`
	Reading *telemetry.EnrichedReading `json:"reading,omitempty"`
	Alert   *AlertRecord               `json:"alert,omitempty"`
}

// Config sizes the hub.
type Config struct {
	AlertLogSize     int `json:"alert_log_size" yaml:"alert_log_size" mapstructure:"alert_log_size"`
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer" mapstructure:"subscriber_buffer"`
}

// Hub fans enriched readings out to subscribers and keeps the pull state.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	mu       sync.RWMutex
	latest   map[string]telemetry.EnrichedReading
	alertLog buffer.Buffer[AlertRecord]
	subs     map[uint64]*Subscription
	nextSub  uint64
	seq      uint64
	closed   bool

	alertsEvicted atomic.Uint64
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Devices       int    `json:"devices"`
	Subscribers   int    `json:"subscribers"`
	Sequence      uint64 `json:"sequence"`
	AlertsLogged  int    `json:"alerts_logged"`
	AlertsEvicted uint64 `json:"alerts_evicted"`
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a hub. With a non-nil registry the hub records subscriber and
// publish metrics and exports the alert log statistics. The error comes from
// metrics registration only.
func New(cfg Config, registry *metric.MetricsRegistry, opts ...Option) (*Hub, error) {
	if cfg.AlertLogSize <= 0 {
		cfg.AlertLogSize = DefaultAlertLogSize
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = DefaultSubscriberBuffer
	}

	h := &Hub{
		cfg:    cfg,
		logger: slog.Default(),
		latest: make(map[string]telemetry.EnrichedReading),
		subs:   make(map[uint64]*Subscription),
	}
	if registry != nil {
		h.metrics = registry.CoreMetrics()
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub")

	log, err := buffer.NewCircularBuffer[AlertRecord](cfg.AlertLogSize,
		buffer.WithMetrics[AlertRecord](registry, "alert_log"),
		buffer.WithDropCallback[AlertRecord](h.alertEvicted))
	if err != nil {
		return nil, err
	}
	h.alertLog = log

	return h, nil
}

// Publish records e as its device's latest reading, logs its alerts and
// notifies subscribers: a reading event, then an alert event when e carries
// alerts. Publish never blocks on a subscriber.
func (h *Hub) Publish(e telemetry.EnrichedReading) {
	e = e.Clone()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.latest[e.DeviceID] = e

	var record *AlertRecord
	if e.HasAlerts() {
		record = &AlertRecord{
			DeviceID:  e.DeviceID,
			ReadingID: e.ID,
			Alerts:    e.Alerts,
			Timestamp: e.Timestamp,
		}
		_ = h.alertLog.Write(*record)
	}

	h.seq++
	h.broadcastLocked(Event{Type: EventReading, Seq: h.seq, Reading: &e})
	if record != nil {
		h.seq++
		h.broadcastLocked(Event{Type: EventAlert, Seq: h.seq, Alert: record})
	}

	h.metrics.RecordHubPublish()
}

// alertEvicted runs with h.mu held, from the alert log write in Publish.
func (h *Hub) alertEvicted(rec AlertRecord) {
	n := h.alertsEvicted.Add(1)
	h.logger.Debug("Alert log full, evicting oldest alert",
		"device_id", rec.DeviceID, "reading_id", rec.ReadingID, "evicted_total", n)
}

func (h *Hub) broadcastLocked(ev Event) {
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(h.subs, id)
			sub.end(ErrSlowSubscriber)
			h.metrics.RecordSubscriberDropped()
			h.logger.Warn("Dropping slow subscriber", "subscriber", id, "buffer", cap(sub.ch))
		}
	}
	h.metrics.RecordSubscribers(len(h.subs))
}

// Subscribe registers a push subscriber. bufferSize <= 0 uses the configured
// default. The returned subscription carries the snapshot at registration
// time; its event stream starts with the first publish after it.
func (h *Hub) Subscribe(bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = h.cfg.SubscriberBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSub++
	sub := &Subscription{
		id:       h.nextSub,
		hub:      h,
		ch:       make(chan Event, bufferSize),
		snapshot: h.snapshotLocked(),
		seq:      h.seq,
		done:     make(chan struct{}),
	}

	if h.closed {
		sub.end(ErrHubClosed)
		return sub
	}

	h.subs[sub.id] = sub
	h.metrics.RecordSubscribers(len(h.subs))
	h.logger.Debug("Subscriber registered", "subscriber", sub.id, "snapshot_devices", len(sub.snapshot))
	return sub
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		sub.end(nil)
		h.metrics.RecordSubscribers(len(h.subs))
	}
}

// Snapshot returns the latest reading of every device, sorted by device id.
func (h *Hub) Snapshot() []telemetry.EnrichedReading {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLocked()
}

func (h *Hub) snapshotLocked() []telemetry.EnrichedReading {
	out := make([]telemetry.EnrichedReading, 0, len(h.latest))
	for _, e := range h.latest {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Latest returns the latest reading of one device.
func (h *Hub) Latest(deviceID string) (telemetry.EnrichedReading, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[deviceID]
	if !ok {
		return telemetry.EnrichedReading{}, false
	}
	return e.Clone(), true
}

// RecentAlerts returns up to limit alert records, newest first. limit <= 0
// returns the whole log.
func (h *Hub) RecentAlerts(limit int) []AlertRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	records := h.alertLog.Recent(limit)
	for i := range records {
		records[i].Alerts = append([]telemetry.Alert(nil), records[i].Alerts...)
	}
	return records
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Sequence returns the sequence number of the last event published.
func (h *Hub) Sequence() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Stats returns the hub's current counts.
func (h *Hub) Stats() Stats {
	return Stats{
		Devices:       h.Devices(),
		Subscribers:   h.Subscribers(),
		Sequence:      h.Sequence(),
		AlertsLogged:  h.alertLog.Size(),
		AlertsEvicted: h.alertsEvicted.Load(),
	}
}

// Devices returns the number of devices with a latest reading.
func (h *Hub) Devices() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.latest)
}

// Close ends every subscription and ignores later publishes. Pull reads keep
// working.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.end(ErrHubClosed)
	}
	h.metrics.RecordSubscribers(0)
}
