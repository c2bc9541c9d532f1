// Package broker turns a pub/sub subscription into a stream of decoded
// readings and owns the connection lifecycle.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pkg/retry"
	"github.com/c360/sensorstream/telemetry"
)

const component = "Connector"

// Handler takes ownership of a decoded reading. A nil error means the
// reading was accepted and its message may be acknowledged.
type Handler func(ctx context.Context, r telemetry.Reading) error

// ReconnectConfig is the backoff schedule between connection attempts.
type ReconnectConfig struct {
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`
	Jitter       bool          `json:"jitter" yaml:"jitter" mapstructure:"jitter"`
}

// DefaultReconnectConfig starts at 1s and caps at 30s.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

func (rc ReconnectConfig) backoff() *retry.Backoff {
	return retry.NewBackoff(retry.Config{
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.Multiplier,
		AddJitter:    rc.Jitter,
	})
}

// Config configures a Connector.
type Config struct {
	Topic          string          `json:"topic" yaml:"topic" mapstructure:"topic"`
	ConnectTimeout time.Duration   `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	Reconnect      ReconnectConfig `json:"reconnect" yaml:"reconnect" mapstructure:"reconnect"`
	// DecodeLogRate limits decode-failure log lines per second.
	DecodeLogRate float64 `json:"decode_log_rate" yaml:"decode_log_rate" mapstructure:"decode_log_rate"`
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the connector logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records connector metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Connector) {
		if registry != nil {
			c.metrics = registry.CoreMetrics()
		}
	}
}

// Connector subscribes to one topic, decodes every message and hands valid
// readings to the handler. It reconnects with backoff for as long as it runs.
type Connector struct {
	cfg       Config
	transport Transport
	decoder   *telemetry.Decoder
	handler   Handler
	logger    *slog.Logger
	metrics   *metric.Metrics
	limiter   *rate.Limiter

	sm stateMachine

	// intakeClosed is set when Run returns. Deliveries that arrive before
	// Close are refused and left unacknowledged.
	intakeClosed atomic.Bool

	mu      sync.Mutex
	running bool
}

// New creates a connector. It does not dial; call Run.
func New(cfg Config, transport Transport, decoder *telemetry.Decoder, handler Handler, opts ...Option) (*Connector, error) {
	if cfg.Topic == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, component, "New", "check topic")
	}
	if transport == nil || decoder == nil || handler == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, component, "New", "check dependencies")
	}

	def := DefaultReconnectConfig()
	if cfg.Reconnect.InitialDelay <= 0 {
		cfg.Reconnect.InitialDelay = def.InitialDelay
	}
	if cfg.Reconnect.MaxDelay <= 0 {
		cfg.Reconnect.MaxDelay = def.MaxDelay
	}
	if cfg.Reconnect.Multiplier <= 1 {
		cfg.Reconnect.Multiplier = def.Multiplier
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.DecodeLogRate <= 0 {
		cfg.DecodeLogRate = 1
	}

	c := &Connector{
		cfg:       cfg,
		transport: transport,
		decoder:   decoder,
		handler:   handler,
		logger:    slog.Default(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.DecodeLogRate), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "connector", "topic", cfg.Topic)

	return c, nil
}

// Status returns the connection state and counters without blocking.
func (c *Connector) Status() Status {
	return c.sm.status()
}

// Run connects, subscribes and keeps the subscription alive until ctx is
// done. Connection failures are retried forever. Once ctx is cancelled Run
// stops accepting messages and returns nil; the connection stays open until
// Close so messages already handed off can finish.
func (c *Connector) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, component, "Run", "start connector")
	}
	c.running = true
	c.mu.Unlock()
	c.intakeClosed.Store(false)

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	backoff := c.cfg.Reconnect.backoff()
	connectedOnce := false

	for {
		if ctx.Err() != nil {
			return c.shutdown()
		}

		c.transition(Connecting)
		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return c.shutdown()
			}
			c.sm.fail(err)
			c.transition(Disconnected)
			c.closeTransport()

			delay := backoff.Next()
			c.logger.Warn("Broker connection failed, retrying",
				"attempt", backoff.Attempts(), "retry_in", delay, "error", err)
			if retry.Sleep(ctx, delay) != nil {
				return c.shutdown()
			}
			continue
		}

		if connectedOnce {
			c.sm.reconnects.Add(1)
			c.metrics.RecordBrokerReconnect()
		}
		connectedOnce = true
		backoff.Reset()
		c.transition(Connected)

		select {
		case <-ctx.Done():
			return c.shutdown()
		case err := <-c.transport.Lost():
			if err == nil {
				err = errors.ErrConnectionLost
			}
			err = errors.WrapTransient(err, component, "Run", "hold connection")
			c.sm.fail(err)
			c.transition(Disconnected)
			c.closeTransport()

			delay := backoff.Next()
			c.logger.Warn("Broker connection lost, reconnecting", "retry_in", delay, "error", err)
			if retry.Sleep(ctx, delay) != nil {
				return c.shutdown()
			}
		}
	}
}

func (c *Connector) connect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.transport.Connect(connectCtx); err != nil {
		return errors.WrapTransient(err, component, "connect", "dial broker")
	}

	// Deliveries use the Run context so a blocked handoff is abandoned,
	// and its message left unacknowledged, on shutdown.
	if err := c.transport.Subscribe(connectCtx, c.cfg.Topic, func(d Delivery) {
		c.deliver(ctx, d)
	}); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrSubscriptionFailed, err),
			component, "connect", "subscribe")
	}
	return nil
}

func (c *Connector) transition(s State) {
	prev := c.sm.set(s)
	if prev == s {
		return
	}
	c.metrics.RecordBrokerStatus(s == Connected)
	c.logger.Info("Broker connection state changed", "from", prev.String(), "to", s.String())
}

func (c *Connector) closeTransport() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.transport.Close(ctx); err != nil {
		c.logger.Debug("Transport close failed", "error", err)
	}
}

func (c *Connector) shutdown() error {
	c.intakeClosed.Store(true)
	c.logger.Info("Connector stopped accepting messages")
	return nil
}

// Close releases the transport. Call it once Run has returned and the
// readings it handed off have been drained; Close is safe to call more than
// once.
func (c *Connector) Close(ctx context.Context) error {
	c.intakeClosed.Store(true)
	err := c.transport.Close(ctx)
	c.transition(Disconnected)
	if err != nil {
		return errors.WrapTransient(err, component, "Close", "release transport")
	}
	return nil
}

// deliver handles one broker message. Malformed payloads are acknowledged
// and dropped; valid ones are acknowledged once the handler accepted them.
func (c *Connector) deliver(ctx context.Context, d Delivery) {
	if c.intakeClosed.Load() {
		return
	}
	c.sm.received.Add(1)
	c.metrics.RecordReceived()

	r, err := c.decoder.Decode(d.Data)
	if err != nil {
		c.sm.dropped.Add(1)
		c.metrics.RecordDropped("decode")
		if c.limiter.Allow() {
			c.logger.Warn("Dropping malformed message",
				"bytes", len(d.Data), "error", err)
		}
		c.ack(d)
		return
	}

	if err := c.handler(ctx, r); err != nil {
		c.metrics.RecordDropped("handoff")
		c.logger.Warn("Reading not accepted, leaving message for redelivery",
			"device_id", r.DeviceID, "error", err)
		return
	}
	c.ack(d)
}

func (c *Connector) ack(d Delivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(); err != nil {
		c.logger.Debug("Ack failed", "error", err)
	}
}
