// Package mqttclient is the MQTT transport for the ingestion connector.
package mqttclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/input/broker"
)

// ErrNotConnected is returned by operations that need a live session.
var ErrNotConnected = fmt.Errorf("not connected to MQTT broker: %w", errors.ErrNoConnection)

// Config configures the MQTT session.
type Config struct {
	URL      string `json:"url" yaml:"url" mapstructure:"url"`
	ClientID string `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"-" yaml:"-" mapstructure:"password"`
	QoS      byte   `json:"qos" yaml:"qos" mapstructure:"qos"`
	// CleanSession false keeps the subscription and queued QoS 1 messages
	// on the broker while the client is away.
	CleanSession   bool          `json:"clean_session" yaml:"clean_session" mapstructure:"clean_session"`
	KeepAlive      time.Duration `json:"keep_alive" yaml:"keep_alive" mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// DefaultConfig returns an at-least-once session configuration.
func DefaultConfig() Config {
	return Config{
		URL:            "tcp://localhost:1883",
		ClientID:       "sensorstream",
		QoS:            1,
		CleanSession:   false,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithTLS sets the TLS configuration. A nil config leaves TLS off.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client is a paho-based broker.Transport. Paho's auto-reconnect is off:
// a dropped connection is reported on Lost and the caller dials again.
// Messages are acknowledged only when the delivery's Ack is called.
type Client struct {
	cfg       Config
	tlsConfig *tls.Config
	logger    *slog.Logger

	mu      sync.RWMutex
	client  mqtt.Client
	handler broker.DeliveryHandler

	generation atomic.Uint64
	closing    atomic.Bool
	lost       chan error
}

var _ broker.Transport = (*Client)(nil)

// New validates cfg and creates a disconnected client.
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.URL == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "MQTTClient", "New", "check broker url")
	}
	if cfg.QoS > 2 {
		return nil, errors.WrapFatal(fmt.Errorf("%w: qos %d", errors.ErrInvalidConfig, cfg.QoS),
			"MQTTClient", "New", "check qos")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = def.ClientID
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}

	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
		lost:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "mqtt", "client_id", cfg.ClientID)

	return c, nil
}

func (c *Client) clientOptions(gen uint64) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.URL).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(c.cfg.CleanSession).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetAutoAckDisabled(true).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetDefaultPublishHandler(c.onMessage).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.handleLost(gen, err)
		})

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.tlsConfig != nil {
		opts.SetTLSConfig(c.tlsConfig)
	}
	return opts
}

// Connect opens a session. With CleanSession false the broker resumes the
// previous session and starts sending queued messages right away; they are
// routed to the last registered handler.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.lost:
	default:
	}

	gen := c.generation.Add(1)
	c.closing.Store(false)

	client := mqtt.NewClient(c.clientOptions(gen))
	c.logger.Info("Connecting to MQTT broker", "url", c.cfg.URL)

	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return errors.WrapTransient(err, "MQTTClient", "Connect", "establish session")
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	c.logger.Info("Connected to MQTT broker", "url", c.cfg.URL, "clean_session", c.cfg.CleanSession)
	return nil
}

// Subscribe registers h and subscribes to topic at the configured QoS.
func (c *Client) Subscribe(ctx context.Context, topic string, h broker.DeliveryHandler) error {
	c.mu.Lock()
	client := c.client
	c.handler = h
	c.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	if err := wait(ctx, client.Subscribe(topic, c.cfg.QoS, c.onMessage)); err != nil {
		return errors.WrapTransient(err, "MQTTClient", "Subscribe", fmt.Sprintf("subscribe %s", topic))
	}

	c.logger.Info("Subscribed", "topic", topic, "qos", c.cfg.QoS)
	return nil
}

func (c *Client) onMessage(_ mqtt.Client, m mqtt.Message) {
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()

	// Without a handler the message stays unacknowledged and the broker
	// redelivers it on the next session.
	if h == nil {
		return
	}

	h(broker.Delivery{
		Data: m.Payload(),
		Ack: func() error {
			m.Ack()
			return nil
		},
	})
}

// Lost reports dropped sessions.
func (c *Client) Lost() <-chan error {
	return c.lost
}

// Publish sends data on topic at the configured QoS.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	if err := wait(ctx, client.Publish(topic, c.cfg.QoS, false, data)); err != nil {
		return errors.WrapTransient(err, "MQTTClient", "Publish", fmt.Sprintf("publish %s", topic))
	}
	return nil
}

// Close disconnects, giving in-flight work up to 250ms to complete.
func (c *Client) Close(context.Context) error {
	c.closing.Store(true)

	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		c.logger.Info("Disconnected from MQTT broker")
	}
	return nil
}

// IsConnected reports whether the session is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

func (c *Client) handleLost(gen uint64, err error) {
	if c.closing.Load() || gen != c.generation.Load() {
		return
	}
	if err == nil {
		err = errors.ErrConnectionLost
	}
	c.logger.Warn("MQTT connection lost", "error", err)

	select {
	case c.lost <- err:
	default:
	}
}

// wait blocks until t completes or ctx is done.
func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
