// Package natsclient is the NATS JetStream transport for the connector.
package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/input/broker"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected      = fmt.Errorf("not connected to NATS: %w", errors.ErrNoConnection)
	ErrConnectionTimeout = stderrors.New("connection timeout")
)

// Client is a JetStream durable-consumer transport. It never reconnects on
// its own: a dropped connection is reported on Lost and the caller dials
// again with Connect.
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger Logger

	conn    *nats.Conn
	js      jetstream.JetStream
	consume jetstream.ConsumeContext

	// generation identifies the current connection so callbacks of a
	// replaced connection are ignored.
	generation atomic.Uint64
	closing    atomic.Bool
	lost       chan error

	pingInterval time.Duration
	timeout      time.Duration
	drainTimeout time.Duration

	username string
	password string
	token    string

	tlsConfig  *tls.Config
	clientName string

	stream       string
	createStream bool
	durable      string
	ackWait      time.Duration
	maxDeliver   int

	jsMetrics       *jetstreamMetrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	mu sync.RWMutex
}

var _ broker.Transport = (*Client)(nil)

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:             url,
		logger:          NewSlogLogger(nil),
		lost:            make(chan error, 1),
		pingInterval:    20 * time.Second,
		timeout:         5 * time.Second,
		drainTimeout:    10 * time.Second,
		stream:          "TELEMETRY",
		createStream:    true,
		durable:         "sensorstream",
		ackWait:         30 * time.Second,
		maxDeliver:      -1,
		metricsInterval: 30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.logger.Debugf("Created NATS client for %s", url)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	return m.status.Load().(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy reports whether the connection is up.
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// buildConnectionOptions builds NATS connection options for one connection
func (m *Client) buildConnectionOptions(gen uint64) []nats.Option {
	opts := []nats.Option{
		nats.NoReconnect(),
		nats.PingInterval(m.pingInterval),
		nats.MaxPingsOutstanding(2),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.handleDisconnect(gen, err)
		}),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.tlsConfig != nil {
		opts = append(opts, nats.Secure(m.tlsConfig))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}

	return opts
}

// Connect dials the server and opens a JetStream context. A loss reported
// for an earlier connection is discarded.
func (m *Client) Connect(ctx context.Context) error {
	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to NATS at %s", m.url)

	select {
	case <-m.lost:
	default:
	}

	gen := m.generation.Add(1)
	m.closing.Store(false)
	opts := m.buildConnectionOptions(gen)

	type result struct {
		conn *nats.Conn
		err  error
	}
	connectDone := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		connectDone <- result{conn, err}
	}()

	var conn *nats.Conn
	select {
	case res := <-connectDone:
		if res.err != nil {
			m.setStatus(StatusDisconnected)
			return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
		}
		conn = res.conn
	case <-ctx.Done():
		m.setStatus(StatusDisconnected)
		// The dial may still complete; close whatever it produces.
		go func() {
			if res := <-connectDone; res.conn != nil {
				res.conn.Close()
			}
		}()
		return errors.WrapTransient(fmt.Errorf("%w: %w", ErrConnectionTimeout, ctx.Err()),
			"Client", "Connect", "connection cancelled")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "open JetStream")
	}

	m.mu.Lock()
	m.conn = conn
	m.js = js
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.logger.Printf("Connected to NATS at %s", m.url)
	return nil
}

// Subscribe binds the durable consumer to subject and starts delivering.
// Messages are delivered one at a time and must be acknowledged explicitly.
func (m *Client) Subscribe(ctx context.Context, subject string, h broker.DeliveryHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() || m.js == nil {
		return ErrNotConnected
	}

	var stream jetstream.Stream
	var err error
	if m.createStream {
		stream, err = m.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     m.stream,
			Subjects: []string{subject},
			Storage:  jetstream.FileStorage,
		})
	} else {
		stream, err = m.js.Stream(ctx, m.stream)
	}
	if err != nil {
		m.jsMetrics.recordError("stream")
		return errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("bind stream %s", m.stream))
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       m.durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       m.ackWait,
		MaxDeliver:    m.maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		m.jsMetrics.recordError("create_consumer")
		return errors.WrapTransient(err, "Client", "Subscribe", fmt.Sprintf("create consumer %s", m.durable))
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		h(broker.Delivery{Data: msg.Data(), Ack: msg.Ack})
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		m.jsMetrics.recordError("consume")
		m.logger.Debugf("Consume error: %v", err)
	}))
	if err != nil {
		m.jsMetrics.recordError("consume")
		return errors.WrapTransient(err, "Client", "Subscribe", "start consuming")
	}

	if m.consume != nil {
		m.consume.Stop()
	}
	m.consume = cc

	m.jsMetrics.track(stream, consumer)
	if m.metricsCancel == nil {
		m.metricsCancel = m.jsMetrics.startPoller(context.Background(), m.metricsInterval)
	}

	m.logger.Printf("Consuming %s from stream %s as %s", subject, m.stream, m.durable)
	return nil
}

// Lost reports dropped connections.
func (m *Client) Lost() <-chan error {
	return m.lost
}

// Publish stores data on subject in JetStream and waits for the server ack.
func (m *Client) Publish(ctx context.Context, subject string, data []byte) error {
	m.mu.RLock()
	js := m.js
	m.mu.RUnlock()

	if js == nil || m.Status() != StatusConnected {
		return ErrNotConnected
	}

	if _, err := js.Publish(ctx, subject, data); err != nil {
		m.jsMetrics.recordError("publish")
		return errors.WrapTransient(err, "Client", "Publish", "publish to stream")
	}
	return nil
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}

	return conn.RTT()
}

// Close stops consuming and drains the connection. Unacknowledged messages
// stay with the durable consumer for the next connection.
func (m *Client) Close(ctx context.Context) error {
	m.closing.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.metricsCancel != nil {
		m.metricsCancel()
		m.metricsCancel = nil
	}

	if m.consume != nil {
		m.consume.Stop()
		m.consume = nil
	}

	var closeErr error
	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		if m.conn.IsConnected() {
			drainDone := make(chan error, 1)
			conn := m.conn
			go func() {
				drainDone <- conn.Drain()
			}()

			select {
			case err := <-drainDone:
				if err != nil {
					closeErr = errors.Wrap(err, "Client", "Close", "drain connection")
				}
			case <-time.After(drainTimeout):
				closeErr = errors.WrapTransient(fmt.Errorf("drain timeout after %v", drainTimeout),
					"Client", "Close", "drain timeout")
			case <-ctx.Done():
				closeErr = errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain")
			}
		}

		m.conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.setStatus(StatusDisconnected)
	if closeErr != nil {
		m.logger.Errorf("Close: %v", closeErr)
	}
	return closeErr
}

func (m *Client) handleDisconnect(gen uint64, err error) {
	if m.closing.Load() || gen != m.generation.Load() {
		return
	}
	m.setStatus(StatusDisconnected)
	if err == nil {
		err = nats.ErrConnectionClosed
	}
	m.logger.Errorf("NATS connection lost: %v", err)

	select {
	case m.lost <- err:
	default:
	}
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Errorf("NATS error: %v", err)
}
