package natsclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/sensorstream/metric"
)

// Logger interface for injecting custom loggers
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// slogLogger adapts a *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps l for use with WithLogger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{l: l.With("component", "nats")}
}

func (s *slogLogger) Printf(format string, v ...any) {
	s.l.Info(fmt.Sprintf(format, v...))
}

func (s *slogLogger) Errorf(format string, v ...any) {
	s.l.Error(fmt.Sprintf(format, v...))
}

func (s *slogLogger) Debugf(format string, v ...any) {
	s.l.Debug(fmt.Sprintf(format, v...))
}

// ClientOption is a functional option for configuring the Client
type ClientOption func(*Client) error

// WithLogger sets a custom logger for the client
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithCredentials sets username and password for authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets a token for authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS sets the client TLS configuration. A nil config leaves TLS off.
func WithTLS(cfg *tls.Config) ClientOption {
	return func(c *Client) error {
		c.tlsConfig = cfg
		return nil
	}
}

// WithName sets the client name for identification
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

// WithDrainTimeout sets the timeout for draining on close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.drainTimeout = d
		}
		return nil
	}
}

// WithPingInterval sets how often the server is pinged. Two missed pongs
// count as a lost connection.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.pingInterval = d
		}
		return nil
	}
}

// WithStream names the JetStream stream holding telemetry. With create set,
// the stream is created or updated to capture the subscribed subject.
func WithStream(name string, create bool) ClientOption {
	return func(c *Client) error {
		if name == "" {
			return fmt.Errorf("stream name cannot be empty")
		}
		c.stream = name
		c.createStream = create
		return nil
	}
}

// WithDurable sets the durable consumer name. Messages not acknowledged by
// a previous run are redelivered to the same durable.
func WithDurable(name string) ClientOption {
	return func(c *Client) error {
		if name == "" {
			return fmt.Errorf("durable name cannot be empty")
		}
		c.durable = name
		return nil
	}
}

// WithAckWait sets how long the server waits for an ack before redelivering.
func WithAckWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.ackWait = d
		}
		return nil
	}
}

// WithMaxDeliver caps deliveries per message; -1 means unlimited.
func WithMaxDeliver(n int) ClientOption {
	return func(c *Client) error {
		c.maxDeliver = n
		return nil
	}
}

// WithMetrics enables JetStream stream and consumer metrics.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return nil
		}

		metrics, err := newJetStreamMetrics(registry)
		if err != nil {
			return err
		}

		c.jsMetrics = metrics
		return nil
	}
}

// WithMetricsInterval sets how often stream and consumer stats are polled.
func WithMetricsInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.metricsInterval = d
		return nil
	}
}
