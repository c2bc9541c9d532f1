package config

import (
	stderrors "errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/c360/sensorstream/engine"
	"github.com/c360/sensorstream/errors"
	httpgateway "github.com/c360/sensorstream/gateway/http"
	"github.com/c360/sensorstream/hub"
	"github.com/c360/sensorstream/input/broker"
	"github.com/c360/sensorstream/output/websocket"
	"github.com/c360/sensorstream/pkg/tlsutil"
	"github.com/c360/sensorstream/processor/anomaly"
	"github.com/c360/sensorstream/processor/threshold"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/storage/dynamo"
	"github.com/c360/sensorstream/storage/memory"
)

// Transport names accepted in broker.transport.
const (
	TransportMQTT = "mqtt"
	TransportNATS = "nats"
)

// Config is the complete process configuration.
type Config struct {
	Broker     BrokerConfig       `json:"broker" yaml:"broker" mapstructure:"broker"`
	Ingest     IngestConfig       `json:"ingest" yaml:"ingest" mapstructure:"ingest"`
	Thresholds threshold.Config   `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`
	Anomaly    anomaly.Config     `json:"anomaly" yaml:"anomaly" mapstructure:"anomaly"`
	Pipeline   engine.Config      `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Storage    StorageConfig      `json:"storage" yaml:"storage" mapstructure:"storage"`
	Hub        hub.Config         `json:"hub" yaml:"hub" mapstructure:"hub"`
	HTTP       httpgateway.Config `json:"http" yaml:"http" mapstructure:"http"`
	WebSocket  websocket.Config   `json:"websocket" yaml:"websocket" mapstructure:"websocket"`
	Metrics    MetricsConfig      `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// BrokerConfig selects and configures the message transport.
type BrokerConfig struct {
	Transport      string                 `json:"transport" yaml:"transport" mapstructure:"transport"`
	URL            string                 `json:"url" yaml:"url" mapstructure:"url"`
	Topic          string                 `json:"topic" yaml:"topic" mapstructure:"topic"`
	ConnectTimeout time.Duration          `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	Reconnect      broker.ReconnectConfig `json:"reconnect" yaml:"reconnect" mapstructure:"reconnect"`
	TLS            tlsutil.ClientConfig   `json:"tls" yaml:"tls" mapstructure:"tls"`
	MQTT           MQTTConfig             `json:"mqtt" yaml:"mqtt" mapstructure:"mqtt"`
	NATS           NATSConfig             `json:"nats" yaml:"nats" mapstructure:"nats"`
}

// MQTTConfig holds the MQTT session options.
type MQTTConfig struct {
	ClientID     string        `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	Username     string        `json:"username" yaml:"username" mapstructure:"username"`
	Password     string        `json:"password" yaml:"password" mapstructure:"password"`
	QoS          int           `json:"qos" yaml:"qos" mapstructure:"qos"`
	CleanSession bool          `json:"clean_session" yaml:"clean_session" mapstructure:"clean_session"`
	KeepAlive    time.Duration `json:"keep_alive" yaml:"keep_alive" mapstructure:"keep_alive"`
}

// NATSConfig holds the JetStream consumer options.
type NATSConfig struct {
	Name         string        `json:"name" yaml:"name" mapstructure:"name"`
	Stream       string        `json:"stream" yaml:"stream" mapstructure:"stream"`
	CreateStream bool          `json:"create_stream" yaml:"create_stream" mapstructure:"create_stream"`
	Durable      string        `json:"durable" yaml:"durable" mapstructure:"durable"`
	AckWait      time.Duration `json:"ack_wait" yaml:"ack_wait" mapstructure:"ack_wait"`
	MaxDeliver   int           `json:"max_deliver" yaml:"max_deliver" mapstructure:"max_deliver"`
	Username     string        `json:"username" yaml:"username" mapstructure:"username"`
	Password     string        `json:"password" yaml:"password" mapstructure:"password"`
	Token        string        `json:"token" yaml:"token" mapstructure:"token"`
	// PingInterval and MetricsInterval keep the client defaults when zero.
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval" mapstructure:"ping_interval"`
	MetricsInterval time.Duration `json:"metrics_interval" yaml:"metrics_interval" mapstructure:"metrics_interval"`
}

// IngestConfig configures payload decoding.
type IngestConfig struct {
	// SchemaFile replaces the embedded payload schema.
	SchemaFile string `json:"schema_file" yaml:"schema_file" mapstructure:"schema_file"`
	// DecodeLogRate limits decode-failure log lines per second.
	DecodeLogRate float64 `json:"decode_log_rate" yaml:"decode_log_rate" mapstructure:"decode_log_rate"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend  string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	Memory   MemoryConfig  `json:"memory" yaml:"memory" mapstructure:"memory"`
	SQLite   SQLiteConfig  `json:"sqlite" yaml:"sqlite" mapstructure:"sqlite"`
	DynamoDB dynamo.Config `json:"dynamodb" yaml:"dynamodb" mapstructure:"dynamodb"`
}

// MemoryConfig sizes the in-memory backend.
type MemoryConfig struct {
	PerDevice int `json:"per_device" yaml:"per_device" mapstructure:"per_device"`
}

// SQLiteConfig locates the SQLite database.
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// Default returns the configuration used for every key a file or the
// environment leaves unset. Thresholds have no default.
func Default() Config {
	return Config{
		Broker: BrokerConfig{
			Transport:      TransportMQTT,
			URL:            "tcp://localhost:1883",
			Topic:          "sensors/telemetry",
			ConnectTimeout: 10 * time.Second,
			Reconnect:      broker.DefaultReconnectConfig(),
			MQTT: MQTTConfig{
				ClientID:  "sensorstream",
				QoS:       1,
				KeepAlive: 30 * time.Second,
			},
			NATS: NATSConfig{
				Name:         "sensorstream",
				Stream:       "TELEMETRY",
				CreateStream: true,
				Durable:      "sensorstream",
				AckWait:      30 * time.Second,
				MaxDeliver:   -1,
			},
		},
		Ingest: IngestConfig{
			DecodeLogRate: 1,
		},
		Anomaly: anomaly.Config{
			WindowSize: anomaly.DefaultWindowSize,
			MinSamples: anomaly.DefaultMinSamples,
			Sigma:      anomaly.DefaultSigma,
			Rehydrate:  true,
		},
		Pipeline: engine.DefaultConfig(),
		Storage: StorageConfig{
			Backend: storage.BackendMemory,
			Memory:  MemoryConfig{PerDevice: memory.DefaultPerDevice},
			SQLite:  SQLiteConfig{Path: "sensorstream.db"},
			DynamoDB: dynamo.Config{
				Table:  "sensor_readings",
				Region: "us-east-1",
			},
		},
		Hub: hub.Config{
			AlertLogSize:     hub.DefaultAlertLogSize,
			SubscriberBuffer: hub.DefaultSubscriberBuffer,
		},
		HTTP:      httpgateway.DefaultConfig(),
		WebSocket: websocket.DefaultConfig(),
		Metrics:   MetricsConfig{Enabled: true},
	}
}

// Validate checks the configuration and reports every problem at once. The
// returned error is fatal-classified and wraps errors.ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []error
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	c.Broker.Transport = strings.ToLower(c.Broker.Transport)
	switch c.Broker.Transport {
	case TransportMQTT:
		if c.Broker.MQTT.QoS < 0 || c.Broker.MQTT.QoS > 2 {
			fail("broker.mqtt.qos must be 0, 1 or 2, got %d", c.Broker.MQTT.QoS)
		}
	case TransportNATS:
		if c.Broker.NATS.Stream == "" {
			fail("broker.nats.stream is required")
		}
		if c.Broker.NATS.Durable == "" {
			fail("broker.nats.durable is required")
		}
	default:
		fail("broker.transport must be %q or %q, got %q", TransportMQTT, TransportNATS, c.Broker.Transport)
	}
	if c.Broker.URL == "" {
		fail("broker.url is required")
	}
	if c.Broker.Topic == "" {
		fail("broker.topic is required")
	}

	if c.Thresholds.Temperature == nil {
		fail("thresholds.temperature is required")
	} else if !finite(*c.Thresholds.Temperature) {
		fail("thresholds.temperature must be finite")
	}
	if c.Thresholds.Humidity == nil {
		fail("thresholds.humidity is required")
	} else if !finite(*c.Thresholds.Humidity) {
		fail("thresholds.humidity must be finite")
	}

	if c.Anomaly.WindowSize <= 0 {
		fail("anomaly.window_size must be positive")
	}
	if c.Anomaly.MinSamples <= 0 || c.Anomaly.MinSamples > c.Anomaly.WindowSize {
		fail("anomaly.min_samples must be in [1, window_size]")
	}
	if c.Anomaly.Sigma <= 0 || !finite(c.Anomaly.Sigma) {
		fail("anomaly.sigma must be positive")
	}

	if c.Pipeline.Workers <= 0 {
		fail("pipeline.workers must be positive")
	}
	if c.Pipeline.QueueSize <= 0 {
		fail("pipeline.queue_size must be positive")
	}

	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	switch c.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			fail("storage.sqlite.path is required")
		}
	case storage.BackendDynamo:
		if c.Storage.DynamoDB.Table == "" {
			fail("storage.dynamodb.table is required")
		}
	default:
		fail("storage.backend must be one of %s, got %q", strings.Join(storage.Backends(), ", "), c.Storage.Backend)
	}

	if c.Hub.AlertLogSize <= 0 {
		fail("hub.alert_log_size must be positive")
	}
	if c.Hub.SubscriberBuffer <= 0 {
		fail("hub.subscriber_buffer must be positive")
	}
	if c.HTTP.Addr == "" {
		fail("http.addr is required")
	}
	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.CertFile == "" || c.HTTP.TLS.KeyFile == "") {
		fail("http.tls requires cert_file and key_file")
	}
	if c.WebSocket.Path == "" || !strings.HasPrefix(c.WebSocket.Path, "/") {
		fail("websocket.path must start with /")
	} else if slices.Contains([]string{"/health", "/metrics"}, c.WebSocket.Path) || strings.HasPrefix(c.WebSocket.Path, "/api/") {
		fail("websocket.path %q collides with a built-in route", c.WebSocket.Path)
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(problems...)),
		"Config", "Validate", "check configuration")
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
