package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/sensorstream/config"
	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/input/broker"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/mqttclient"
	"github.com/c360/sensorstream/natsclient"
	"github.com/c360/sensorstream/pkg/tlsutil"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/storage/dynamo"
	"github.com/c360/sensorstream/storage/memory"
	"github.com/c360/sensorstream/storage/sqlite"
)

// openStore opens the configured persistence backend.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case storage.BackendMemory:
		return memory.New(cfg.Memory.PerDevice), nil
	case storage.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case storage.BackendDynamo:
		store, err := dynamo.New(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.WrapFatal(fmt.Errorf("%w: unknown storage backend %q", errors.ErrInvalidConfig, cfg.Backend),
			"main", "openStore", "select backend")
	}
}

// brokerClient is what both the pipeline and the simulator need from a
// broker: the Connector's transport plus publishing.
type brokerClient interface {
	broker.Transport
	Publish(ctx context.Context, topic string, data []byte) error
}

// newBrokerClient builds the configured transport. registry may be nil.
func newBrokerClient(cfg config.BrokerConfig, logger *slog.Logger, registry *metric.MetricsRegistry) (brokerClient, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case config.TransportMQTT:
		client, err := mqttclient.New(mqttclient.Config{
			URL:            cfg.URL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            byte(cfg.MQTT.QoS),
			CleanSession:   cfg.MQTT.CleanSession,
			KeepAlive:      cfg.MQTT.KeepAlive,
			ConnectTimeout: cfg.ConnectTimeout,
		}, mqttclient.WithTLS(tlsConfig), mqttclient.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return client, nil

	case config.TransportNATS:
		opts := []natsclient.ClientOption{
			natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
			natsclient.WithName(cfg.NATS.Name),
			natsclient.WithTimeout(cfg.ConnectTimeout),
			natsclient.WithTLS(tlsConfig),
			natsclient.WithStream(cfg.NATS.Stream, cfg.NATS.CreateStream),
			natsclient.WithDurable(cfg.NATS.Durable),
			natsclient.WithAckWait(cfg.NATS.AckWait),
			natsclient.WithMaxDeliver(cfg.NATS.MaxDeliver),
			natsclient.WithMetrics(registry),
			natsclient.WithPingInterval(cfg.NATS.PingInterval),
		}
		if cfg.NATS.MetricsInterval > 0 {
			opts = append(opts, natsclient.WithMetricsInterval(cfg.NATS.MetricsInterval))
		}
		if cfg.NATS.Username != "" {
			opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
		}
		client, err := natsclient.NewClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, errors.WrapFatal(fmt.Errorf("%w: unknown transport %q", errors.ErrInvalidConfig, cfg.Transport),
			"main", "newBrokerClient", "select transport")
	}
}

// newPublisher returns a broker client for the simulator.
func newPublisher(cfg config.BrokerConfig, logger *slog.Logger) (brokerClient, error) {
	return newBrokerClient(cfg, logger, nil)
}
