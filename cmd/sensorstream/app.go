package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/sensorstream/config"
	"github.com/c360/sensorstream/engine"
	"github.com/c360/sensorstream/errors"
	httpgateway "github.com/c360/sensorstream/gateway/http"
	"github.com/c360/sensorstream/health"
	"github.com/c360/sensorstream/hub"
	"github.com/c360/sensorstream/input/broker"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/output/websocket"
	"github.com/c360/sensorstream/processor/anomaly"
	"github.com/c360/sensorstream/processor/threshold"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/telemetry"
)

const (
	// pipelineDegradedRatio marks the pipeline degraded once the queues are
	// this full.
	pipelineDegradedRatio = 0.9
	storagePingTimeout    = 2 * time.Second
	// storageCheckInterval is how often the storage check runs. /health
	// reports the latest result.
	storageCheckInterval = 15 * time.Second
)

// app owns every long-lived component of one pipeline process.
type app struct {
	logger      *slog.Logger
	registry    *metric.MetricsRegistry
	store       storage.Store
	hub         *hub.Hub
	coordinator *engine.Coordinator
	connector   *broker.Connector
	push        *websocket.Server
	monitor     *health.Monitor
	gateway     *httpgateway.Gateway
	stopPolling context.CancelFunc
}

// newApp builds the pipeline from cfg. It opens the store but dials
// nothing; Run does.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	pollCtx, stopPolling := context.WithCancel(context.WithoutCancel(ctx))
	defer func() {
		if err != nil {
			stopPolling()
		}
	}()

	a := &app{
		logger:      logger,
		registry:    metric.NewMetricsRegistry(),
		store:       store,
		stopPolling: stopPolling,
	}

	a.hub, err = hub.New(cfg.Hub, a.registry, hub.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	detector := anomaly.NewDetector(cfg.Anomaly, anomaly.WithHistory(a.store), anomaly.WithLogger(logger))
	evaluator := threshold.NewEvaluator(cfg.Thresholds)

	a.coordinator, err = engine.New(cfg.Pipeline, engine.Deps{
		Evaluator: evaluator,
		Detector:  detector,
		Store:     a.store,
		Hub:       a.hub,
		Registry:  a.registry,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	decoder, err := newDecoder(cfg.Ingest)
	if err != nil {
		return nil, err
	}

	transport, err := newBrokerClient(cfg.Broker, logger, a.registry)
	if err != nil {
		return nil, err
	}

	a.connector, err = broker.New(broker.Config{
		Topic:          cfg.Broker.Topic,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
		Reconnect:      cfg.Broker.Reconnect,
		DecodeLogRate:  cfg.Ingest.DecodeLogRate,
	}, transport, decoder, a.coordinator.Handle,
		broker.WithLogger(logger),
		broker.WithMetrics(a.registry))
	if err != nil {
		return nil, err
	}

	a.push, err = websocket.New(cfg.WebSocket, a.hub, a.connector.Status,
		websocket.WithLogger(logger),
		websocket.WithMetrics(a.registry))
	if err != nil {
		return nil, err
	}

	a.monitor = health.NewMonitor(health.WithMetrics(a.registry.CoreMetrics()))
	a.monitor.Register("broker", func() health.Status {
		return health.FromBrokerStatus("broker", a.connector.Status())
	})
	a.monitor.Register("pipeline", pipelineCheck(a.coordinator))
	a.monitor.RegisterPolled(pollCtx, "storage", storageCheckInterval, storageCheck(a.store))
	logger.Info("Health checks registered", "components", a.monitor.ListComponents())

	var registry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		registry = a.registry
	}
	a.gateway, err = httpgateway.New(cfg.HTTP, httpgateway.Deps{
		Hub:          a.hub,
		BrokerStatus: a.connector.Status,
		Health:       a.monitor,
		Push:         a.push,
		Registry:     registry,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

func newDecoder(cfg config.IngestConfig) (*telemetry.Decoder, error) {
	if cfg.SchemaFile == "" {
		return telemetry.NewDecoder()
	}
	schema, err := telemetry.LoadSchema(cfg.SchemaFile)
	if err != nil {
		return nil, err
	}
	return telemetry.NewDecoder(telemetry.WithSchema(schema))
}

// Run starts the pipeline and blocks until ctx is done or a component fails.
// Shutdown stops ingestion first, drains queued readings into the store and
// hub, closes push clients and stops the HTTP server last so /health stays
// answerable while draining.
func (a *app) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	defer func() {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Closing store failed", "error", err)
		}
	}()
	defer a.stopPolling()

	if err := a.coordinator.Start(ctx); err != nil {
		return err
	}

	httpCtx, stopHTTP := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHTTP()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.gateway.Serve(httpCtx)
	})
	g.Go(func() error {
		defer stopHTTP()
		err := a.connector.Run(gctx)
		a.shutdown(shutdownTimeout)
		return err
	})

	err := g.Wait()
	a.logger.Info("Shutdown complete")
	return err
}

func (a *app) shutdown(timeout time.Duration) {
	a.logger.Info("Shutting down", "timeout", timeout)

	if err := a.coordinator.Stop(timeout); err != nil {
		a.logger.Warn("Pipeline did not drain in time", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.connector.Close(ctx); err != nil {
		a.logger.Warn("Closing broker connection failed", "error", err)
	}

	a.hub.Close()
	if err := a.push.Shutdown(ctx); err != nil {
		a.logger.Warn("Push clients did not close in time", "error", err)
	}
}

func pipelineCheck(c *engine.Coordinator) health.CheckFunc {
	return func() health.Status {
		stats := c.Stats()
		capacity := stats.Shards * stats.QueueSize
		msg := fmt.Sprintf("%d queued, %d processed, %d failed", stats.QueueDepth, stats.Processed, stats.Failed)
		if capacity > 0 && float64(stats.QueueDepth) >= pipelineDegradedRatio*float64(capacity) {
			return health.NewDegraded("pipeline", msg)
		}
		return health.NewHealthy("pipeline", msg)
	}
}

// storageCheck pings the store. Stores that count their readings add the
// totals to the message; a failed count only degrades.
func storageCheck(store storage.Store) health.CheckFunc {
	return func() health.Status {
		ctx, cancel := context.WithTimeout(context.Background(), storagePingTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return health.FromError("storage", errors.Wrap(err, "Store", "Ping", "reach backend"))
		}

		counter, ok := store.(storage.Counter)
		if !ok {
			return health.NewHealthy("storage", "Store reachable")
		}
		counts, err := counter.Count(ctx)
		if err != nil {
			return health.NewDegraded("storage", "Store reachable, count failed")
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		return health.NewHealthy("storage", fmt.Sprintf("Store reachable, %d devices, %d readings", len(counts), total))
	}
}
