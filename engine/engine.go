package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/hub"
	"github.com/c360/sensorstream/metric"
	"github.com/c360/sensorstream/pkg/retry"
	"github.com/c360/sensorstream/pkg/worker"
	"github.com/c360/sensorstream/processor/anomaly"
	"github.com/c360/sensorstream/processor/threshold"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/telemetry"
)

const component = "Coordinator"

// Processing outcomes recorded by the processed counter.
const (
	StatusPublished     = "published"
	StatusPersistFailed = "persist_failed"
)

// Config sizes the coordinator.
type Config struct {
	// Workers is the number of shards. Each shard processes its readings serially.
	Workers int `json:"workers" yaml:"workers" mapstructure:"workers"`
	// QueueSize bounds each shard's queue.
	QueueSize int `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`
	// PersistTimeout bounds one store write, retries included.
	PersistTimeout time.Duration `json:"persist_timeout" yaml:"persist_timeout" mapstructure:"persist_timeout"`
	// Retry governs store writes that fail transiently.
	Retry errors.RetryConfig `json:"retry" yaml:"retry" mapstructure:"retry"`
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        8,
		QueueSize:      256,
		PersistTimeout: 10 * time.Second,
		Retry:          errors.DefaultRetryConfig(),
	}
}

// Deps are the collaborators the coordinator drives.
type Deps struct {
	Evaluator *threshold.Evaluator
	Detector  *anomaly.Detector
	Store     storage.Store
	Hub       *hub.Hub
	Registry  *metric.MetricsRegistry
	Logger    *slog.Logger
}

// Coordinator owns the per-device processing order.
type Coordinator struct {
	cfg       Config
	evaluator *threshold.Evaluator
	detector  *anomaly.Detector
	store     storage.Store
	hub       *hub.Hub
	pool      *worker.Pool[telemetry.Reading]
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// New validates deps and builds a coordinator. Start must be called before Handle.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Evaluator == nil || deps.Detector == nil || deps.Store == nil || deps.Hub == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, component, "New", "check dependencies")
	}

	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.Retry.MaxRetries <= 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = def.Retry
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		cfg:       cfg,
		evaluator: deps.Evaluator,
		detector:  deps.Detector,
		store:     deps.Store,
		hub:       deps.Hub,
		logger:    logger.With("component", "coordinator"),
	}

	var opts []worker.Option[telemetry.Reading]
	if deps.Registry != nil {
		c.metrics = deps.Registry.CoreMetrics()
		opts = append(opts, worker.WithMetricsRegistry[telemetry.Reading](deps.Registry, "pipeline"))
	}

	pool, err := worker.NewPool(cfg.Workers, cfg.QueueSize, deviceKey, c.process, opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, component, "New", "create worker pool")
	}
	c.pool = pool

	return c, nil
}

func deviceKey(r telemetry.Reading) string { return r.DeviceID }

// Start launches the shard workers.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.pool.Start(ctx); err != nil {
		if stderrors.Is(err, worker.ErrPoolAlreadyStarted) {
			return errors.WrapInvalid(errors.ErrAlreadyStarted, component, "Start", "start workers")
		}
		return errors.Wrap(err, component, "Start", "start workers")
	}
	c.logger.Info("Pipeline coordinator started", "workers", c.cfg.Workers, "queue_size", c.cfg.QueueSize)
	return nil
}

// Handle queues r behind earlier readings of the same device. It blocks
// while that queue is full and returns an error when r was not queued.
func (c *Coordinator) Handle(ctx context.Context, r telemetry.Reading) error {
	err := c.pool.Submit(ctx, r)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, worker.ErrPoolStopped):
		return errors.WrapTransient(errors.ErrShuttingDown, component, "Handle", "queue reading")
	case stderrors.Is(err, worker.ErrPoolNotStarted):
		return errors.WrapTransient(errors.ErrNotStarted, component, "Handle", "queue reading")
	default:
		return errors.Wrap(err, component, "Handle", "queue reading")
	}
}

// Stop rejects new readings and waits up to timeout for queued readings
// to be persisted and published.
func (c *Coordinator) Stop(timeout time.Duration) error {
	stats := c.pool.Stats()
	c.logger.Info("Draining pipeline", "queued", stats.QueueDepth)

	if err := c.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, component, "Stop", "drain queued readings")
	}

	stats = c.pool.Stats()
	c.logger.Info("Pipeline coordinator stopped",
		"processed", stats.Processed, "failed", stats.Failed)
	return nil
}

// Stats reports the worker pool counters.
func (c *Coordinator) Stats() worker.PoolStats {
	return c.pool.Stats()
}

// Process runs one reading through evaluate, persist and publish on the
// calling goroutine. The caller is responsible for per-device ordering.
func (c *Coordinator) Process(ctx context.Context, r telemetry.Reading) (telemetry.EnrichedReading, error) {
	start := time.Now()
	e := c.Enrich(ctx, r)
	c.metrics.RecordStageDuration("evaluate", time.Since(start))

	start = time.Now()
	id, err := c.persist(ctx, e)
	c.metrics.RecordStageDuration("persist", time.Since(start))
	if err != nil {
		c.metrics.RecordPersistFailure()
		c.metrics.RecordProcessed(StatusPersistFailed)
		return e, err
	}
	e.ID = id

	start = time.Now()
	c.hub.Publish(e)
	c.metrics.RecordStageDuration("publish", time.Since(start))
	c.metrics.RecordProcessed(StatusPublished)

	return e, nil
}

// Enrich attaches threshold alerts and, when the detector flags r, the
// anomaly alert. Threshold alerts always come first.
func (c *Coordinator) Enrich(ctx context.Context, r telemetry.Reading) telemetry.EnrichedReading {
	alerts := c.evaluator.Evaluate(r)
	isAnomaly := c.detector.Detect(ctx, r)
	if isAnomaly {
		alerts = append(alerts, telemetry.NewAnomalyAlert())
	}

	for _, a := range alerts {
		c.metrics.RecordAlert(a.Kind.String(), a.Severity.String())
	}

	return telemetry.EnrichedReading{
		Reading:   r,
		IsAnomaly: isAnomaly,
		Alerts:    alerts,
	}
}

func (c *Coordinator) persist(ctx context.Context, e telemetry.EnrichedReading) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PersistTimeout)
	defer cancel()

	attempts := 0
	id, err := retry.DoWithResult(ctx, c.cfg.Retry.ToRetryConfig(), func() (string, error) {
		retries := attempts
		attempts++
		id, err := c.store.Insert(ctx, e)
		if err != nil && !c.cfg.Retry.ShouldRetry(err, retries) {
			return "", retry.NonRetryable(err)
		}
		return id, err
	})
	if err == nil {
		return id, nil
	}

	action := fmt.Sprintf("insert reading after %d attempts", attempts)
	switch errors.Classify(err) {
	case errors.ErrorInvalid:
		return "", errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrPersistFailed, err), component, "persist", action)
	case errors.ErrorFatal:
		return "", errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrPersistFailed, err), component, "persist", action)
	}
	if errors.IsTransient(err) {
		err = fmt.Errorf("%w: %w", errors.ErrMaxRetriesExceeded, err)
	}
	return "", errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPersistFailed, err), component, "persist", action)
}

// process is the worker callback. Failures are logged and counted; the
// shard moves on to the next reading.
func (c *Coordinator) process(ctx context.Context, r telemetry.Reading) error {
	e, err := c.Process(ctx, r)
	if err != nil {
		c.logger.Error("Reading not published: persistence failed",
			"device_id", r.DeviceID,
			"timestamp", r.Timestamp,
			"alerts", len(e.Alerts),
			"error_class", errors.Classify(err).String(),
			"error", err)
		return err
	}

	if e.HasAlerts() {
		c.logger.Debug("Reading raised alerts",
			"device_id", e.DeviceID, "id", e.ID, "alerts", len(e.Alerts), "anomaly", e.IsAnomaly)
	}
	return nil
}
