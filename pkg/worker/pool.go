// Package worker provides a keyed worker pool: items with the same key are
// processed one at a time in submission order, items with different keys
// run in parallel.
package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sensorstream/metric"
)

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrNilProcessor       = errors.New("worker pool needs a key and a processor")
	// ErrStopTimeout is returned by Stop when shards are still draining.
	ErrStopTimeout = errors.New("worker pool drain timed out")
)

// Pool routes each item to one of a fixed set of shards by hashing its key.
// Every shard has a bounded queue and a single goroutine, which gives
// per-key FIFO order. Submit blocks while the shard queue is full.
type Pool[T any] struct {
	shards    []chan T
	queueSize int
	key       func(T) string
	processor func(context.Context, T) error

	metrics *Metrics
	wg      sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// submitMu is held shared by senders and exclusively by Stop before the
	// shard channels are closed.
	submitMu sync.RWMutex
	stopping atomic.Bool
	quit     chan struct{}

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	waited    atomic.Int64

	metricsRegistry *metric.MetricsRegistry
	metricsPrefix   string
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	blocked        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers the pool metrics under prefix.
func WithMetricsRegistry[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a pool with shards goroutines, each with a queue of
// queueSize items. key extracts the ordering key of an item.
func NewPool[T any](shards, queueSize int, key func(T) string, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if processor == nil || key == nil {
		return nil, ErrNilProcessor
	}
	if shards <= 0 {
		shards = 8
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	p := &Pool[T]{
		shards:    make([]chan T, shards),
		queueSize: queueSize,
		key:       key,
		processor: processor,
		quit:      make(chan struct{}),
	}
	for i := range p.shards {
		p.shards[i] = make(chan T, queueSize)
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.metricsRegistry != nil && p.metricsPrefix != "" {
		if err := p.initializeMetrics(); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Pool[T]) initializeMetrics() error {
	labels := prometheus.Labels{"pool": p.metricsPrefix}
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "queue_depth",
			ConstLabels: labels, Help: "Items waiting across all shards",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "submitted_total",
			ConstLabels: labels, Help: "Items accepted into a shard queue",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "processed_total",
			ConstLabels: labels, Help: "Items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "failed_total",
			ConstLabels: labels, Help: "Items whose processor returned an error",
		}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "backpressure_total",
			ConstLabels: labels, Help: "Submits that had to wait for queue space",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: "worker", Name: "processing_duration_seconds",
			ConstLabels: labels, Help: "Time spent processing one item",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"status"}),
	}

	r, name := p.metricsRegistry, p.metricsPrefix
	if err := r.RegisterGauge(name, "queue_depth", m.queueDepth); err != nil {
		return err
	}
	if err := r.RegisterCounter(name, "submitted", m.submitted); err != nil {
		return err
	}
	if err := r.RegisterCounter(name, "processed", m.processed); err != nil {
		return err
	}
	if err := r.RegisterCounter(name, "failed", m.failed); err != nil {
		return err
	}
	if err := r.RegisterCounter(name, "backpressure", m.blocked); err != nil {
		return err
	}
	if err := r.RegisterHistogramVec(name, "processing_duration", m.processingTime); err != nil {
		return err
	}

	p.metrics = m
	return nil
}

// Submit enqueues item on its key's shard, waiting for space if the queue is
// full. It fails when ctx is done or the pool is stopping; the item is then
// not enqueued.
func (p *Pool[T]) Submit(ctx context.Context, item T) error {
	if p.stopping.Load() {
		return ErrPoolStopped
	}

	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	p.lifecycleMu.Lock()
	started := p.started
	p.lifecycleMu.Unlock()
	if !started {
		return ErrPoolNotStarted
	}
	if p.stopping.Load() {
		return ErrPoolStopped
	}

	ch := p.shards[p.shardFor(p.key(item))]

	select {
	case ch <- item:
		p.accepted()
		return nil
	default:
	}

	p.waited.Add(1)
	if p.metrics != nil {
		p.metrics.blocked.Inc()
	}

	select {
	case ch <- item:
		p.accepted()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(p.depth()))
	}
}

func (p *Pool[T]) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// Start launches one goroutine per shard. Items are processed with a context
// derived from ctx that is not cancelled with it, so queued work can finish
// during Stop.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	workCtx := context.WithoutCancel(ctx)
	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(workCtx, p.shards[i])
	}

	p.started = true
	return nil
}

// Stop rejects new submissions, releases blocked submitters, then waits up
// to timeout for every queued item to be processed.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	p.lifecycleMu.Unlock()

	p.stopping.Store(true)
	close(p.quit)

	p.submitMu.Lock()
	for _, ch := range p.shards {
		close(ch)
	}
	p.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

func (p *Pool[T]) worker(ctx context.Context, ch <-chan T) {
	defer p.wg.Done()

	for item := range ch {
		start := time.Now()
		err := p.processor(ctx, item)
		duration := time.Since(start)

		p.processed.Add(1)
		if err != nil {
			p.failed.Add(1)
		}

		if p.metrics != nil {
			p.metrics.processed.Inc()
			status := "success"
			if err != nil {
				p.metrics.failed.Inc()
				status = "error"
			}
			p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
			p.metrics.queueDepth.Set(float64(p.depth()))
		}
	}
}

func (p *Pool[T]) depth() int {
	n := 0
	for _, ch := range p.shards {
		n += len(ch)
	}
	return n
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Shards:     len(p.shards),
		QueueSize:  p.queueSize,
		QueueDepth: p.depth(),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Waited:     p.waited.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Shards     int   `json:"shards"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Waited     int64 `json:"waited"`
}
