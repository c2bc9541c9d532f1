package buffer

import (
	"github.com/c360/sensorstream/metric"
)

// Option configures a buffer.
type Option[T any] func(*bufferOptions[T])

type bufferOptions[T any] struct {
	onEvict    DropCallback[T]
	metricsReg *metric.MetricsRegistry
	ringName   string
}

// WithMetrics exports the ring's counters to registry, labelled with name.
// A nil registry or empty name is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(opts *bufferOptions[T]) {
		if registry != nil && name != "" {
			opts.metricsReg = registry
			opts.ringName = name
		}
	}
}

// WithDropCallback calls fn with every evicted item, after the ring's lock
// is released.
func WithDropCallback[T any](fn DropCallback[T]) Option[T] {
	return func(opts *bufferOptions[T]) {
		opts.onEvict = fn
	}
}

func applyOptions[T any](options ...Option[T]) *bufferOptions[T] {
	opts := &bufferOptions[T]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
