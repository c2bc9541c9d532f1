package buffer

import (
	"sync"

	"github.com/c360/sensorstream/errors"
)

// circularBuffer is a mutex-guarded ring. head is the next write slot and
// tail the oldest item.
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int
	tail     int
	metrics  *ringMetrics
	onEvict  DropCallback[T]
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) (*circularBuffer[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *ringMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newRingMetrics(opts.metricsReg, opts.ringName)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "newCircularBuffer", "metrics registration")
		}
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		metrics:  metrics,
		onEvict:  opts.onEvict,
	}, nil
}

// Write appends item. The drop callback runs after the lock is released.
func (cb *circularBuffer[T]) Write(item T) error {
	evicted, didEvict := cb.write(item)
	if didEvict && cb.onEvict != nil {
		cb.onEvict(evicted)
	}
	return nil
}

func (cb *circularBuffer[T]) write(item T) (evicted T, didEvict bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.size == cb.capacity {
		evicted, didEvict = cb.items[cb.tail], true
		cb.tail = (cb.tail + 1) % cb.capacity
		cb.size--
		if cb.metrics != nil {
			cb.metrics.evicted.Inc()
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++

	if cb.metrics != nil {
		cb.metrics.appended.Inc()
		cb.metrics.length.Set(float64(cb.size))
	}
	return evicted, didEvict
}

// Recent returns up to n items, newest first.
func (cb *circularBuffer[T]) Recent(n int) []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if n <= 0 || n > cb.size {
		n = cb.size
	}

	out := make([]T, n)
	for i := 0; i < n; i++ {
		idx := (cb.head - 1 - i + cb.capacity) % cb.capacity
		out[i] = cb.items[idx]
	}
	return out
}

// Items returns every item, oldest first.
func (cb *circularBuffer[T]) Items() []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := make([]T, cb.size)
	for i := 0; i < cb.size; i++ {
		out[i] = cb.items[(cb.tail+i)%cb.capacity]
	}
	return out
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}
