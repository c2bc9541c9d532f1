// Package buffer provides a generic, thread-safe fixed-capacity ring.
//
// Rings back the per-device statistics windows, the memory store and the
// hub's alert log: each holds the last N items, evicts the oldest on
// overflow and is read without being drained.
package buffer

// Buffer is a bounded ring of items of type T.
type Buffer[T any] interface {
	// Write appends item, evicting the oldest item when the ring is full.
	Write(item T) error

	// Recent returns up to n items newest first. n <= 0 returns every item.
	Recent(n int) []T

	// Items returns every item oldest first.
	Items() []T

	// Size returns the current number of items.
	Size() int
}

// DropCallback is called with each item evicted on overflow.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a ring with the given capacity. Capacity below 1
// is raised to 1. An error is returned only when metrics registration fails.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
