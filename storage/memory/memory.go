// Package memory is an in-process storage backend holding the most recent
// readings of each device.
package memory

import (
	"context"
	"sync"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/pkg/buffer"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/telemetry"
)

// DefaultPerDevice is how many readings are kept per device.
const DefaultPerDevice = 1000

// Store keeps a ring of readings per device. Older readings are evicted.
type Store struct {
	perDevice int

	mu      sync.RWMutex
	devices map[string]buffer.Buffer[telemetry.EnrichedReading]
	closed  bool
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Counter = (*Store)(nil)
)

// New creates a store keeping perDevice readings per device. Values below 1
// use DefaultPerDevice.
func New(perDevice int) *Store {
	if perDevice <= 0 {
		perDevice = DefaultPerDevice
	}
	return &Store{
		perDevice: perDevice,
		devices:   make(map[string]buffer.Buffer[telemetry.EnrichedReading]),
	}
}

// Insert stores a copy of e under a new id.
func (s *Store) Insert(ctx context.Context, e telemetry.EnrichedReading) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", storage.PersistError(err, "MemoryStore", "Insert", "check context")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errors.WrapTransient(errors.ErrStorageUnavailable, "MemoryStore", "Insert", "write reading")
	}

	ring, ok := s.devices[e.DeviceID]
	if !ok {
		ring, _ = buffer.NewCircularBuffer[telemetry.EnrichedReading](s.perDevice)
		s.devices[e.DeviceID] = ring
	}

	stored := e.Clone()
	stored.ID = storage.NewID()
	if err := ring.Write(stored); err != nil {
		return "", storage.PersistError(err, "MemoryStore", "Insert", "write reading")
	}
	return stored.ID, nil
}

// Recent returns up to limit readings, newest first.
func (s *Store) Recent(ctx context.Context, deviceID string, limit int) ([]telemetry.EnrichedReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.PersistError(err, "MemoryStore", "Recent", "check context")
	}

	s.mu.RLock()
	ring, ok := s.devices[deviceID]
	s.mu.RUnlock()
	if !ok || limit <= 0 {
		return []telemetry.EnrichedReading{}, nil
	}

	out := ring.Recent(limit)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStorageUnavailable
	}
	return nil
}

// Close makes further inserts fail.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Count returns the number of readings held per device.
func (s *Store) Count(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.PersistError(err, "MemoryStore", "Count", "check context")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.devices))
	for device, ring := range s.devices {
		counts[device] = ring.Size()
	}
	return counts, nil
}
