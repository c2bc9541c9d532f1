package testutil

import (
	"context"
	"sync"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/storage/memory"
	"github.com/c360/sensorstream/telemetry"
)

// FakeStore wraps the memory store with failure injection.
type FakeStore struct {
	*memory.Store

	mu       sync.Mutex
	failures int
	failAll  bool
	err      error
	inserts  int
}

var _ storage.Store = (*FakeStore)(nil)

// NewFakeStore returns a store that succeeds until told otherwise.
func NewFakeStore() *FakeStore {
	return &FakeStore{Store: memory.New(0)}
}

// FailNext makes the next n inserts fail with a transient error.
func (s *FakeStore) FailNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

// FailAlways makes every insert fail with err, or with a transient error
// when err is nil, until Heal.
func (s *FakeStore) FailAlways(err error) {
	s.mu.Lock()
	s.failAll = true
	s.err = err
	s.mu.Unlock()
}

// Heal clears injected failures.
func (s *FakeStore) Heal() {
	s.mu.Lock()
	s.failAll = false
	s.failures = 0
	s.err = nil
	s.mu.Unlock()
}

// Inserts returns how many times Insert was called.
func (s *FakeStore) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// Insert fails when a failure is pending, otherwise stores e.
func (s *FakeStore) Insert(ctx context.Context, e telemetry.EnrichedReading) (string, error) {
	s.mu.Lock()
	s.inserts++
	var err error
	switch {
	case s.failAll && s.err != nil:
		err = s.err
	case s.failAll || s.failures > 0:
		if s.failures > 0 {
			s.failures--
		}
		err = errors.WrapTransient(errors.ErrStorageUnavailable, "FakeStore", "Insert", "write reading")
	}
	s.mu.Unlock()

	if err != nil {
		return "", err
	}
	return s.Store.Insert(ctx, e)
}
