package hub

import (
	"sync"

	"github.com/c360/sensorstream/telemetry"
)

// Subscription is one push subscriber's view of the hub.
type Subscription struct {
	id       uint64
	hub      *Hub
	ch       chan Event
	snapshot []telemetry.EnrichedReading
	seq      uint64

	once sync.Once
	done chan struct{}
	err  error
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Snapshot returns the catch-up state taken at registration.
func (s *Subscription) Snapshot() []telemetry.EnrichedReading {
	return s.snapshot
}

// Seq is the hub sequence at registration. Every event on Events has a
// larger Seq.
func (s *Subscription) Seq() uint64 {
	return s.seq
}

// Events returns the live stream. It is closed when the subscription ends;
// buffered events are still delivered first.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the subscription ended: ErrSlowSubscriber, ErrHubClosed,
// or nil after Close or while still live.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.id)
}

// end is called with the hub lock held, which is the only place ch is sent
// on, so closing here cannot race a send.
func (s *Subscription) end(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
		close(s.done)
	})
}
