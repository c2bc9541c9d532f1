package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/c360/sensorstream/input/broker"
)

// FakeTransport is an in-memory broker.Transport.
type FakeTransport struct {
	mu          sync.Mutex
	handler     broker.DeliveryHandler
	topic       string
	connected   bool
	connectErrs []error
	lost        chan error

	connects atomic.Int32
	closes   atomic.Int32
	acks     atomic.Int32
}

var _ broker.Transport = (*FakeTransport)(nil)

// NewFakeTransport returns a disconnected fake.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{lost: make(chan error, 1)}
}

// FailConnects makes the next len(errs) Connect calls fail with errs in order.
func (f *FakeTransport) FailConnects(errs ...error) {
	f.mu.Lock()
	f.connectErrs = append(f.connectErrs, errs...)
	f.mu.Unlock()
}

// Connect implements broker.Transport.
func (f *FakeTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.connects.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	select {
	case <-f.lost:
	default:
	}
	f.connected = true
	return nil
}

// Subscribe implements broker.Transport.
func (f *FakeTransport) Subscribe(_ context.Context, topic string, h broker.DeliveryHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("fake transport: not connected")
	}
	f.topic = topic
	f.handler = h
	return nil
}

// Lost implements broker.Transport.
func (f *FakeTransport) Lost() <-chan error {
	return f.lost
}

// Close implements broker.Transport.
func (f *FakeTransport) Close(context.Context) error {
	f.closes.Add(1)
	f.mu.Lock()
	f.connected = false
	f.handler = nil
	f.mu.Unlock()
	return nil
}

// Deliver hands data to the subscriber synchronously. It reports whether
// the transport is subscribed and whether the message was acknowledged.
func (f *FakeTransport) Deliver(data []byte) (delivered, acked bool) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false, false
	}

	var done atomic.Bool
	h(broker.Delivery{
		Data: data,
		Ack: func() error {
			done.Store(true)
			f.acks.Add(1)
			return nil
		},
	})
	return true, done.Load()
}

// Drop simulates the broker closing the connection.
func (f *FakeTransport) Drop(err error) {
	f.mu.Lock()
	f.connected = false
	f.handler = nil
	f.mu.Unlock()
	f.lost <- err
}

// Subscribed reports whether a handler is attached.
func (f *FakeTransport) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

// Topic returns the last subscribed topic.
func (f *FakeTransport) Topic() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topic
}

// Connects returns how many times Connect was called.
func (f *FakeTransport) Connects() int { return int(f.connects.Load()) }

// Closes returns how many times Close was called.
func (f *FakeTransport) Closes() int { return int(f.closes.Load()) }

// Acks returns how many messages were acknowledged.
func (f *FakeTransport) Acks() int { return int(f.acks.Load()) }
