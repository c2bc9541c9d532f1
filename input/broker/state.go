package broker

import "sync/atomic"

// State is the connector's position in the connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the connector.
type Status struct {
	Connected        bool   `json:"connected"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesDropped  uint64 `json:"messages_dropped"`
	State            string `json:"state"`
	Reconnects       uint64 `json:"reconnects"`
	LastError        string `json:"last_error,omitempty"`
}

// stateMachine holds the connector counters. All fields are atomics so
// Status never waits on I/O.
type stateMachine struct {
	state      atomic.Int32
	received   atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64
	lastError  atomic.Pointer[string]
}

func (m *stateMachine) set(s State) State {
	return State(m.state.Swap(int32(s)))
}

func (m *stateMachine) current() State {
	return State(m.state.Load())
}

func (m *stateMachine) fail(err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	m.lastError.Store(&msg)
}

func (m *stateMachine) status() Status {
	s := m.current()
	st := Status{
		Connected:        s == Connected,
		MessagesReceived: m.received.Load(),
		MessagesDropped:  m.dropped.Load(),
		State:            s.String(),
		Reconnects:       m.reconnects.Load(),
	}
	if p := m.lastError.Load(); p != nil {
		st.LastError = *p
	}
	return st
}
