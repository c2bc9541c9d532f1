package broker

import "context"

// Delivery is one message received from the broker. Ack acknowledges it;
// an unacknowledged message is redelivered by the broker.
type Delivery struct {
	Data []byte
	Ack  func() error
}

// DeliveryHandler receives messages from a Transport. It is called from the
// transport's delivery goroutine; a transport does not deliver the next
// message of a subscription until the handler returns.
type DeliveryHandler func(Delivery)

// Transport is the broker client the Connector drives. Implementations must
// not reconnect on their own: a lost connection is reported on Lost and the
// Connector decides when to call Connect again.
type Transport interface {
	// Connect dials the broker. It may be called again after Close or after
	// a loss was reported, and discards losses of earlier connections.
	Connect(ctx context.Context) error

	// Subscribe starts delivering messages of topic to h.
	Subscribe(ctx context.Context, topic string, h DeliveryHandler) error

	// Lost reports connections dropped by the broker or the network.
	Lost() <-chan error

	// Close stops deliveries and releases the connection. Safe to call twice.
	Close(ctx context.Context) error
}
