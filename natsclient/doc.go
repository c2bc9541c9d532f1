// Package natsclient is the NATS JetStream transport for the ingestion
// connector.
//
// # Delivery guarantees
//
// Readings are read through a durable pull consumer with explicit acks. A
// message the pipeline has not accepted is never acknowledged, so JetStream
// redelivers it after AckWait, including across restarts of the process.
// Duplicates are possible and are processed as independent readings.
//
// # Reconnection
//
// The client dials with nats.NoReconnect. When the connection drops, the loss
// is reported on Lost and the connector's state machine decides when to call
// Connect again. Losses of an earlier connection and disconnects caused by
// Close are not reported.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithStream("TELEMETRY", true),
//	    natsclient.WithDurable("sensorstream"),
//	    natsclient.WithLogger(natsclient.NewSlogLogger(logger)),
//	    natsclient.WithMetrics(registry),
//	)
//	connector, err := broker.New(cfg, client, decoder, coordinator.Handle)
//
// # Testing
//
// NewTestClient and StartTestServer run a JetStream-enabled server with
// testcontainers. Tests that use them carry the integration build tag:
//
//	go test -tags integration ./natsclient/...
package natsclient
