// Package sensorstream is an environmental telemetry pipeline. It takes
// temperature and humidity readings from an MQTT or NATS JetStream broker,
// checks them against configured limits and each device's recent history,
// stores every reading and streams the results to dashboards.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   Broker (MQTT / NATS JetStream)    │  sensors/telemetry
//	└─────────────────────────────────────┘
//	           ↓ subscribe, ack on handoff
//	┌─────────────────────────────────────┐
//	│   Connector (input/broker)          │  Decode, validate,
//	│   reconnect with backoff            │  drop malformed
//	└─────────────────────────────────────┘
//	           ↓ telemetry.Reading
//	┌─────────────────────────────────────┐
//	│   Coordinator (engine)              │  One shard per device key:
//	│   threshold → anomaly → persist     │  per-device order kept
//	└─────────────────────────────────────┘
//	           ↓ telemetry.EnrichedReading
//	┌─────────────────────────────────────┐
//	│   Hub (hub)                         │  Latest per device,
//	│   push subscribers + pull state     │  alert log
//	└─────────────────────────────────────┘
//	     ↓ push                 ↓ pull
//	┌──────────────┐     ┌────────────────┐
//	│  WebSocket   │     │  HTTP gateway  │
//	│  /ws         │     │  /api, /health │
//	└──────────────┘     └────────────────┘
//
// A reading is published to the hub only after the store accepted it. A
// reading whose write fails after retries is logged and counted, and the
// pipeline moves on.
//
// # Packages
//
// Pipeline:
//   - telemetry: Reading, EnrichedReading, Alert and the payload decoder
//   - input/broker: the Connector and the Transport interface
//   - mqttclient, natsclient: the two Transport implementations
//   - processor/threshold: fixed-limit alert rules
//   - processor/anomaly: rolling mean and standard deviation per device
//   - engine: the Coordinator, sharded by device
//   - storage: the Store interface with memory, sqlite and dynamo backends
//   - hub: fan-out to push subscribers and the pull state
//   - output/websocket: the push endpoint
//   - gateway/http: health, pull API and metrics
//
// Support:
//   - config: layered YAML/JSON/env configuration
//   - errors: transient, invalid and fatal error classes
//   - health, metric: component health and Prometheus metrics
//   - pkg/retry, pkg/worker, pkg/buffer, pkg/timestamp, pkg/tlsutil
//   - simulator: synthetic sensors for local runs
//
// # Binary
//
//	sensorstream run --config configs/sensorstream.yaml
//	sensorstream validate --config configs/sensorstream.yaml
//	sensorstream config print
//	sensorstream simulate --devices 5 --interval 5s
//
// Every configuration key can be set from the environment with the
// SENSORSTREAM_ prefix, for example SENSORSTREAM_THRESHOLDS_TEMPERATURE=30.
//
// # Delivery
//
// Messages are acknowledged once the Coordinator has queued them, so a
// crash between the broker and the queue redelivers, and a crash after it
// may lose queued readings. Shutdown stops accepting messages first, drains
// the queues into the store and the hub, releases the broker connection and
// then closes push clients.
package sensorstream
