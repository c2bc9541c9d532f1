// Package engine runs the evaluate, persist and publish stages for every
// decoded reading.
//
// # Architecture
//
//	┌─────────────┐  Handle   ┌──────────────────────┐
//	│  Connector  │ ────────> │ Coordinator          │
//	└─────────────┘           │  keyed worker pool   │
//	                          │  (shard = device_id) │
//	                          └──────────┬───────────┘
//	                                     │ one goroutine per shard
//	                                     ▼
//	             threshold.Evaluate -> anomaly.Detect -> Store.Insert -> Hub.Publish
//
// Readings of one device always land on the same shard, so a device's
// readings are evaluated, persisted and published in arrival order. Readings
// of different devices proceed in parallel.
//
// # Backpressure
//
// Handle blocks while the device's shard queue is full. Readings are queued,
// never silently dropped; a caller that gives up (cancelled context) gets an
// error and must not acknowledge the message.
//
// # Persistence failures
//
// Store writes are retried with bounded exponential backoff for transient
// errors. A reading that still cannot be stored is logged, counted and not
// published: the hub only ever shows persisted readings.
//
// # Shutdown
//
// Stop rejects new readings and waits for every queued reading to go through
// persist and publish before returning.
package engine
