// Package worker provides a keyed worker pool with per-key ordering.
//
// Items are routed to a shard by an FNV-1a hash of their key. Each shard owns
// a bounded queue and exactly one goroutine, so two items with the same key
// are never processed concurrently and are processed in the order they were
// submitted. Items with different keys usually land on different shards and
// run in parallel.
//
// # Backpressure
//
// Submit never drops work. When a shard queue is full the caller waits until
// space frees up, its context is cancelled, or the pool stops:
//
//	pool, err := worker.NewPool(8, 256,
//	    func(r telemetry.Reading) string { return r.DeviceID },
//	    process,
//	)
//	if err := pool.Start(ctx); err != nil { ... }
//	if err := pool.Submit(ctx, reading); err != nil {
//	    // not enqueued: leave the message unacknowledged
//	}
//
// # Shutdown
//
// Stop rejects new submissions, wakes blocked submitters with ErrPoolStopped
// and waits for every item already queued to be processed. Processors receive
// a context that is not cancelled by the Start context, so draining completes
// even after the parent context is done.
package worker
