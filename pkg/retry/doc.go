// Package retry implements exponential backoff.
//
// Do retries a bounded number of times and is used for persistence writes:
//
//	err := retry.Do(ctx, retry.Config{MaxAttempts: 4}, func() error {
//	    _, err := store.Insert(ctx, reading)
//	    return err
//	})
//
// Backoff is the open-ended schedule behind the broker reconnect loop. It
// never runs out; Reset rewinds it once a connection succeeds.
package retry
