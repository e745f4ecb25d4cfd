// Package retry provides exponential backoff retry logic for transient failures.
//
// # Overview
//
// Do runs a function until it succeeds, the attempt budget is spent, or the
// context ends. Delays grow by Multiplier up to MaxDelay, with optional
// jitter. Wrap an error with NonRetryable to stop immediately.
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Quick(): 10 attempts, 50ms-1s delay (startup, sink publishing)
//   - Bind(): 8 attempts, 5ms-50ms delay (claiming a listening port)
//   - Persistent(): 30 attempts, 200ms-10s delay
//
// # Usage
//
//	err := retry.Do(ctx, retry.Bind(), func() error {
//	    port, err := pool.Acquire()
//	    if err != nil {
//	        return retry.NonRetryable(err)
//	    }
//	    return stream.Listen(port)
//	})
package retry
