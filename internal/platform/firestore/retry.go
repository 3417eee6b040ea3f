package firestore

import (
	"context"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

// RetryPolicy bounds how reads are retried on transient unavailability.
type RetryPolicy struct {
	Attempts int
	Initial  time.Duration
}

// Retry runs fn until it succeeds, fails with a non-transient error, or attempts are exhausted.
// Only idempotent reads go through Retry. Transactions rely on Firestore's own retry loop so a
// stock decrement is never replayed by the caller.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := gax.Backoff{Initial: policy.Initial, Max: 2 * time.Second, Multiplier: 2}
	if backoff.Initial <= 0 {
		backoff.Initial = 100 * time.Millisecond
	}

	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = fn(ctx)
		if err == nil || !IsUnavailable(err) || attempt >= attempts {
			return result, err
		}
		if sleepErr := gax.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return result, err
		}
	}
}
