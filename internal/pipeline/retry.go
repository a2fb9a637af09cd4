package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryOnce runs fn and, when it fails with a *TransientFetchError, runs it
// exactly one more time after delay. Other errors are returned immediately.
func retryOnce[T any](ctx context.Context, delay time.Duration, fn func() (T, error)) (T, error) {
	op := func() (T, error) {
		v, err := fn()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxTries(2),
	)
}
