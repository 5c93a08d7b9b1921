package changesource

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls the inline retry for transient provider errors.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// DefaultRetryPolicy retries a transient failure exactly once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, InitialInterval: 500 * time.Millisecond}
}

// Retry runs op, retrying only transient failures according to p. Any other
// error kind is returned immediately.
func Retry[T any](ctx context.Context, p RetryPolicy, name string, op func(context.Context) (T, error)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, p.MaxRetries)
	b = backoff.WithContext(b, ctx)

	attempt := 0
	var result T
	err := backoff.Retry(func() error {
		attempt++
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		if KindOf(err) != KindTransient {
			return backoff.Permanent(err)
		}
		if attempt <= int(p.MaxRetries) {
			log.Printf("changesource: %s transient failure (attempt %d): %v", name, attempt, err)
		}
		return err
	}, b)
	return result, err
}
