package coordinator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/metrics"
)

// RetryPolicy bounds retries of durable store calls. Only
// apperr.ErrDurableUnavailable is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

func (p RetryPolicy) tries() uint {
	if p.MaxAttempts < 1 {
		return 1
	}
	return uint(p.MaxAttempts)
}

// withRetry runs op until it succeeds, fails permanently or runs out of
// attempts. op receives the 1-based attempt number.
func withRetry[T any](ctx context.Context, c *Coordinator, what string, op func(attempt int) (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(attempt)
		if err != nil && !apperr.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(c.retry.backOff()),
		backoff.WithMaxTries(c.retry.tries()),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.metrics.Incr(metrics.DurableRetries, metrics.Dimension{Name: "Operation", Value: what})
			c.log.Warn("durable store call failed, retrying",
				zap.String("operation", what),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
}
