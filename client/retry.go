package client

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	clienterrors "github.com/ai-cherry/memory-mediator/client/internal/errors"
)

// RetryPolicy bounds the retries of a synchronous call. MaxAttempts counts
// the first try; 1 disables retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second}
}

func (c *Client) withRetry(ctx context.Context, op string, idempotent bool, fn func() error) error {
	if c.retry.MaxAttempts <= 1 {
		return fn()
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retry.InitialInterval
	exp.MaxInterval = c.retry.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.retry.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !clienterrors.Retryable(err, idempotent) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		c.metrics.retries.WithLabelValues(op).Inc()
		c.log.Debug().Err(err).Str("op", op).Dur("wait", wait).Msg("retrying request")
	})
}
