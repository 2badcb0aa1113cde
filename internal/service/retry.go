package service

import (
	"context"
	"errors"
	"time"

	"sweepstakes-wallet/internal/core/ports"
	"sweepstakes-wallet/pkg/apperror"

	"github.com/cenkalti/backoff/v4"
)

// retryPolicy retries transient failures with exponential backoff and jitter.
type retryPolicy struct {
	attempts int
	base     time.Duration
}

// do runs fn until it succeeds, fails permanently or attempts run out.
// Permanent and exhausted errors are returned unchanged; a context that ends
// while waiting yields its own error.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))
}

// backOff doubles the wait from base on every retry, +/- 50% jitter.
func (p retryPolicy) backOff(ctx context.Context) backoff.BackOff {
	retries := 0
	if p.attempts > 1 {
		retries = p.attempts - 1
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.base > 0 {
		b = backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(p.base),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0.5),
			backoff.WithMaxInterval(p.base<<10),
			backoff.WithMaxElapsedTime(0),
		)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retryable reports whether err is transient. Business errors and context
// cancellation are final.
func retryable(err error) bool {
	if errors.Is(err, ports.ErrVersionConflict) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	_, isAppErr := apperror.As(err)
	return !isAppErr
}
