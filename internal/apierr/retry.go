package apierr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig holds retry parameters for exponential backoff.
//
// Invalid values are normalized:
//   - MaxRetries < 0 becomes 0 (single attempt)
//   - BaseDelay <= 0 becomes 1ms
//   - MaxDelay <= 0 becomes BaseDelay
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c RetryConfig) normalized() RetryConfig {
	c.MaxRetries = max(c.MaxRetries, 0)
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// retryAfterError carries a delay requested by the provider.
type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// WithRetryAfter annotates err with the delay the provider asked for
// (Retry-After header, RetryInfo detail). Non-positive delays return err
// unchanged.
func WithRetryAfter(err error, d time.Duration) error {
	if err == nil || d <= 0 {
		return err
	}
	return &retryAfterError{err: err, delay: d}
}

// RetryAfter returns the provider-requested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.delay, true
	}
	return 0, false
}

// RetryWithBackoff calls fn until it succeeds, shouldRetry rejects its
// error, or MaxRetries retries are spent. The wait doubles after each retry
// up to MaxDelay; a longer provider-requested delay is honored, capped at
// MaxDelay. The wait is abandoned when ctx is done.
func RetryWithBackoff[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func() (T, error),
	shouldRetry func(error) bool,
) (T, error) {
	cfg = cfg.normalized()

	var zero T
	delay := cfg.BaseDelay
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !shouldRetry(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			return zero, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, err)
		}

		wait := delay
		if hint, ok := RetryAfter(err); ok && hint > wait {
			wait = min(hint, cfg.MaxDelay)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
		delay = min(delay*2, cfg.MaxDelay)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
