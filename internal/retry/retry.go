// Package retry re-runs an operation with exponential backoff while a
// classifier reports its error as retryable.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   50 * time.Millisecond,
	MaxDelay:    time.Second,
}

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Hook observes a failed attempt that is about to be retried.
type Hook func(attempt int, err error, wait time.Duration)

// Do calls fn until it succeeds, returns an error the classifier rejects,
// the attempt budget runs out, or ctx is done. The last error is returned.
func Do[T any](ctx context.Context, p Policy, retryable Classifier, onRetry Hook, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p = DefaultPolicy
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if retryable == nil || !retryable(err) || attempt == p.MaxAttempts {
			break
		}

		wait := p.backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// backoff returns full-jitter exponential delay for the given attempt (1-based).
func (p Policy) backoff(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d/2+1)
}
