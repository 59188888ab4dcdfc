// Package backoff provides bounded exponential backoff with jitter for the
// OAuth exchange retry loop.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned when every retry attempt has failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy defines the backoff curve.
type Policy struct {
	BaseMillis float64
	MaxMillis  float64
	Factor     float64
	Jitter     float64
}

// DefaultPolicy matches the OAuth retry defaults: 500ms base, doubled per
// attempt, 10% jitter, capped at 5s.
func DefaultPolicy() Policy {
	return Policy{BaseMillis: 500, MaxMillis: 5000, Factor: 2, Jitter: 0.1}
}

// Delay computes the backoff duration for a 1-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64())
}

func (p Policy) delayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := p.BaseMillis * math.Pow(p.Factor, exp)
	total := math.Min(p.MaxMillis, base+base*p.Jitter*random)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// Retry runs fn up to maxAttempts times, sleeping per the policy between
// failures. The retryable predicate decides whether an error is worth
// another attempt; a non-retryable error is returned immediately. Context
// cancellation is honored between attempts.
func Retry[T any](ctx context.Context, p Policy, maxAttempts int, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn()
		if err == nil {
			return v, nil
		}
		if retryable != nil && !retryable(err) {
			return zero, err
		}
		lastErr = err

		if attempt < maxAttempts {
			timer := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return zero, errors.Join(ErrAttemptsExhausted, lastErr)
}
