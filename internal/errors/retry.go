package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy describes exponential backoff between attempts.
type RetryPolicy struct {
	// Retries after the first attempt.
	Retries    int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction of each delay that is randomized, 0 to 1.
	Jitter float64
}

// DefaultRetry is used by WithRetry.
var DefaultRetry = RetryPolicy{
	Retries:    3,
	Initial:    200 * time.Millisecond,
	Max:        5 * time.Second,
	Multiplier: 2,
	Jitter:     0.2,
}

// WithRetry runs fn under DefaultRetry.
func WithRetry(ctx context.Context, fn func() error) error {
	return DefaultRetry.Do(ctx, fn)
}

// Do calls fn until it succeeds, fails with an error IsRetryable rejects,
// or runs out of retries. It returns ctx.Err() as soon as ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if fn == nil {
		return nil
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil || !IsRetryable(err) || attempt >= p.Retries {
			return err
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Delay returns the pause after the given zero-based failed attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if p.Max > 0 && d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}
	if p.Jitter > 0 {
		d -= d * p.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

// IsRetryable reports whether err, as classified by Classify, may
// succeed on a later attempt. Unclassified errors are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable
}
