// Package backoff computes exponential retry delays with jitter and runs
// retry loops that respect context cancellation.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttemptsExhausted is returned when every attempt failed.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// Policy describes an exponential backoff schedule.
type Policy struct {
	Initial time.Duration `yaml:"initial" json:"initial"`
	Max     time.Duration `yaml:"max" json:"max"`
	Factor  float64       `yaml:"factor" json:"factor"`
	// Jitter adds up to Jitter*delay of random extra wait (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// DefaultPolicy starts at 100ms, doubles, caps at 30s, with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{Initial: 100 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.1}
}

// ReadinessPolicy polls a starting backend: 250ms growing to 5s.
func ReadinessPolicy() Policy {
	return Policy{Initial: 250 * time.Millisecond, Max: 5 * time.Second, Factor: 1.6, Jitter: 0.2}
}

// Delay returns the wait before retry number attempt (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	if p.Factor < 1 {
		p.Factor = 1
	}
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	if p.Max > 0 {
		total = math.Min(float64(p.Max), total)
	}
	return time.Duration(math.Round(total/float64(time.Millisecond))) * time.Millisecond
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// NotifyFunc observes a failed attempt before the wait that follows it.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Retry calls fn until it succeeds, returns a Permanent error, ctx is done,
// or maxAttempts attempts have failed. maxAttempts <= 0 retries until ctx is
// done.
func Retry[T any](ctx context.Context, p Policy, maxAttempts int, fn func(attempt int) (T, error), notify NotifyFunc) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; maxAttempts <= 0 || attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		if maxAttempts > 0 && attempt == maxAttempts {
			break
		}
		wait := p.Delay(attempt)
		if notify != nil {
			notify(attempt, err, wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrMaxAttemptsExhausted, lastErr)
}
