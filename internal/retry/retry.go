package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy bounds repeated attempts of a fallible operation with exponential
// backoff. The zero value is unusable; construct with NewPolicy or fill the
// fields explicitly.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration
	// Multiplier grows the delay after each failure.
	Multiplier float64
	// MaxDelay caps the backoff.
	MaxDelay time.Duration

	// sleep is injectable for tests.
	sleep func(context.Context, time.Duration) error
}

// NewPolicy returns a policy with conventional backoff growth.
func NewPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// WithSleep returns a copy of the policy using the provided sleep function.
// Tests use this to avoid real delays.
func (p Policy) WithSleep(sleep func(context.Context, time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// classified non-retryable, or the context is done. The last error is
// returned on exhaustion.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if err := p.wait(ctx, attempt); err != nil {
			return err
		}
	}
	return lastErr
}

func (p Policy) wait(ctx context.Context, attempt int) error {
	delay := p.delayFor(attempt)
	if p.sleep != nil {
		return p.sleep(ctx, delay)
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// delayFor computes the backoff before attempt+1, with jitter so concurrent
// workers do not synchronize their retries.
func (p Policy) delayFor(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}

	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
	}
	if max := p.MaxDelay; max > 0 && delay > float64(max) {
		delay = float64(max)
	}
	// Up to 25% jitter.
	delay += delay * 0.25 * rand.Float64()
	return time.Duration(delay)
}
