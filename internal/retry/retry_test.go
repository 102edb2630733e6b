package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func instantSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func TestDoStopsAfterSuccess(t *testing.T) {
	policy := NewPolicy(5, time.Millisecond).WithSleep(instantSleep)
	calls := 0
	err := policy.Do(context.Background(), nil, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errBoom
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := NewPolicy(3, time.Millisecond).WithSleep(instantSleep)
	calls := 0
	err := policy.Do(context.Background(), nil, func(context.Context, int) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoNonRetryableStopsImmediately(t *testing.T) {
	policy := NewPolicy(5, time.Millisecond).WithSleep(instantSleep)
	calls := 0
	err := policy.Do(context.Background(), func(error) bool { return false }, func(context.Context, int) error {
		calls++
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("unexpected error %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error must not be retried, got %d calls", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := NewPolicy(5, time.Millisecond).WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})
	err := policy.Do(ctx, nil, func(context.Context, int) error {
		return errBoom
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 3 * time.Second}
	first := policy.delayFor(1)
	if first < time.Second || first > 1250*time.Millisecond {
		t.Fatalf("first delay out of range: %v", first)
	}
	fourth := policy.delayFor(4)
	if fourth > 3750*time.Millisecond {
		t.Fatalf("delay should cap at max plus jitter: %v", fourth)
	}
}
