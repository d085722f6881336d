package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), RetryPolicy{Attempts: 3, Backoff: time.Millisecond}, "op",
		func(context.Context) error {
			calls++
			return nil
		})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRecoversAfterFailure(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), RetryPolicy{Attempts: 3, Backoff: time.Millisecond}, "op",
		func(context.Context) error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(t.Context(), RetryPolicy{Attempts: 2, Backoff: time.Millisecond}, "op",
		func(context.Context) error {
			calls++
			return errBoom
		})
	if !errors.Is(err, errBoom) {
		t.Errorf("want errBoom, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryAttemptTimeout(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	err := Retry(t.Context(), RetryPolicy{Attempts: 1, AttemptTimeout: 20 * time.Second}, "op",
		func(ctx context.Context) error {
			deadline, hasDeadline = ctx.Deadline()
			return nil
		})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !hasDeadline {
		t.Fatal("attempt context has no deadline")
	}
	if remaining := time.Until(deadline); remaining > 20*time.Second || remaining < 19*time.Second {
		t.Errorf("attempt deadline %v away, want about 20s", remaining)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 5, Backoff: time.Minute}, "op",
		func(context.Context) error {
			calls++
			cancel()
			return errBoom
		})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancellation)", calls)
	}
}
