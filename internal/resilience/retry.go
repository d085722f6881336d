package resilience

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds how a connection-style operation is retried. Every field
// is explicit so callers can see and tune the total worst-case latency.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first. Default: 2.
	Attempts int

	// Backoff is the pause between consecutive attempts. Default: 3s.
	Backoff time.Duration

	// AttemptTimeout caps each individual attempt. Zero or negative means
	// attempts run under the caller's context only.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy matches the dialogue connection behaviour: two attempts
// of at most 20 seconds each, separated by a 3 second pause.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 2, Backoff: 3 * time.Second, AttemptTimeout: 20 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 2
	}
	if p.Backoff <= 0 {
		p.Backoff = 3 * time.Second
	}
	if p.AttemptTimeout < 0 {
		p.AttemptTimeout = 0
	}
	return p
}

// Retry runs fn under the policy until it succeeds, the attempts are
// exhausted, or ctx is cancelled. The error of the final attempt is returned;
// cancellation during a backoff pause returns ctx.Err().
func Retry(ctx context.Context, p RetryPolicy, name string, fn func(context.Context) error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err = fn(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < p.Attempts {
			slog.Warn("attempt failed, retrying",
				"operation", name,
				"attempt", attempt,
				"backoff", p.Backoff,
				"error", err)
			select {
			case <-time.After(p.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
