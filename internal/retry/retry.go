package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls how many attempts are made and how long we wait
// between them.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultPolicy matches the send budget used across the publishers:
// three attempts with increasing backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
	}
}

// RateLimited marks an error as a rate-limit response. The attempt is
// repeated after RetryAfter (or the policy's initial delay when the
// server gave no hint) and does not escalate the backoff.
type RateLimited struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %v)", e.Err, e.RetryAfter)
	}
	return e.Err.Error()
}

func (e *RateLimited) Unwrap() error { return e.Err }

// permanentError wraps an error that must never be retried, such as a
// structurally invalid request.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs fn until it succeeds, the attempt budget is spent, or ctx is
// cancelled. Transient errors back off exponentially; rate-limit errors
// sleep for the server-suggested cooldown without consuming extra
// backoff; permanent errors return immediately.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		wait := delay
		var rl *RateLimited
		if errors.As(err, &rl) {
			wait = rl.RetryAfter
			if wait <= 0 {
				wait = policy.InitialDelay
			}
		} else {
			delay = time.Duration(float64(delay) * policy.Factor)
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", policy.MaxAttempts, lastErr)
}
