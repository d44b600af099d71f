// Package retry runs ledger reads with a bounded number of attempts and a
// linear backoff between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrMaxAttemptsExceeded wraps the last error once every attempt failed.
var ErrMaxAttemptsExceeded = errors.New("retry: max attempts exceeded")

// Policy controls how an operation is retried. The wait before attempt n+1
// is Step*n, so the default waits 1s then 2s.
type Policy struct {
	Attempts int
	Step     time.Duration

	// Retryable reports whether err is worth another attempt. Nil treats
	// every error except context cancellation as retryable.
	Retryable func(err error) bool
}

// DefaultPolicy is three attempts with a one second step.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Step: time.Second}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p Policy) retryable(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

// linear is a backoff.BackOff growing by step on every call.
type linear struct {
	step time.Duration
	n    int
}

func (l *linear) NextBackOff() time.Duration {
	l.n++
	return l.step * time.Duration(l.n)
}

func (l *linear) Reset() { l.n = 0 }

// Do calls op until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	attempt := 0
	stopped := false
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && !p.retryable(err) {
			stopped = true
			var perm *backoff.PermanentError
			if !errors.As(err, &perm) {
				err = backoff.Permanent(err)
			}
		}
		return v, err
	},
		backoff.WithBackOff(&linear{step: p.Step}),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("retrying", "op", name, "attempt", attempt, "backoff", wait, "error", err)
		}),
	)

	switch {
	case err == nil:
		if attempt > 1 {
			slog.Info("retry succeeded", "op", name, "attempt", attempt)
		}
		return v, nil
	case stopped, ctx.Err() != nil:
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return zero, perm.Err
		}
		return zero, err
	}
	return zero, fmt.Errorf("%w: %s after %d attempts: %w", ErrMaxAttemptsExceeded, name, attempts, err)
}
