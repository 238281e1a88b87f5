// Package retry runs blocking oracle and index calls with a per-attempt
// timeout and capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	errx "github.com/hybridqa-core/server/internal/core/error"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

// Policy bounds one retried call.
type Policy struct {
	Attempts  int
	Timeout   time.Duration
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy mirrors the ORACLE_* configuration defaults.
var DefaultPolicy = Policy{
	Attempts:  3,
	Timeout:   45 * time.Second,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  8 * time.Second,
}

// Backoff returns the wait before the given attempt (1-based) is retried.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	wait := p.BaseDelay * time.Duration(1<<(attempt-1))
	if p.MaxDelay > 0 && (wait > p.MaxDelay || wait <= 0) {
		wait = p.MaxDelay
	}
	return wait
}

// Do calls fn until it succeeds, the attempts run out or ctx is done.
// Fatal errx errors are returned immediately without retrying.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := call(ctx, p.Timeout, fn)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errx.IsFatal(err) || ctx.Err() != nil {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		logx.Warn().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("call failed, retrying")
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

// IsTimeout reports whether err came from an attempt deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
