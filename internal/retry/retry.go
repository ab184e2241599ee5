// Package retry wraps fallible store and broker operations in a fixed-attempt,
// fixed-delay policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/metrics"
)

// Policy bounds an operation to Attempts calls spaced Delay apart.
type Policy struct {
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
}

// Default policies for the reputation store and the broker.
var (
	StorePolicy  = Policy{Attempts: 3, Delay: time.Second}
	BrokerPolicy = Policy{Attempts: 5, Delay: 2 * time.Second}
)

// Validate reports whether the policy can run at least once.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1, got %d: %w", p.Attempts, core.ErrConfigInvalid)
	}
	if p.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s: %w", p.Delay, core.ErrConfigInvalid)
	}
	return nil
}

// Permanent marks err as not worth retrying. Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// errStopped aborts the backoff loop when cancellation is observed before an attempt.
var errStopped = errors.New("stopped before attempt")

// Do runs op until it succeeds, the policy is exhausted, op returns a Permanent error or
// ctx is cancelled. No attempt starts after ctx is done.
//
// Exhaustion yields an error matching core.ErrRetriesExhausted and wrapping the last
// failure. Cancellation yields core.ErrCancelled joined with the context cause.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var (
		attempt   int
		last      error
		permanent bool
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(errStopped)
		}
		attempt++
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}

		var pe *backoff.PermanentError
		if errors.As(err, &pe) {
			permanent = true
			last = pe.Unwrap()
			return struct{}{}, err
		}
		last = err
		slog.Warn("attempt failed", "operation", name, "attempt", attempt, "max_attempts", p.Attempts, "error", err)
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(p.Attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) {
			metrics.RetriesTotal.WithLabelValues(name).Inc()
			slog.Debug("retrying", "operation", name, "next_attempt", attempt+1, "delay", next)
		}),
	)

	switch {
	case err == nil:
		return nil
	case permanent:
		return fmt.Errorf("%s: %w", name, last)
	case ctx.Err() != nil:
		slog.Info("operation cancelled", "operation", name, "attempts", attempt)
		return fmt.Errorf("%s after %d attempts: %w", name, attempt, cancelled(ctx, last))
	default:
		slog.Error("retries exhausted", "operation", name, "attempts", attempt, "error", last)
		return fmt.Errorf("%s: %w after %d attempts: %w", name, core.ErrRetriesExhausted, attempt, last)
	}
}

func cancelled(ctx context.Context, last error) error {
	errs := []error{core.ErrCancelled}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, core.ErrCancelled) {
		errs = append(errs, cause)
	}
	if last != nil {
		errs = append(errs, last)
	}
	return errors.Join(errs...)
}
