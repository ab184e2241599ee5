// Package lifecycle provides the cancellation signal shared by all pipeline stages.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/dgawatch/internal/core"
)

// Signal is a one-shot, process-lifetime cancellation flag. Any stage may set it and
// every stage observes it. Once set it never resets.
type Signal struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	set    atomic.Bool
	once   sync.Once
}

// NewSignal creates a signal derived from parent. Cancelling parent also sets the signal.
func NewSignal(parent context.Context) *Signal {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	s := &Signal{ctx: ctx, cancel: cancel}
	context.AfterFunc(ctx, func() { s.set.Store(true) })
	return s
}

// Cancel sets the signal. The first cause wins; later calls are no-ops.
func (s *Signal) Cancel(cause error) {
	s.once.Do(func() {
		if cause == nil {
			cause = core.ErrCancelled
		}
		slog.Info("cancellation requested", "cause", cause)
		s.set.Store(true)
		s.cancel(cause)
	})
}

// Cancelled reports whether the signal is set. Cheap enough for per-iteration checks.
func (s *Signal) Cancelled() bool {
	return s.set.Load() || s.ctx.Err() != nil
}

// Done returns a channel closed once the signal is set.
func (s *Signal) Done() <-chan struct{} { return s.ctx.Done() }

// Context exposes the signal as a context for blocking calls.
func (s *Signal) Context() context.Context { return s.ctx }

// Err returns core.ErrCancelled wrapped with the cause, or nil while the signal is clear.
func (s *Signal) Err() error {
	if !s.Cancelled() {
		return nil
	}
	cause := context.Cause(s.ctx)
	if cause == nil || errors.Is(cause, core.ErrCancelled) {
		return core.ErrCancelled
	}
	return errors.Join(core.ErrCancelled, cause)
}

// Cause returns the error passed to the first Cancel call, or the parent's cause.
func (s *Signal) Cause() error {
	return context.Cause(s.ctx)
}

// Closed reports whether ch has been closed. A nil channel is never closed.
func Closed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
