// Package queue implements the bounded multi-producer/multi-consumer queues that connect
// pipeline stages.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/dgawatch/internal/core"
)

// Queue is a fixed-capacity FIFO transport. FIFO holds per producer/consumer pair;
// elements from different producers interleave in unspecified order.
type Queue[T any] interface {
	// TryPop removes the oldest element without blocking. It reports false when empty.
	TryPop() (T, bool)
	// Pop waits up to timeout for an element. It reports false on timeout or when ctx is done.
	Pop(ctx context.Context, timeout time.Duration) (T, bool)
	// Emplace inserts v, blocking while the queue is full. It never inserts once ctx is done.
	Emplace(ctx context.Context, v T) error
	// TryEmplace inserts v without blocking. It reports false when full.
	TryEmplace(v T) bool
	// Len returns the number of queued elements. Under contention the value is approximate.
	Len() int
	// Cap returns the capacity fixed at construction.
	Cap() int
}

// Kind selects a Queue implementation.
type Kind string

const (
	KindRing Kind = "ring"
	KindChan Kind = "chan"
)

// New creates a queue of the given kind.
func New[T any](kind Kind, capacity int) (Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue capacity must be positive, got %d: %w", capacity, core.ErrConfigInvalid)
	}
	switch kind {
	case KindRing, "":
		return NewRing[T](capacity), nil
	case KindChan:
		return NewChan[T](capacity), nil
	default:
		return nil, fmt.Errorf("unknown queue kind %q: %w", kind, core.ErrConfigInvalid)
	}
}

// cancelled builds the error returned by Emplace when ctx ends the wait.
func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, core.ErrCancelled) {
		return core.ErrCancelled
	}
	return errors.Join(core.ErrCancelled, cause)
}
