package queue

import (
	"context"
	"time"
)

// Chan is a Queue backed by a buffered channel.
type Chan[T any] struct {
	ch chan T
}

// NewChan creates a channel queue holding at most capacity elements.
func NewChan[T any](capacity int) *Chan[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Chan[T]{ch: make(chan T, capacity)}
}

// TryPop implements Queue.
func (c *Chan[T]) TryPop() (T, bool) {
	select {
	case v := <-c.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Pop implements Queue.
func (c *Chan[T]) Pop(ctx context.Context, timeout time.Duration) (T, bool) {
	if v, ok := c.TryPop(); ok {
		return v, true
	}
	var zero T
	if timeout <= 0 {
		return zero, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-c.ch:
		return v, true
	case <-timer.C:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// Emplace implements Queue.
func (c *Chan[T]) Emplace(ctx context.Context, v T) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	select {
	case c.ch <- v:
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}

// TryEmplace implements Queue.
func (c *Chan[T]) TryEmplace(v T) bool {
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

// Len implements Queue.
func (c *Chan[T]) Len() int { return len(c.ch) }

// Cap implements Queue.
func (c *Chan[T]) Cap() int { return cap(c.ch) }
