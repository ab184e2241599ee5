package queue

import (
	"context"
	"sync/atomic"
	"time"
)

// wakeBackstop bounds how long a blocked caller sleeps when a wakeup is coalesced away.
const wakeBackstop = 5 * time.Millisecond

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a lock-free bounded MPMC queue: an array of sequenced slots where producers
// and consumers claim positions with CAS on separate cursors. Blocking calls park on
// one-token channels that the opposite side pokes after every successful operation.
type Ring[T any] struct {
	slots []slot[T]
	size  uint64

	_    [56]byte
	head atomic.Uint64 // next enqueue position
	_    [56]byte
	tail atomic.Uint64 // next dequeue position
	_    [56]byte

	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring[T]{
		slots:    make([]slot[T], capacity),
		size:     uint64(capacity),
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// TryEmplace implements Queue.
func (r *Ring[T]) TryEmplace(v T) bool {
	pos := r.head.Load()
	var s *slot[T]
	for {
		s = &r.slots[pos%r.size]
		seq := s.seq.Load()
		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1)
				poke(r.notEmpty)
				return true
			}
			pos = r.head.Load()
		case dif < 0:
			return false
		default:
			pos = r.head.Load()
		}
	}
}

// TryPop implements Queue.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	pos := r.tail.Load()
	for {
		s := &r.slots[pos%r.size]
		seq := s.seq.Load()
		switch dif := int64(seq) - int64(pos+1); {
		case dif == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				v := s.val
				s.val = zero
				s.seq.Store(pos + r.size)
				poke(r.notFull)
				return v, true
			}
			pos = r.tail.Load()
		case dif < 0:
			return zero, false
		default:
			pos = r.tail.Load()
		}
	}
}

// Emplace implements Queue.
func (r *Ring[T]) Emplace(ctx context.Context, v T) error {
	if ctx.Err() != nil {
		return cancelled(ctx)
	}
	for {
		if r.TryEmplace(v) {
			if r.Len() < int(r.size) {
				poke(r.notFull)
			}
			return nil
		}
		if err := park(ctx, r.notFull, 0); err != nil {
			return cancelled(ctx)
		}
	}
}

// Pop implements Queue.
func (r *Ring[T]) Pop(ctx context.Context, timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if v, ok := r.TryPop(); ok {
			if r.Len() > 0 {
				poke(r.notEmpty)
			}
			return v, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			var zero T
			return zero, false
		}
		if err := park(ctx, r.notEmpty, remaining); err != nil {
			var zero T
			return zero, false
		}
	}
}

// Len implements Queue.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head <= tail {
		return 0
	}
	n := head - tail
	if n > r.size {
		n = r.size
	}
	return int(n)
}

// Cap implements Queue.
func (r *Ring[T]) Cap() int { return int(r.size) }

func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// park waits for a token on ch, the backstop, the optional limit or ctx.
func park(ctx context.Context, ch chan struct{}, limit time.Duration) error {
	wait := wakeBackstop
	if limit > 0 && limit < wait {
		wait = limit
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
