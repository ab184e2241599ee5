package publish

import (
	"context"
	"sync"
)

// MemoryPublisher records messages in process. Failures can be injected with FailNext.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
	attempts int
	fail     []error
	closed   bool
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

// FailNext makes the next len(errs) attempts return errs in order.
func (p *MemoryPublisher) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = append(p.fail, errs...)
}

func (p *MemoryPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if len(p.fail) > 0 {
		err := p.fail[0]
		p.fail = p.fail[1:]
		return err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Messages returns a copy of the acknowledged messages.
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Attempts returns the number of Publish calls that reached the publisher.
func (p *MemoryPublisher) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
