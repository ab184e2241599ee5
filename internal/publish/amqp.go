package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"firestige.xyz/dgawatch/internal/config"
	"firestige.xyz/dgawatch/internal/core"
)

// AMQPPublisher publishes to a durable queue on the default exchange with publisher
// confirms. A closed connection or channel is redialed before the next attempt.
type AMQPPublisher struct {
	url            string
	queue          string
	confirmTimeout time.Duration

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP validates url, connects and declares queue. Connection failures match
// core.ErrPublishFailed; malformed urls match core.ErrInvalidConnString.
func DialAMQP(url, queue string, confirmTimeout time.Duration) (*AMQPPublisher, error) {
	uri, err := config.ParseConnString(url)
	if err != nil {
		return nil, err
	}
	if queue == "" {
		return nil, fmt.Errorf("%w: empty queue name", core.ErrConfigInvalid)
	}
	p := &AMQPPublisher{url: url, queue: queue, confirmTimeout: confirmTimeout}
	if err := p.connect(); err != nil {
		return nil, err
	}
	slog.Info("broker connected", "host", uri.Host, "port", uri.Port, "vhost", uri.Vhost, "queue", queue)
	return p, nil
}

// connect must be called with mu held or before p is shared.
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", core.ErrPublishFailed, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: open channel: %w", core.ErrPublishFailed, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("%w: confirm mode: %w", core.ErrPublishFailed, err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("%w: declare queue %s: %w", core.ErrPublishFailed, p.queue, err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) healthy() bool {
	return p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed()
}

func (p *AMQPPublisher) teardown() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Publish sends msg as a persistent delivery and waits for the broker confirmation,
// bounded by the confirm timeout. A nack returns core.ErrPublishNacked, a missing
// confirmation core.ErrPublishTimeout.
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.healthy() {
		p.teardown()
		slog.Info("redialing broker", "queue", p.queue)
		if err := p.connect(); err != nil {
			return err
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(attemptCtx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Body:         msg.Body,
	})
	if err != nil {
		p.teardown()
		return fmt.Errorf("%w: %w", core.ErrPublishFailed, err)
	}

	acked, err := confirm.WaitContext(attemptCtx)
	switch {
	case err == nil && acked:
		return nil
	case err == nil:
		return core.ErrPublishNacked
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		// The confirmation may still arrive on this channel; start clean.
		p.teardown()
		return fmt.Errorf("%w after %s", core.ErrPublishTimeout, p.confirmTimeout)
	default:
		p.teardown()
		return fmt.Errorf("%w: %w", core.ErrPublishFailed, err)
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
