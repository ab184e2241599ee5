package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/dgawatch/internal/core"
)

// KafkaPublisher writes outcome messages to a topic. RequiredAcks=all makes a
// successful write the acknowledgment gate.
type KafkaPublisher struct {
	writer       *kafka.Writer
	topic        string
	writeTimeout time.Duration

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewKafkaPublisher creates a synchronous writer for topic. Each write waits at most
// writeTimeout for the acknowledgment.
func NewKafkaPublisher(brokers []string, topic, compression string, writeTimeout time.Duration) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers are required", core.ErrConfigInvalid)
	}
	if topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is required", core.ErrConfigInvalid)
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  1, // retries belong to the stage's policy
		BatchSize:    1,
		Async:        false,
		WriteTimeout: writeTimeout,
	}

	switch compression {
	case "none", "":
	case "gzip":
		w.Compression = compress.Gzip
	case "snappy":
		w.Compression = compress.Snappy
	case "lz4":
		w.Compression = compress.Lz4
	case "zstd":
		w.Compression = compress.Zstd
	default:
		return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, compression)
	}

	slog.Info("kafka publisher created", "brokers", brokers, "topic", topic, "compression", compression)
	return &KafkaPublisher{writer: w, topic: topic, writeTimeout: writeTimeout}, nil
}

// Publish writes msg keyed by its ID and waits for all in-sync replicas.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ID),
		Value: msg.Body,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(ContentType)},
		},
	})
	if err != nil {
		p.failed.Add(1)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", core.ErrPublishTimeout, p.writeTimeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: kafka write: %w", core.ErrPublishFailed, err)
	}
	p.published.Add(1)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}
	slog.Info("kafka publisher stopped",
		"topic", p.topic,
		"total_published", p.published.Load(),
		"total_errors", p.failed.Load())
	return nil
}
