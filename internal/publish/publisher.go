// Package publish serializes actionable outcomes and delivers them durably to the
// message broker.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"firestige.xyz/dgawatch/internal/core"
)

// ContentType is set on every delivery.
const ContentType = "text/plain"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is one serialized outcome batch.
type Message struct {
	ID        string
	Timestamp time.Time
	Body      []byte
}

// Publisher delivers a message to the broker. Each Publish call is a single attempt
// that returns only once the broker has acknowledged the message or the attempt failed.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Envelope is the wire schema read by the downstream classifier.
type Envelope struct {
	Domains     map[string]int `json:"domains"`
	Verdict     string         `json:"verdict"`
	CapturedAt  int64          `json:"captured_at"`
	PublishedAt int64          `json:"published_at"`
}

// Encode serializes batch as of now.
func Encode(batch core.OutcomeBatch, now time.Time) (Message, error) {
	body, err := json.Marshal(Envelope{
		Domains:     batch.Domains,
		Verdict:     batch.Verdict.String(),
		CapturedAt:  batch.CapturedAt.Unix(),
		PublishedAt: now.Unix(),
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode outcome: %w", err)
	}
	return Message{ID: uuid.NewString(), Timestamp: now, Body: body}, nil
}

// Decode parses a message body.
func Decode(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode outcome: %w", err)
	}
	return e, nil
}
