// Package dispatch hands decisions, milestones and digests to the delivery
// gateway through a durable outbox. Delivery is at-least-once: a payload may
// reach the gateway more than once, never zero times without a logged drop.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDispatchFailure wraps a gateway rejection.
var ErrDispatchFailure = errors.New("dispatch failure")

// Kind of payload carried by an envelope.
type Kind string

const (
	KindDecision  Kind = "decision"
	KindMilestone Kind = "milestone"
	KindDigest    Kind = "digest"
)

// Envelope is one queued delivery.
type Envelope struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Gateway delivers envelopes to the notification surface. Implementations
// must tolerate seeing the same envelope ID twice.
type Gateway interface {
	Deliver(ctx context.Context, env Envelope) error
}

// Outbox stores envelopes until they are delivered or dropped.
type Outbox interface {
	Enqueue(ctx context.Context, env Envelope) error
	// ClaimDue atomically claims up to limit envelopes due at now.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Envelope, error)
	MarkSent(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkDropped(ctx context.Context, id string, attempts int, lastErr string) error
	// Cleanup removes sent and dropped envelopes older than before.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}
