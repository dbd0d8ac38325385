// Package bus implements the durable, at-least-once message bus that
// carries frame.Frame values between producers, the orchestrator, and
// downstream persistence. The production backend is NATS
// JetStream (github.com/nats-io/nats.go/jetstream); a deterministic
// in-memory backend satisfying the same interface backs tests and offline
// operation.
package bus

import (
	"context"
	"time"

	"github.com/sentorproj/sentor/pkg/frame"
)

// Config holds the bus tunables: stream naming, redelivery bounds, and
// the nak backoff curve.
type Config struct {
	// StreamName is the main stream; user topic X maps to subject
	// "cs.{X}". Default "CS".
	StreamName string
	// MaxAckPending bounds per-durable in-flight messages (default 256).
	MaxAckPending int
	// MaxDeliver is the delivery attempt count before DLQ (default 5).
	MaxDeliver int
	// Backoff governs the nak-with-backoff curve (default 1s/2.0/30s).
	Backoff BackoffConfig
}

// BackoffConfig is the exponential nak backoff curve.
type BackoffConfig struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// DefaultConfig returns the documented defaults: max_ack_pending 256,
// max_deliver 5, backoff 1s/2.0/30s.
func DefaultConfig() Config {
	return Config{
		StreamName:    "CS",
		MaxAckPending: 256,
		MaxDeliver:    5,
		Backoff:       BackoffConfig{Base: time.Second, Factor: 2.0, Cap: 30 * time.Second},
	}
}

// Delivery is one frame handed to a consumer, along with the operations
// the consumer is contractually required to call: exactly one of Ack or
// Nak per delivery.
type Delivery struct {
	Frame frame.Frame
	// NumDelivered is this message's 1-indexed delivery attempt count.
	NumDelivered int
	// Subject is the full wire subject ("cs.{topic}").
	Subject string

	ack func(ctx context.Context) error
	nak func(ctx context.Context, delay time.Duration) error
}

// Ack acknowledges successful processing, advancing the durable cursor.
func (d *Delivery) Ack(ctx context.Context) error { return d.ack(ctx) }

// Nak signals processing failure; the message is redelivered after delay
// (or the bus's own backoff curve if delay is zero).
func (d *Delivery) Nak(ctx context.Context, delay time.Duration) error { return d.nak(ctx, delay) }

// Subscription is a pull-mode stream of Delivery values for one durable
// consumer on one topic.
type Subscription interface {
	// Deliveries returns the channel of incoming deliveries. It is closed
	// when the subscription is cancelled (Close) or the bus disconnects.
	Deliveries() <-chan Delivery
	// Close stops fetching; in-flight acks may still complete, and any
	// unacked message is redelivered.
	Close() error
}

// Bus is the durable, at-least-once pub/sub contract.
type Bus interface {
	// Connect is idempotent; it creates the main stream and DLQ stream if
	// they do not already exist.
	Connect(ctx context.Context) error
	// Disconnect is idempotent.
	Disconnect(ctx context.Context) error
	// Emit publishes f on topic, returning only after the server
	// acknowledges a sequence number.
	Emit(ctx context.Context, topic string, f frame.Frame) error
	// Subscribe opens a pull-mode, durable-named subscription on topic.
	Subscribe(ctx context.Context, topic, durableName string) (Subscription, error)
	// Metrics returns a point-in-time snapshot of bus observability
	// counters.
	Metrics() Snapshot
}

// Subject returns the wire subject for a user-level topic: "cs.{topic}".
func Subject(topic string) string { return "cs." + topic }
