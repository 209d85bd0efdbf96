// Package messaging provides abstractions for message broker communication.
// Stages publish and consume through these interfaces so that the pipeline
// logic is not coupled to a specific broker implementation.
package messaging

import (
	"context"
	"time"
)

// Well-known message headers.
const (
	// HeaderMsgID carries the pipeline message id. JetStream uses it to drop
	// duplicate publishes inside the stream's duplicate window.
	HeaderMsgID = "Nats-Msg-Id"

	// HeaderCategory carries the routing category of a classified signal.
	HeaderCategory = "Signal-Category"
)

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Subject is the topic/channel the message was published to.
	Subject string

	// Data is the raw message payload.
	Data []byte

	// Metadata contains optional key-value pairs for message headers.
	Metadata map[string]string

	// Timestamp is when the message was published, if the broker reports it.
	Timestamp time.Time

	// NumDelivered counts delivery attempts, starting at 1.
	NumDelivered uint64
}

// Header returns the metadata value for key, or "" when absent.
func (m *Message) Header(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// SetHeader sets a metadata value, allocating the map on first use.
func (m *Message) SetHeader(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// MessageHandler processes a received message. A nil return acknowledges the
// message; an error asks for redelivery unless it is classified permanent.
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher publishes messages durably. Publish returns only after the broker
// has accepted the message, so a nil error means the handoff happened.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, msg *Message) error

// Publish calls f(ctx, msg).
func (f PublisherFunc) Publish(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// ConsumerConfig describes a durable, at-least-once consumer.
type ConsumerConfig struct {
	// Stream is the stream the consumer reads from.
	Stream string

	// Durable is the durable consumer name shared by all stage replicas.
	Durable string

	// FilterSubject restricts the consumer to matching subjects.
	FilterSubject string

	// AckWait is how long the broker waits for an ack before redelivering.
	AckWait time.Duration

	// MaxDeliver bounds delivery attempts. -1 means unlimited.
	MaxDeliver int

	// NakDelay is the redelivery delay applied after a transient failure.
	NakDelay time.Duration
}

// Consumer runs a handler against a durable consumer until ctx is done or the
// returned stop function is called.
type Consumer interface {
	Consume(ctx context.Context, cfg ConsumerConfig, handler MessageHandler) (stop func(), err error)
}
