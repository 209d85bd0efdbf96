// Package dispatch fans classified signals out to the stage consumers that
// subscribe to their category.
//
// The producer half (Dispatcher) publishes each envelope to the category
// subject under the fan-out prefix. The consumer half (Router) runs inside a
// stage, decodes the envelope back from a delivery and hands it to every
// consumer registered for its category.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/models"
)

// ErrInvalidEnvelope is returned when an envelope cannot be routed at all.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Dispatcher publishes classified envelopes to the fan-out topic.
type Dispatcher struct {
	publisher messaging.Publisher
	prefix    string
}

// NewDispatcher creates a dispatcher publishing under prefix.
func NewDispatcher(publisher messaging.Publisher, prefix string) *Dispatcher {
	return &Dispatcher{publisher: publisher, prefix: prefix}
}

// Dispatch publishes env exactly once. The original event body travels
// unchanged; id and category ride in headers. A nil error means the broker
// accepted the message for every subscriber of the category.
func (d *Dispatcher) Dispatch(ctx context.Context, env models.Envelope) error {
	if !env.Category.Valid() {
		return fmt.Errorf("%w: category %s", ErrInvalidEnvelope, env.Category)
	}
	if env.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEnvelope)
	}

	body := env.Body
	if len(body) == 0 {
		var err error
		if body, err = json.Marshal(env.Event); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
	}

	msg := &messaging.Message{
		Subject: messaging.ClassifiedSubject(d.prefix, env.Category),
		Data:    body,
	}
	msg.SetHeader(messaging.HeaderMsgID, env.ID)
	msg.SetHeader(messaging.HeaderCategory, env.Category.String())

	if err := d.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("dispatch %s: %w", env.ID, err)
	}
	return nil
}
