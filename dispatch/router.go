package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/telhawk-systems/signalhawk/common/errclass"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/models"
)

// Consumer receives envelopes of the categories it was registered for.
// Implementations must be idempotent: a message is redelivered to every
// consumer when any one of them fails.
type Consumer interface {
	Consume(ctx context.Context, env models.Envelope) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(ctx context.Context, env models.Envelope) error

// Consume calls f(ctx, env).
func (f ConsumerFunc) Consume(ctx context.Context, env models.Envelope) error {
	return f(ctx, env)
}

type route struct {
	name     string
	consumer Consumer
}

// Router delivers fan-out messages to the consumers registered for their
// category. Register all consumers before the first call to Handle.
type Router struct {
	prefix string
	routes map[models.Category][]route
	logger *logging.Logger
}

// NewRouter creates a router for deliveries under the fan-out prefix.
func NewRouter(prefix string, logger *logging.Logger) *Router {
	return &Router{
		prefix: prefix,
		routes: make(map[models.Category][]route),
		logger: logger,
	}
}

// Register subscribes consumer to the given categories under name.
func (r *Router) Register(name string, consumer Consumer, categories ...models.Category) {
	for _, c := range categories {
		r.routes[c] = append(r.routes[c], route{name: name, consumer: consumer})
	}
}

// Categories returns the categories that have at least one consumer.
func (r *Router) Categories() []models.Category {
	var out []models.Category
	for _, c := range models.Categories {
		if len(r.routes[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Handle is a messaging.MessageHandler. Messages of a category nobody
// registered for are acknowledged and dropped. Consumer failures are joined;
// the result is permanent only if every failure was permanent.
func (r *Router) Handle(ctx context.Context, msg *messaging.Message) error {
	env, err := r.Decode(msg)
	if err != nil {
		return errclass.MarkPermanent(err)
	}

	routes := r.routes[env.Category]
	if len(routes) == 0 {
		r.logger.DebugContext(ctx, "no consumer for category, acknowledging",
			logging.Category(env.Category.String()))
		return nil
	}

	var errs []error
	permanent := true
	for _, rt := range routes {
		if err := rt.consumer.Consume(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rt.name, err))
			if !errclass.IsPermanent(err) {
				permanent = false
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	joined := errors.Join(errs...)
	if permanent {
		return errclass.MarkPermanent(joined)
	}
	return errclass.MarkTransient(joined)
}

// Decode rebuilds the envelope from a fan-out delivery. The category comes
// from the Signal-Category header, then the subject, and defaults to
// observation when neither names one.
func (r *Router) Decode(msg *messaging.Message) (models.Envelope, error) {
	event, body, err := models.DecodeEvent(msg.Data)
	if err != nil {
		return models.Envelope{}, err
	}

	id := msg.Header(messaging.HeaderMsgID)
	if id == "" {
		id = event.ID
	}
	if id == "" {
		return models.Envelope{}, fmt.Errorf("%w: missing id", ErrInvalidEnvelope)
	}

	return models.Envelope{
		ID:       id,
		Category: r.category(msg),
		Event:    event,
		Body:     body,
	}, nil
}

func (r *Router) category(msg *messaging.Message) models.Category {
	if h := msg.Header(messaging.HeaderCategory); h != "" {
		if c, err := models.ParseCategory(h); err == nil {
			return c
		}
	}
	if c, ok := messaging.CategoryFromSubject(r.prefix, msg.Subject); ok {
		return c
	}
	return models.CategoryObservation
}
