// Package service implements the classifier stage: it consumes raw signal
// events, assigns a category and hands the result to the fan-out dispatcher.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/telhawk-systems/signalhawk/classifier/pkg/classify"
	"github.com/telhawk-systems/signalhawk/common/errclass"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/common/models"
)

// signalNamespace seeds name-based ids for events that arrive without one.
var signalNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://signalhawk/signals"))

// Dispatcher publishes a classified envelope to the fan-out topic.
type Dispatcher interface {
	Dispatch(ctx context.Context, env models.Envelope) error
}

// ClassifierService turns raw events into classified envelopes.
type ClassifierService struct {
	dispatcher Dispatcher
	logger     *logging.Logger
}

// NewClassifierService creates the classifier stage.
func NewClassifierService(dispatcher Dispatcher, logger *logging.Logger) *ClassifierService {
	return &ClassifierService{dispatcher: dispatcher, logger: logger}
}

// Handle is the messaging.MessageHandler for the raw signal subject.
// Undecodable events are rejected permanently; dispatch failures are
// returned so the event is redelivered.
func (s *ClassifierService) Handle(ctx context.Context, msg *messaging.Message) error {
	env, err := s.Classify(msg)
	if err != nil {
		s.logger.WarnContext(ctx, "discarding undecodable signal", logging.Error(err))
		return errclass.MarkPermanent(err)
	}

	ctx = logging.ContextWithMessageID(ctx, env.ID)
	if err := s.dispatcher.Dispatch(ctx, env); err != nil {
		return fmt.Errorf("classify %s: %w", env.ID, err)
	}

	metrics.SignalsClassified.WithLabelValues(env.Category.String()).Inc()
	s.logger.InfoContext(ctx, "signal classified",
		logging.Signal(env.Event.Type),
		logging.Category(env.Category.String()),
		"intensity", env.Event.Intensity,
	)
	return nil
}

// Classify decodes msg and builds its envelope without publishing it.
func (s *ClassifierService) Classify(msg *messaging.Message) (models.Envelope, error) {
	event, body, err := models.DecodeEvent(msg.Data)
	if err != nil {
		return models.Envelope{}, err
	}

	return models.Envelope{
		ID:       EventID(event, msg),
		Category: classify.Classify(event),
		Event:    event,
		Body:     body,
	}, nil
}

// EventID picks the pipeline id of an event: its own id field, then the
// inbound message id, then a name-based UUID of the raw payload so that
// redeliveries of the same bytes keep the same id.
func EventID(event models.Event, msg *messaging.Message) string {
	if event.ID != "" {
		return event.ID
	}
	if id := msg.Header(messaging.HeaderMsgID); id != "" {
		return id
	}
	return uuid.NewSHA1(signalNamespace, msg.Data).String()
}
