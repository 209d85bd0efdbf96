// Package service implements the decipherment consumer: dark signals are
// deciphered with the current key set and forwarded to the work queue.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/telhawk-systems/signalhawk/common/errclass"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/common/models"
	"github.com/telhawk-systems/signalhawk/decipher/pkg/cipher"
	"github.com/telhawk-systems/signalhawk/dispatch"
)

// KeyProvider returns the current cipher key set.
type KeyProvider interface {
	Fetch(ctx context.Context) (cipher.KeySet, error)
}

type DecipherService struct {
	keys      KeyProvider
	publisher messaging.Publisher
	subject   string
	team      string
	logger    *logging.Logger
}

func NewDecipherService(keys KeyProvider, publisher messaging.Publisher, queueSubject, team string, logger *logging.Logger) *DecipherService {
	return &DecipherService{
		keys:      keys,
		publisher: publisher,
		subject:   queueSubject,
		team:      team,
		logger:    logger,
	}
}

// Register subscribes the service to dark signals.
func (s *DecipherService) Register(r *dispatch.Router) {
	r.Register("dark-signal-decipherer", dispatch.ConsumerFunc(s.Decipher), models.CategoryDarkSignal)
}

// Decipher deciphers env and enqueues the plain text for translation.
// Payload, algorithm and key problems are permanent: the signal is logged
// and dropped. Key fetch and enqueue failures are returned for redelivery.
func (s *DecipherService) Decipher(ctx context.Context, env models.Envelope) error {
	if env.Event.OriginalPayload == nil {
		return s.reject(ctx, fmt.Errorf("%w: no original payload", cipher.ErrMalformedPayload))
	}

	payload, err := cipher.ParsePayload(env.Event.OriginalPayload.Data)
	if err != nil {
		return s.reject(ctx, err)
	}

	keys, err := s.keys.Fetch(ctx)
	if err != nil {
		metrics.Decipherments.WithLabelValues("key_fetch_error").Inc()
		return fmt.Errorf("decipher %s: %w", env.ID, err)
	}

	plain, err := cipher.Decipher(payload, keys)
	if err != nil {
		return s.reject(ctx, err, logging.KeyID(payload.Kid))
	}

	data, err := json.Marshal(models.WorkMessage{Message: plain, TeamName: s.team})
	if err != nil {
		return s.reject(ctx, err)
	}

	msg := &messaging.Message{Subject: s.subject, Data: data}
	msg.SetHeader(messaging.HeaderMsgID, env.ID)
	if err := s.publisher.Publish(ctx, msg); err != nil {
		metrics.Decipherments.WithLabelValues("enqueue_error").Inc()
		return fmt.Errorf("enqueue %s: %w", env.ID, err)
	}

	metrics.Decipherments.WithLabelValues("forwarded").Inc()
	s.logger.InfoContext(ctx, "dark signal deciphered", logging.KeyID(payload.Kid), logging.Subject(s.subject))
	return nil
}

func (s *DecipherService) reject(ctx context.Context, err error, attrs ...any) error {
	metrics.Decipherments.WithLabelValues(rejectReason(err)).Inc()
	s.logger.ErrorContext(ctx, "dropping undecipherable dark signal", append(attrs, logging.Error(err))...)
	return errclass.MarkPermanent(err)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, cipher.ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, cipher.ErrKeyNotFound):
		return "key_not_found"
	default:
		return "malformed"
	}
}
