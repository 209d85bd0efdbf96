// Package service implements the translation and notification consumer.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/telhawk-systems/signalhawk/common/errclass"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/common/models"
	"github.com/telhawk-systems/signalhawk/translate/internal/language"
	"github.com/telhawk-systems/signalhawk/translate/internal/notify"
)

// ErrEmptyMessage is returned for work messages without text.
var ErrEmptyMessage = errors.New("work message has no text")

type Detector interface {
	Detect(ctx context.Context, text string) (string, error)
}

type Translator interface {
	Translate(ctx context.Context, text, source string) (string, error)
	Target() string
}

type Ledger interface {
	Claim(ctx context.Context, id string) (bool, error)
}

type TranslateService struct {
	detector   Detector
	translator Translator
	channel    notify.Channel
	ledger     Ledger
	team       string
	logger     *logging.Logger
}

// NewTranslateService creates the consumer. team is used for work messages
// that do not name one.
func NewTranslateService(detector Detector, translator Translator, channel notify.Channel, ledger Ledger, team string, logger *logging.Logger) *TranslateService {
	return &TranslateService{
		detector:   detector,
		translator: translator,
		channel:    channel,
		ledger:     ledger,
		team:       team,
		logger:     logger,
	}
}

// Handle processes one work-queue message. Undecodable messages are
// permanent failures, detection and translation failures are returned for
// redelivery, and notification failures are logged only.
func (s *TranslateService) Handle(ctx context.Context, msg *messaging.Message) error {
	var work models.WorkMessage
	if err := json.Unmarshal(msg.Data, &work); err != nil {
		metrics.Translations.WithLabelValues("malformed").Inc()
		return errclass.MarkPermanent(fmt.Errorf("decode work message: %w", err))
	}

	translated, err := s.Translate(ctx, work)
	if err != nil {
		return err
	}

	return s.Notify(ctx, msg.Header(messaging.HeaderMsgID), translated)
}

// Translate detects the language of work.Message and translates it when it
// is not already in the target language.
func (s *TranslateService) Translate(ctx context.Context, work models.WorkMessage) (models.TranslatedMessage, error) {
	if strings.TrimSpace(work.Message) == "" {
		metrics.Translations.WithLabelValues("malformed").Inc()
		return models.TranslatedMessage{}, errclass.MarkPermanent(ErrEmptyMessage)
	}

	team := work.TeamName
	if team == "" {
		team = s.team
	}

	lang, err := s.detector.Detect(ctx, work.Message)
	if err != nil {
		metrics.Translations.WithLabelValues("detect_error").Inc()
		if errors.Is(err, language.ErrUndetermined) {
			return models.TranslatedMessage{}, errclass.MarkPermanent(err)
		}
		return models.TranslatedMessage{}, errclass.MarkTransient(err)
	}

	out := models.TranslatedMessage{
		TeamName:         team,
		OriginalText:     work.Message,
		TranslatedText:   work.Message,
		DetectedLanguage: lang,
	}

	if lang == s.translator.Target() {
		metrics.Translations.WithLabelValues("skipped").Inc()
		return out, nil
	}

	text, err := s.translator.Translate(ctx, work.Message, lang)
	if err != nil {
		metrics.Translations.WithLabelValues("translate_error").Inc()
		return models.TranslatedMessage{}, errclass.MarkTransient(err)
	}
	out.TranslatedText = text

	metrics.Translations.WithLabelValues("translated").Inc()
	s.logger.DebugContext(ctx, "message translated", logging.Language(lang))
	return out, nil
}

// Notify sends msg once per id. An empty id skips the ledger. Only a ledger
// failure is returned; delivery failures are swallowed.
func (s *TranslateService) Notify(ctx context.Context, id string, msg models.TranslatedMessage) error {
	if id != "" {
		first, err := s.ledger.Claim(ctx, id)
		if err != nil {
			return errclass.MarkTransient(err)
		}
		if !first {
			metrics.Notifications.WithLabelValues("duplicate").Inc()
			s.logger.InfoContext(ctx, "message already notified, skipping")
			return nil
		}
	}

	if err := s.channel.Send(ctx, msg); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		attrs := []any{slog.String("channel", s.channel.Type()), logging.Error(err)}
		var statusErr *notify.StatusError
		if errors.As(err, &statusErr) {
			attrs = append(attrs, logging.Status(statusErr.StatusCode))
		}
		s.logger.ErrorContext(ctx, "failed to send notification", attrs...)
		return nil
	}

	metrics.Notifications.WithLabelValues("sent").Inc()
	s.logger.InfoContext(ctx, "notification sent",
		logging.Language(msg.DetectedLanguage),
		slog.String("channel", s.channel.Type()),
	)
	return nil
}
