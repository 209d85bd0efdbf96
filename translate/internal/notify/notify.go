// Package notify delivers translated messages to the outbound sink.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/models"
)

// Channel defines the interface for notification delivery.
type Channel interface {
	Send(ctx context.Context, msg models.TranslatedMessage) error
	Type() string
}

// StatusError reports a webhook response outside the 2xx range.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// WebhookChannel posts {"content": ...} to a chat-style webhook.
type WebhookChannel struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhookChannel creates a webhook notification channel.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *WebhookChannel) Type() string {
	return "webhook"
}

type webhookPayload struct {
	Content string `json:"content"`
}

func (w *WebhookChannel) Send(ctx context.Context, msg models.TranslatedMessage) error {
	jsonData, err := json.Marshal(webhookPayload{Content: msg.Summary()})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SignalHawk-Translate/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}

	return nil
}

// LogChannel writes the summary to the log instead of a remote sink. It is
// used when no webhook URL is configured.
type LogChannel struct {
	logger *logging.Logger
}

func NewLogChannel(logger *logging.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (l *LogChannel) Type() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, msg models.TranslatedMessage) error {
	l.logger.InfoContext(ctx, "notification", slog.String("content", msg.Summary()), logging.Language(msg.DetectedLanguage))
	return nil
}

// New returns a webhook channel for url, or a log channel when url is empty.
func New(url string, timeout time.Duration, logger *logging.Logger) Channel {
	if url == "" {
		return NewLogChannel(logger)
	}
	return NewWebhookChannel(url, timeout)
}
