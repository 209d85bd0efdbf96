package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/models"
)

var sample = models.TranslatedMessage{
	TeamName:         "Deep Divers",
	OriginalText:     "hola mundo",
	TranslatedText:   "hello world",
	DetectedLanguage: "es",
}

func TestWebhookChannel_Send(t *testing.T) {
	var (
		gotBody        []byte
		gotContentType string
		gotMethod      string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	channel := NewWebhookChannel(server.URL, 5*time.Second)
	assert.Equal(t, "webhook", channel.Type())

	require.NoError(t, channel.Send(context.Background(), sample))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, map[string]string{
		"content": "**Deep Divers**: hola mundo -> hello world (lang: es)",
	}, payload)
}

func TestWebhookChannel_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := NewWebhookChannel(server.URL, 5*time.Second).Send(context.Background(), sample)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestWebhookChannel_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewWebhookChannel(url, time.Second).Send(context.Background(), sample)
	assert.Error(t, err)
}

func TestLogChannel(t *testing.T) {
	var buf bytes.Buffer
	channel := NewLogChannel(logging.NewWithWriter(&buf, slog.LevelInfo, "text"))
	assert.Equal(t, "log", channel.Type())

	require.NoError(t, channel.Send(context.Background(), sample))
	assert.Contains(t, buf.String(), "hola mundo")
	assert.Contains(t, buf.String(), "hello world")
}

func TestNew(t *testing.T) {
	assert.IsType(t, &LogChannel{}, New("", time.Second, logging.Discard()))
	assert.IsType(t, &WebhookChannel{}, New("http://example.invalid/hook", time.Second, logging.Discard()))
}
