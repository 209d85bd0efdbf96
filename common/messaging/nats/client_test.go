package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/signalhawk/common/config"
	"github.com/telhawk-systems/signalhawk/common/errclass"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestConfigOptions_Auth(t *testing.T) {
	base := DefaultConfig()
	withUser := base
	withUser.Username, withUser.Password = "svc", "secret"
	withToken := base
	withToken.Token = "tkn"

	logger := logging.Discard()
	assert.Len(t, withUser.options(logger), len(base.options(logger))+1)
	assert.Len(t, withToken.options(logger), len(base.options(logger))+1)
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.MaxReconnects = 0
	cfg.Timeout = 200 * time.Millisecond

	client, err := NewClient(cfg, logging.Discard())
	require.Error(t, err)
	assert.Nil(t, client)
}

func TestHeaderConversion(t *testing.T) {
	assert.Nil(t, headersTo(nil))
	assert.Nil(t, headersFrom(nil))

	h := headersTo(map[string]string{
		messaging.HeaderMsgID:    "abc",
		messaging.HeaderCategory: "alert",
	})
	assert.Equal(t, "abc", h.Get(messaging.HeaderMsgID))

	back := headersFrom(h)
	assert.Equal(t, "abc", back[messaging.HeaderMsgID])
	assert.Equal(t, "alert", back[messaging.HeaderCategory])
}

func TestStreamConfigs(t *testing.T) {
	raw := RawSignalsStream(messaging.SubjectRawSignals)
	assert.Equal(t, []string{"signals.raw"}, raw.Subjects)
	assert.Equal(t, jetstream.WorkQueuePolicy, raw.Retention)

	classified := ClassifiedSignalsStream(messaging.SubjectClassifiedPrefix)
	assert.Equal(t, []string{"signals.classified.>"}, classified.Subjects)
	assert.Equal(t, jetstream.InterestPolicy, classified.Retention)
	assert.Positive(t, classified.Duplicates)

	work := DecipheredStream(messaging.SubjectDeciphered)
	assert.Equal(t, []string{"signals.deciphered"}, work.Subjects)
	assert.Equal(t, jetstream.WorkQueuePolicy, work.Retention)

	names := map[string]bool{raw.Name: true, classified.Name: true, work.Name: true}
	assert.Len(t, names, 3, "stream names must be unique")
}

func TestDefaultConsumerConfig(t *testing.T) {
	cfg := DefaultConsumerConfig("SIGNALS_CLASSIFIED", messaging.DurableIngest, "signals.classified.>")

	assert.Equal(t, "SIGNALS_CLASSIFIED", cfg.Stream)
	assert.Equal(t, messaging.DurableIngest, cfg.Durable)
	assert.Equal(t, "signals.classified.>", cfg.FilterSubject)
	assert.Equal(t, 30*time.Second, cfg.AckWait)
	assert.Positive(t, cfg.MaxDeliver)
	assert.Positive(t, cfg.NakDelay)
}

func TestSettlement(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, metrics.OutcomeAck},
		{"permanent", errclass.MarkPermanent(errors.New("bad payload")), metrics.OutcomeTerm},
		{"wrapped permanent", fmt.Errorf("decipher: %w", errclass.MarkPermanent(errors.New("no key"))), metrics.OutcomeTerm},
		{"transient", errclass.MarkTransient(errors.New("store down")), metrics.OutcomeNak},
		{"unclassified", errors.New("boom"), metrics.OutcomeNak},
		{"deadline", context.DeadlineExceeded, metrics.OutcomeNak},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, settlement(tt.err))
		})
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.NATSConfig{URL: "nats://broker:4222", Token: "tok"}, "classifier")

	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, "classifier", cfg.Name)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
}

func TestConsumerConfigFrom(t *testing.T) {
	cfg := ConsumerConfigFrom(config.PipelineConfig{AckWait: time.Minute, MaxDeliver: 9}, "SIGNALS_RAW", messaging.DurableClassifier, "signals.raw")

	assert.Equal(t, time.Minute, cfg.AckWait)
	assert.Equal(t, 9, cfg.MaxDeliver)
	assert.Equal(t, 5*time.Second, cfg.NakDelay)
	assert.Equal(t, "signals.raw", cfg.FilterSubject)
}

func TestExhausted(t *testing.T) {
	cfg := DefaultConsumerConfig("SIGNALS_RAW", messaging.DurableClassifier, "signals.raw")
	cfg.MaxDeliver = 3

	assert.False(t, exhausted(cfg, 1))
	assert.False(t, exhausted(cfg, 2))
	assert.True(t, exhausted(cfg, 3))
	assert.True(t, exhausted(cfg, 4))

	cfg.MaxDeliver = -1
	assert.False(t, exhausted(cfg, 1000), "unlimited redelivery is never exhausted")
}

func TestDeadLetterStream(t *testing.T) {
	sc := DeadLetterStream("signals.dlq")

	assert.Equal(t, "SIGNALS_DLQ", sc.Name)
	assert.Equal(t, []string{"signals.dlq.>"}, sc.Subjects)
	assert.Equal(t, jetstream.LimitsPolicy, sc.Retention)
	assert.Positive(t, sc.MaxAge)
}

func TestDeadLetterQueue_NilWrite(t *testing.T) {
	var q *DeadLetterQueue
	assert.NoError(t, q.Write(context.Background(), messaging.DurableIngest, &messaging.Message{}, errors.New("x")))
}

func TestDeadLetter_Disabled(t *testing.T) {
	c := &JetStreamClient{Client: &Client{logger: logging.Discard()}}
	require.NotPanics(t, func() {
		c.deadLetter(context.Background(), messaging.DurableIngest, &messaging.Message{Subject: "s"}, errors.New("x"))
	})
}

func TestClassifiedConsumers(t *testing.T) {
	p := config.PipelineConfig{TopicPrefix: "signals.classified", MaxDeliver: 7}

	consumers := ClassifiedConsumers(p)
	require.Len(t, consumers, 2)

	durables := map[string]string{}
	for _, cc := range consumers {
		assert.Equal(t, "SIGNALS_CLASSIFIED", cc.Stream)
		assert.Equal(t, 7, cc.MaxDeliver)
		durables[cc.Durable] = cc.FilterSubject
	}
	assert.Equal(t, map[string]string{
		messaging.DurableIngest:   "signals.classified.>",
		messaging.DurableDecipher: "signals.classified.dark-signal",
	}, durables)

	assert.Equal(t, IngestConsumerConfig(p), consumers[0])
	assert.Equal(t, DecipherConsumerConfig(p), consumers[1])
}

func TestConsumerSettings(t *testing.T) {
	cfg := DecipherConsumerConfig(config.PipelineConfig{TopicPrefix: "signals.classified"})

	settings := consumerSettings(cfg)
	assert.Equal(t, messaging.DurableDecipher, settings.Durable)
	assert.Equal(t, settings.Durable, settings.Name)
	assert.Equal(t, "signals.classified.dark-signal", settings.FilterSubject)
	assert.Equal(t, jetstream.AckExplicitPolicy, settings.AckPolicy)
	assert.Equal(t, cfg.AckWait, settings.AckWait)
	assert.Equal(t, cfg.MaxDeliver, settings.MaxDeliver)
}
