package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/signalhawk/common/config"
	"github.com/telhawk-systems/signalhawk/common/errclass"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/common/models"
)

// JetStreamClient extends Client with JetStream persistence. It implements
// messaging.Publisher and messaging.Consumer.
type JetStreamClient struct {
	*Client
	js  jetstream.JetStream
	dlq *DeadLetterQueue
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// Duplicates is the window in which a repeated Nats-Msg-Id is dropped.
	Duplicates time.Duration

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// RawSignalsStream captures raw events from the ingestion source. Each event
// is classified once, so the stream behaves as a work queue.
func RawSignalsStream(subject string) StreamConfig {
	return StreamConfig{
		Name:       "SIGNALS_RAW",
		Subjects:   []string{subject},
		MaxAge:     24 * time.Hour,
		MaxBytes:   512 * 1024 * 1024,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
	}
}

// ClassifiedSignalsStream is the fan-out topic. Interest retention keeps a
// message until every stage consumer that wants it has acknowledged it.
func ClassifiedSignalsStream(prefix string) StreamConfig {
	return StreamConfig{
		Name:       "SIGNALS_CLASSIFIED",
		Subjects:   []string{messaging.ClassifiedWildcard(prefix)},
		MaxAge:     24 * time.Hour,
		MaxBytes:   1024 * 1024 * 1024,
		Duplicates: 2 * time.Minute,
		Retention:  jetstream.InterestPolicy,
		Storage:    jetstream.FileStorage,
	}
}

// DecipheredStream is the work queue between decipherment and translation.
func DecipheredStream(subject string) StreamConfig {
	return StreamConfig{
		Name:       "SIGNALS_DECIPHERED",
		Subjects:   []string{subject},
		MaxAge:     24 * time.Hour,
		MaxBytes:   256 * 1024 * 1024,
		Duplicates: 10 * time.Minute,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
	}
}

// DefaultConsumerConfig returns sensible defaults for a stage consumer.
func DefaultConsumerConfig(stream, durable, filterSubject string) messaging.ConsumerConfig {
	return messaging.ConsumerConfig{
		Stream:        stream,
		Durable:       durable,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		NakDelay:      5 * time.Second,
	}
}

// ConsumerConfigFrom applies the pipeline delivery settings to the defaults.
func ConsumerConfigFrom(p config.PipelineConfig, stream, durable, filterSubject string) messaging.ConsumerConfig {
	cfg := DefaultConsumerConfig(stream, durable, filterSubject)
	if p.AckWait > 0 {
		cfg.AckWait = p.AckWait
	}
	if p.MaxDeliver != 0 {
		cfg.MaxDeliver = p.MaxDeliver
	}
	if p.NakDelay > 0 {
		cfg.NakDelay = p.NakDelay
	}
	return cfg
}

// IngestConsumerConfig is the store and index stage's view of the fan-out
// stream: every category, filtered again by its router.
func IngestConsumerConfig(p config.PipelineConfig) messaging.ConsumerConfig {
	return ConsumerConfigFrom(p, ClassifiedSignalsStream(p.TopicPrefix).Name, messaging.DurableIngest,
		messaging.ClassifiedWildcard(p.TopicPrefix))
}

// DecipherConsumerConfig is the decipherment stage's view of the fan-out
// stream: dark signals only.
func DecipherConsumerConfig(p config.PipelineConfig) messaging.ConsumerConfig {
	return ConsumerConfigFrom(p, ClassifiedSignalsStream(p.TopicPrefix).Name, messaging.DurableDecipher,
		messaging.ClassifiedSubject(p.TopicPrefix, models.CategoryDarkSignal))
}

// ClassifiedConsumers lists the durables that must exist on the fan-out
// stream before anything is published to it. Interest retention discards
// messages no consumer is registered for.
func ClassifiedConsumers(p config.PipelineConfig) []messaging.ConsumerConfig {
	return []messaging.ConsumerConfig{IngestConsumerConfig(p), DecipherConsumerConfig(p)}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config, logger *logging.Logger) (*JetStreamClient, error) {
	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{Client: client, js: js}, nil
}

// EnsureStream creates or updates a stream.
func (c *JetStreamClient) EnsureStream(ctx context.Context, cfg StreamConfig) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		Duplicates: cfg.Duplicates,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Publish stores msg in JetStream and waits for the acknowledgment. A
// Nats-Msg-Id header makes the publish idempotent within the duplicate window.
func (c *JetStreamClient) Publish(ctx context.Context, msg *messaging.Message) error {
	natsMsg := &nats.Msg{
		Subject: msg.Subject,
		Data:    msg.Data,
		Header:  headersTo(msg.Metadata),
	}

	ack, err := c.js.PublishMsg(ctx, natsMsg)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}
	if ack.Duplicate {
		c.logger.DebugContext(ctx, "duplicate publish dropped by stream",
			logging.Subject(msg.Subject),
			logging.MessageID(msg.Header(messaging.HeaderMsgID)),
		)
	}
	return nil
}

// Consume binds a durable consumer and dispatches its messages to handler.
// Success acks, permanent failures terminate the message and anything else is
// redelivered after cfg.NakDelay until MaxDeliver is reached, when it is
// terminated too. Terminated messages go to the dead letter stream when one
// is enabled. Each invocation runs under an AckWait deadline.
func (c *JetStreamClient) Consume(ctx context.Context, cfg messaging.ConsumerConfig, handler messaging.MessageHandler) (func(), error) {
	stream, err := c.js.Stream(ctx, cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", cfg.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerSettings(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Durable, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handle(consumeCtx, cfg, msg, handler)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming %s: %w", cfg.Durable, err)
	}

	c.logger.Info("consumer started",
		"stream", cfg.Stream,
		"durable", cfg.Durable,
		logging.Subject(cfg.FilterSubject),
	)

	return func() {
		cons.Stop()
		cancel()
	}, nil
}

// EnsureConsumer creates or updates the durable described by cfg without
// consuming from it. Messages accumulate for it until its stage starts.
func (c *JetStreamClient) EnsureConsumer(ctx context.Context, cfg messaging.ConsumerConfig) error {
	stream, err := c.js.Stream(ctx, cfg.Stream)
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", cfg.Stream, err)
	}
	if _, err := stream.CreateOrUpdateConsumer(ctx, consumerSettings(cfg)); err != nil {
		return fmt.Errorf("failed to create/update consumer %s: %w", cfg.Durable, err)
	}
	return nil
}

func consumerSettings(cfg messaging.ConsumerConfig) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Name:          cfg.Durable,
		Durable:       cfg.Durable,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
	}
}

func (c *JetStreamClient) handle(ctx context.Context, cfg messaging.ConsumerConfig, msg jetstream.Msg, handler messaging.MessageHandler) {
	m := &messaging.Message{
		Subject:  msg.Subject(),
		Data:     msg.Data(),
		Metadata: headersFrom(msg.Headers()),
	}
	if meta, err := msg.Metadata(); err == nil {
		m.Timestamp = meta.Timestamp
		m.NumDelivered = meta.NumDelivered
	}

	msgCtx := ctx
	if id := m.Header(messaging.HeaderMsgID); id != "" {
		msgCtx = logging.ContextWithMessageID(msgCtx, id)
	}
	if cfg.AckWait > 0 {
		var cancel context.CancelFunc
		msgCtx, cancel = context.WithTimeout(msgCtx, cfg.AckWait)
		defer cancel()
	}

	start := time.Now()
	err := handler(msgCtx, m)
	metrics.HandleDuration.WithLabelValues(cfg.Durable).Observe(time.Since(start).Seconds())

	outcome := settlement(err)
	if outcome == metrics.OutcomeNak && exhausted(cfg, m.NumDelivered) {
		outcome = metrics.OutcomeTerm
	}
	metrics.MessagesHandled.WithLabelValues(cfg.Durable, outcome).Inc()

	switch outcome {
	case metrics.OutcomeAck:
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.WarnContext(msgCtx, "ack failed", logging.Subject(m.Subject), logging.Error(ackErr))
		}
	case metrics.OutcomeTerm:
		c.logger.ErrorContext(msgCtx, "message rejected permanently",
			logging.Subject(m.Subject),
			"attempt", m.NumDelivered,
			logging.Error(err),
		)
		c.deadLetter(msgCtx, cfg.Durable, m, err)
		_ = msg.Term()
	default:
		c.logger.WarnContext(msgCtx, "message processing failed, scheduling redelivery",
			logging.Subject(m.Subject),
			"attempt", m.NumDelivered,
			logging.Error(err),
		)
		_ = msg.NakWithDelay(cfg.NakDelay)
	}
}

// settlement maps a handler result onto the acknowledgment to send.
func settlement(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeAck
	case errclass.IsPermanent(err):
		return metrics.OutcomeTerm
	default:
		return metrics.OutcomeNak
	}
}
