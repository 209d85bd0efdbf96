package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
)

// deadLetterWriteTimeout bounds a dead letter publish. It runs detached from
// the message context, which may already have expired.
const deadLetterWriteTimeout = 5 * time.Second

// DeadLetterStream keeps messages that consumers gave up on for inspection.
func DeadLetterStream(prefix string) StreamConfig {
	return StreamConfig{
		Name:       "SIGNALS_DLQ",
		Subjects:   []string{prefix + ".>"},
		MaxAge:     7 * 24 * time.Hour,
		MaxBytes:   256 * 1024 * 1024,
		Duplicates: 10 * time.Minute,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
	}
}

// DeadLetterQueue writes failed messages to a JetStream stream shared by all
// stage replicas.
type DeadLetterQueue struct {
	js      *JetStreamClient
	stream  jetstream.Stream
	prefix  string
	written uint64
}

// DeadLetterStats summarises the dead letter stream.
type DeadLetterStats struct {
	WrittenLocal uint64 `json:"written_local" yaml:"written_local"`
	Messages     uint64 `json:"messages" yaml:"messages"`
	Bytes        uint64 `json:"bytes" yaml:"bytes"`
	FirstSeq     uint64 `json:"first_seq" yaml:"first_seq"`
	LastSeq      uint64 `json:"last_seq" yaml:"last_seq"`
	Consumers    int    `json:"consumers" yaml:"consumers"`
}

// OpenDeadLetters creates or updates the dead letter stream under prefix.
func (c *JetStreamClient) OpenDeadLetters(ctx context.Context, prefix string) (*DeadLetterQueue, error) {
	cfg := DeadLetterStream(prefix)
	if err := c.EnsureStream(ctx, cfg); err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	stream, err := c.js.Stream(ctx, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("open dlq stream: %w", err)
	}
	c.logger.Info("dead letter stream ready", "stream", cfg.Name, logging.Subject(prefix+".>"))
	return &DeadLetterQueue{js: c, stream: stream, prefix: prefix}, nil
}

// EnableDeadLetters opens the dead letter stream and makes Consume copy every
// terminated message into it.
func (c *JetStreamClient) EnableDeadLetters(ctx context.Context, prefix string) (*DeadLetterQueue, error) {
	q, err := c.OpenDeadLetters(ctx, prefix)
	if err != nil {
		return nil, err
	}
	c.dlq = q
	return q, nil
}

// Write records msg as a dead letter of consumer.
func (q *DeadLetterQueue) Write(ctx context.Context, consumer string, msg *messaging.Message, cause error) error {
	if q == nil {
		return nil
	}

	data, err := json.Marshal(messaging.NewDeadLetter(msg, consumer, cause, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	out := &messaging.Message{
		Subject: messaging.DeadLetterSubject(q.prefix, consumer),
		Data:    data,
	}
	if id := msg.Header(messaging.HeaderMsgID); id != "" {
		out.SetHeader(messaging.HeaderMsgID, consumer+":"+id)
	}
	if err := q.js.Publish(ctx, out); err != nil {
		return err
	}

	atomic.AddUint64(&q.written, 1)
	return nil
}

// Stats returns the state of the dead letter stream.
func (q *DeadLetterQueue) Stats(ctx context.Context) (DeadLetterStats, error) {
	stats := DeadLetterStats{WrittenLocal: atomic.LoadUint64(&q.written)}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return stats, fmt.Errorf("dlq stream info: %w", err)
	}
	stats.Messages = info.State.Msgs
	stats.Bytes = info.State.Bytes
	stats.FirstSeq = info.State.FirstSeq
	stats.LastSeq = info.State.LastSeq
	stats.Consumers = info.State.Consumers
	return stats, nil
}

// List returns up to limit dead letters, oldest first.
func (q *DeadLetterQueue) List(ctx context.Context, limit int) ([]messaging.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{q.prefix + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch dead letters: %w", err)
	}

	var letters []messaging.DeadLetter
	for msg := range msgs.Messages() {
		var dl messaging.DeadLetter
		if err := json.Unmarshal(msg.Data(), &dl); err != nil {
			q.js.logger.Warn("skipping unreadable dead letter", logging.Subject(msg.Subject()), logging.Error(err))
			continue
		}
		letters = append(letters, dl)
	}
	if err := msgs.Error(); err != nil {
		q.js.logger.Warn("dead letter fetch ended early", logging.Error(err))
	}

	return letters, nil
}

// Purge removes every dead letter, or only those of consumer when it is set.
func (q *DeadLetterQueue) Purge(ctx context.Context, consumer string) error {
	var opts []jetstream.StreamPurgeOpt
	if consumer != "" {
		opts = append(opts, jetstream.WithPurgeSubject(messaging.DeadLetterSubject(q.prefix, consumer)))
	}
	if err := q.stream.Purge(ctx, opts...); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	return nil
}

// deadLetter copies a terminated message to the dead letter stream, if one is
// enabled. Failures are logged; the message is terminated either way.
func (c *JetStreamClient) deadLetter(ctx context.Context, durable string, m *messaging.Message, cause error) {
	if c.dlq == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterWriteTimeout)
	defer cancel()

	if err := c.dlq.Write(writeCtx, durable, m, cause); err != nil {
		metrics.DeadLetters.WithLabelValues(durable, "error").Inc()
		c.logger.ErrorContext(ctx, "failed to write dead letter", logging.Subject(m.Subject), logging.Error(err))
		return
	}
	metrics.DeadLetters.WithLabelValues(durable, "written").Inc()
}

// exhausted reports whether attempt was the last delivery cfg allows.
func exhausted(cfg messaging.ConsumerConfig, attempt uint64) bool {
	return cfg.MaxDeliver > 0 && attempt >= uint64(cfg.MaxDeliver)
}
