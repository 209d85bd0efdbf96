// Package messagingtest provides in-memory messaging fakes for tests.
package messagingtest

import (
	"context"
	"sync"

	"github.com/telhawk-systems/signalhawk/common/messaging"
)

// Publisher records published messages. It drops a message whose
// Nats-Msg-Id was already accepted on the same subject, like the duplicate
// window of the stream capturing that subject. The same id on another
// subject is kept.
type Publisher struct {
	mu       sync.Mutex
	messages []*messaging.Message
	seen     map[dedupKey]bool
	err      error
}

type dedupKey struct {
	subject string
	id      string
}

// NewPublisher creates an empty recording publisher.
func NewPublisher() *Publisher {
	return &Publisher{seen: make(map[dedupKey]bool)}
}

// FailWith makes every subsequent Publish return err. Nil clears it.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish implements messaging.Publisher.
func (p *Publisher) Publish(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if id := msg.Header(messaging.HeaderMsgID); id != "" {
		key := dedupKey{subject: msg.Subject, id: id}
		if p.seen[key] {
			return nil
		}
		p.seen[key] = true
	}

	clone := *msg
	clone.Data = append([]byte(nil), msg.Data...)
	if msg.Metadata != nil {
		clone.Metadata = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			clone.Metadata[k] = v
		}
	}
	p.messages = append(p.messages, &clone)
	return nil
}

// Messages returns a snapshot of the accepted messages.
func (p *Publisher) Messages() []*messaging.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*messaging.Message(nil), p.messages...)
}

// OnSubject returns the accepted messages published to subject.
func (p *Publisher) OnSubject(subject string) []*messaging.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*messaging.Message
	for _, m := range p.messages {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}
