package messaging

import (
	"time"
)

// DeadLetter is the record kept for a message a consumer gave up on, either
// because it was rejected permanently or because redelivery was exhausted.
type DeadLetter struct {
	Timestamp time.Time         `json:"timestamp"`
	Consumer  string            `json:"consumer"`
	Subject   string            `json:"subject"`
	MessageID string            `json:"message_id,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Data      []byte            `json:"data"`
	Error     string            `json:"error"`
	Attempts  uint64            `json:"attempts"`
}

// NewDeadLetter captures msg as consumer saw it when it failed with err.
func NewDeadLetter(msg *Message, consumer string, err error, now time.Time) DeadLetter {
	dl := DeadLetter{
		Timestamp: now.UTC(),
		Consumer:  consumer,
		Subject:   msg.Subject,
		MessageID: msg.Header(HeaderMsgID),
		Data:      msg.Data,
		Attempts:  msg.NumDelivered,
	}
	if len(msg.Metadata) > 0 {
		dl.Headers = make(map[string]string, len(msg.Metadata))
		for k, v := range msg.Metadata {
			dl.Headers[k] = v
		}
	}
	if err != nil {
		dl.Error = err.Error()
	}
	return dl
}

// DeadLetterSubject returns the subject dead letters of consumer are kept on.
// Example: signals.dlq.observation-ingest
func DeadLetterSubject(prefix, consumer string) string {
	return prefix + "." + consumer
}
