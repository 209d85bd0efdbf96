package messagingtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/signalhawk/common/messaging"
)

func publish(t *testing.T, p *Publisher, subject, id string) {
	t.Helper()
	msg := &messaging.Message{Subject: subject, Data: []byte(`{}`)}
	if id != "" {
		msg.SetHeader(messaging.HeaderMsgID, id)
	}
	require.NoError(t, p.Publish(context.Background(), msg))
}

func TestPublisher_DropsRepeatedIDOnSameSubject(t *testing.T) {
	p := NewPublisher()

	publish(t, p, "signals.classified.alert", "evt-1")
	publish(t, p, "signals.classified.alert", "evt-1")

	assert.Len(t, p.OnSubject("signals.classified.alert"), 1)
}

func TestPublisher_KeepsSameIDOnOtherSubjects(t *testing.T) {
	p := NewPublisher()

	publish(t, p, "signals.classified.dark-signal", "evt-1")
	publish(t, p, "signals.deciphered", "evt-1")

	assert.Len(t, p.OnSubject("signals.classified.dark-signal"), 1)
	assert.Len(t, p.OnSubject("signals.deciphered"), 1)
	assert.Len(t, p.Messages(), 2)
}

func TestPublisher_NoIDIsNeverDropped(t *testing.T) {
	p := NewPublisher()

	publish(t, p, "signals.raw", "")
	publish(t, p, "signals.raw", "")

	assert.Len(t, p.Messages(), 2)
}

func TestPublisher_FailWith(t *testing.T) {
	p := NewPublisher()
	boom := errors.New("stream unavailable")
	p.FailWith(boom)

	err := p.Publish(context.Background(), &messaging.Message{Subject: "signals.raw"})
	assert.ErrorIs(t, err, boom)

	p.FailWith(nil)
	publish(t, p, "signals.raw", "evt-2")
	assert.Len(t, p.Messages(), 1)
}
