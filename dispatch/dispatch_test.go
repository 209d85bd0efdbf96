package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/signalhawk/common/errclass"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/messaging/messagingtest"
	"github.com/telhawk-systems/signalhawk/common/models"
)

const prefix = "signals.classified"

type recordingConsumer struct {
	mu   sync.Mutex
	seen []models.Envelope
	err  error
}

func (c *recordingConsumer) Consume(ctx context.Context, env models.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, env)
	return c.err
}

func (c *recordingConsumer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func envelope(id string, c models.Category, body string) models.Envelope {
	event, raw, err := models.DecodeEvent([]byte(body))
	if err != nil {
		panic(err)
	}
	return models.Envelope{ID: id, Category: c, Event: event, Body: raw}
}

func TestDispatcher_PublishesToCategorySubject(t *testing.T) {
	pub := messagingtest.NewPublisher()
	d := NewDispatcher(pub, prefix)

	body := `{"type":"creature","intensity":7,"species":"kraken"}`
	err := d.Dispatch(context.Background(), envelope("m-1", models.CategoryRareObservation, body))
	require.NoError(t, err)

	msgs := pub.OnSubject("signals.classified.rare-observation")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, body, string(msgs[0].Data))
	assert.Equal(t, "m-1", msgs[0].Header(messaging.HeaderMsgID))
	assert.Equal(t, "rare-observation", msgs[0].Header(messaging.HeaderCategory))
}

func TestDispatcher_MarshalsEventWithoutBody(t *testing.T) {
	pub := messagingtest.NewPublisher()
	d := NewDispatcher(pub, prefix)

	env := models.Envelope{
		ID:       "m-2",
		Category: models.CategoryAlert,
		Event:    models.Event{Type: models.TypeHazard, Intensity: 3},
	}
	require.NoError(t, d.Dispatch(context.Background(), env))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"type":"hazard","intensity":3}`, string(msgs[0].Data))
}

func TestDispatcher_RejectsInvalidEnvelope(t *testing.T) {
	pub := messagingtest.NewPublisher()
	d := NewDispatcher(pub, prefix)

	err := d.Dispatch(context.Background(), models.Envelope{ID: "x", Category: models.Category(0)})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	err = d.Dispatch(context.Background(), models.Envelope{Category: models.CategoryAlert, Body: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidEnvelope)

	assert.Empty(t, pub.Messages())
}

func TestDispatcher_PublishFailureIsReturned(t *testing.T) {
	pub := messagingtest.NewPublisher()
	pub.FailWith(errors.New("broker unavailable"))
	d := NewDispatcher(pub, prefix)

	err := d.Dispatch(context.Background(), envelope("m-3", models.CategoryObservation, `{"type":"creature"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}

func TestDispatcher_RepeatedIDIsPublishedOnce(t *testing.T) {
	pub := messagingtest.NewPublisher()
	d := NewDispatcher(pub, prefix)
	env := envelope("m-4", models.CategoryAlert, `{"type":"anomaly","intensity":5}`)

	require.NoError(t, d.Dispatch(context.Background(), env))
	require.NoError(t, d.Dispatch(context.Background(), env))

	assert.Len(t, pub.Messages(), 1)
}

func newRouter() (*Router, *recordingConsumer, *recordingConsumer, *recordingConsumer) {
	r := NewRouter(prefix, logging.Discard())
	store := &recordingConsumer{}
	index := &recordingConsumer{}
	decipher := &recordingConsumer{}
	r.Register("store", store, models.CategoryObservation, models.CategoryRareObservation)
	r.Register("index", index, models.CategoryAlert)
	r.Register("decipher", decipher, models.CategoryDarkSignal)
	return r, store, index, decipher
}

func TestRouter_RoutesByCategory(t *testing.T) {
	tests := []struct {
		category  models.Category
		wantStore int
		wantIndex int
		wantDark  int
	}{
		{models.CategoryObservation, 1, 0, 0},
		{models.CategoryRareObservation, 1, 0, 0},
		{models.CategoryAlert, 0, 1, 0},
		{models.CategoryDarkSignal, 0, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.category.String(), func(t *testing.T) {
			r, store, index, dark := newRouter()
			msg := &messaging.Message{
				Subject: messaging.ClassifiedSubject(prefix, tt.category),
				Data:    []byte(`{"type":"creature","intensity":1}`),
			}
			msg.SetHeader(messaging.HeaderMsgID, "id-1")
			msg.SetHeader(messaging.HeaderCategory, tt.category.String())

			require.NoError(t, r.Handle(context.Background(), msg))
			assert.Equal(t, tt.wantStore, store.count())
			assert.Equal(t, tt.wantIndex, index.count())
			assert.Equal(t, tt.wantDark, dark.count())
		})
	}
}

func TestRouter_EnvelopeRoundTrip(t *testing.T) {
	pub := messagingtest.NewPublisher()
	d := NewDispatcher(pub, prefix)
	r, _, index, _ := newRouter()

	body := `{"type":"hazard","intensity":4,"location":{"lat":1,"lon":2}}`
	sent := envelope("evt-9", models.CategoryAlert, body)
	require.NoError(t, d.Dispatch(context.Background(), sent))

	for _, msg := range pub.Messages() {
		require.NoError(t, r.Handle(context.Background(), msg))
	}

	require.Equal(t, 1, index.count())
	got := index.seen[0]
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Category, got.Category)
	assert.Equal(t, sent.Event.Intensity, got.Event.Intensity)
	assert.JSONEq(t, `{"lat":1,"lon":2}`, string(got.Event.Location))
	assert.JSONEq(t, body, string(got.Body))
}

func TestRouter_MissingCategoryDefaultsToObservation(t *testing.T) {
	r, store, index, _ := newRouter()

	msg := &messaging.Message{Subject: "signals.unsorted", Data: []byte(`{"type":"hazard","intensity":9}`)}
	msg.SetHeader(messaging.HeaderMsgID, "id-2")

	require.NoError(t, r.Handle(context.Background(), msg))
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 0, index.count())
}

func TestRouter_CategoryFromSubjectWhenHeaderUnknown(t *testing.T) {
	r, _, index, _ := newRouter()

	msg := &messaging.Message{Subject: "signals.classified.alert", Data: []byte(`{"type":"hazard"}`)}
	msg.SetHeader(messaging.HeaderMsgID, "id-3")
	msg.SetHeader(messaging.HeaderCategory, "sighting")

	require.NoError(t, r.Handle(context.Background(), msg))
	assert.Equal(t, 1, index.count())
}

func TestRouter_UnregisteredCategoryIsAcknowledged(t *testing.T) {
	r := NewRouter(prefix, logging.Discard())
	store := &recordingConsumer{}
	r.Register("store", store, models.CategoryObservation)

	msg := &messaging.Message{Subject: "signals.classified.dark-signal", Data: []byte(`{"type":"dark-signal"}`)}
	msg.SetHeader(messaging.HeaderMsgID, "id-4")

	assert.NoError(t, r.Handle(context.Background(), msg))
	assert.Equal(t, 0, store.count())
	assert.Equal(t, []models.Category{models.CategoryObservation}, r.Categories())
}

func TestRouter_IDFallsBackToEventField(t *testing.T) {
	r, store, _, _ := newRouter()

	msg := &messaging.Message{Subject: "signals.classified.observation", Data: []byte(`{"id":"evt-1","type":"creature"}`)}
	require.NoError(t, r.Handle(context.Background(), msg))

	require.Equal(t, 1, store.count())
	assert.Equal(t, "evt-1", store.seen[0].ID)
}

func TestRouter_UndecodableMessageIsPermanent(t *testing.T) {
	r, store, _, _ := newRouter()

	bad := &messaging.Message{Subject: "signals.classified.observation", Data: []byte(`not json`)}
	bad.SetHeader(messaging.HeaderMsgID, "id-5")
	err := r.Handle(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, errclass.IsPermanent(err))

	noID := &messaging.Message{Subject: "signals.classified.observation", Data: []byte(`{"type":"creature"}`)}
	err = r.Handle(context.Background(), noID)
	assert.ErrorIs(t, err, ErrInvalidEnvelope)
	assert.True(t, errclass.IsPermanent(err))

	assert.Equal(t, 0, store.count())
}

func TestRouter_AnyFailureFailsTheMessage(t *testing.T) {
	r := NewRouter(prefix, logging.Discard())
	ok := &recordingConsumer{}
	failing := &recordingConsumer{err: errors.New("index unavailable")}
	r.Register("ok", ok, models.CategoryAlert)
	r.Register("failing", failing, models.CategoryAlert)

	msg := &messaging.Message{Subject: "signals.classified.alert", Data: []byte(`{"type":"hazard","intensity":2}`)}
	msg.SetHeader(messaging.HeaderMsgID, "id-6")

	err := r.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, errclass.IsTransient(err))
	assert.Contains(t, err.Error(), "failing")
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
}

func TestRouter_AllPermanentFailuresArePermanent(t *testing.T) {
	r := NewRouter(prefix, logging.Discard())
	r.Register("a", &recordingConsumer{err: errclass.MarkPermanent(errors.New("bad a"))}, models.CategoryDarkSignal)
	r.Register("b", &recordingConsumer{err: errclass.MarkPermanent(errors.New("bad b"))}, models.CategoryDarkSignal)

	msg := &messaging.Message{Subject: "signals.classified.dark-signal", Data: []byte(`{"type":"dark-signal"}`)}
	msg.SetHeader(messaging.HeaderMsgID, "id-7")

	err := r.Handle(context.Background(), msg)
	require.Error(t, err)
	assert.True(t, errclass.IsPermanent(err))
}

func TestConsumerFunc(t *testing.T) {
	var got string
	f := ConsumerFunc(func(ctx context.Context, env models.Envelope) error {
		got = env.ID
		return nil
	})
	require.NoError(t, f.Consume(context.Background(), models.Envelope{ID: "z"}))
	assert.Equal(t, "z", got)
}
