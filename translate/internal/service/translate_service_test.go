package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/signalhawk/common/errclass"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/models"
	"github.com/telhawk-systems/signalhawk/translate/internal/language"
	"github.com/telhawk-systems/signalhawk/translate/internal/ledger"
	"github.com/telhawk-systems/signalhawk/translate/internal/notify"
)

type MockDetector struct {
	mock.Mock
}

func (m *MockDetector) Detect(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

type MockTranslator struct {
	mock.Mock
}

func (m *MockTranslator) Translate(ctx context.Context, text, source string) (string, error) {
	args := m.Called(ctx, text, source)
	return args.String(0), args.Error(1)
}

func (m *MockTranslator) Target() string {
	return language.English
}

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Send(ctx context.Context, msg models.TranslatedMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockChannel) Type() string {
	return "mock"
}

type memoryLedger struct {
	claimed map[string]bool
	err     error
}

func (l *memoryLedger) Claim(ctx context.Context, id string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.claimed == nil {
		l.claimed = make(map[string]bool)
	}
	if l.claimed[id] {
		return false, nil
	}
	l.claimed[id] = true
	return true, nil
}

func workMessage(t *testing.T, id, text, team string) *messaging.Message {
	t.Helper()
	data, err := json.Marshal(models.WorkMessage{Message: text, TeamName: team})
	require.NoError(t, err)
	msg := &messaging.Message{Subject: "signals.deciphered", Data: data}
	msg.SetHeader(messaging.HeaderMsgID, id)
	return msg
}

func newService(d Detector, tr Translator, ch notify.Channel, l Ledger) *TranslateService {
	return NewTranslateService(d, tr, ch, l, "Fallback Team", logging.Discard())
}

func TestHandle_TranslatesAndNotifies(t *testing.T) {
	detector := new(MockDetector)
	translator := new(MockTranslator)
	channel := new(MockChannel)

	detector.On("Detect", mock.Anything, "hola mundo").Return("es", nil)
	translator.On("Translate", mock.Anything, "hola mundo", "es").Return("hello world", nil)
	channel.On("Send", mock.Anything, models.TranslatedMessage{
		TeamName:         "Deep Divers",
		OriginalText:     "hola mundo",
		TranslatedText:   "hello world",
		DetectedLanguage: "es",
	}).Return(nil)

	svc := newService(detector, translator, channel, ledger.NoopLedger{})
	require.NoError(t, svc.Handle(context.Background(), workMessage(t, "dark-1", "hola mundo", "Deep Divers")))

	detector.AssertExpectations(t)
	translator.AssertExpectations(t)
	channel.AssertExpectations(t)
}

func TestHandle_EnglishSkipsTranslation(t *testing.T) {
	detector := new(MockDetector)
	translator := new(MockTranslator)
	channel := new(MockChannel)

	detector.On("Detect", mock.Anything, "hello there").Return("en", nil)
	channel.On("Send", mock.Anything, models.TranslatedMessage{
		TeamName:         "Deep Divers",
		OriginalText:     "hello there",
		TranslatedText:   "hello there",
		DetectedLanguage: "en",
	}).Return(nil)

	svc := newService(detector, translator, channel, ledger.NoopLedger{})
	require.NoError(t, svc.Handle(context.Background(), workMessage(t, "dark-2", "hello there", "Deep Divers")))

	translator.AssertNotCalled(t, "Translate", mock.Anything, mock.Anything, mock.Anything)
	channel.AssertExpectations(t)
}

func TestHandle_MissingTeamUsesConfigured(t *testing.T) {
	detector := new(MockDetector)
	channel := new(MockChannel)

	detector.On("Detect", mock.Anything, mock.Anything).Return("en", nil)
	channel.On("Send", mock.Anything, mock.MatchedBy(func(m models.TranslatedMessage) bool {
		return m.TeamName == "Fallback Team"
	})).Return(nil)

	svc := newService(detector, new(MockTranslator), channel, ledger.NoopLedger{})
	require.NoError(t, svc.Handle(context.Background(), workMessage(t, "dark-3", "hi", "")))
	channel.AssertExpectations(t)
}

func TestHandle_NotificationFailureIsSwallowed(t *testing.T) {
	detector := new(MockDetector)
	translator := new(MockTranslator)
	channel := new(MockChannel)

	detector.On("Detect", mock.Anything, mock.Anything).Return("fr", nil)
	translator.On("Translate", mock.Anything, mock.Anything, "fr").Return("hello", nil)
	channel.On("Send", mock.Anything, mock.Anything).Return(&notify.StatusError{StatusCode: 500})

	svc := newService(detector, translator, channel, ledger.NoopLedger{})
	err := svc.Handle(context.Background(), workMessage(t, "dark-4", "bonjour", "Deep Divers"))

	assert.NoError(t, err)
	channel.AssertNumberOfCalls(t, "Send", 1)
}

func TestHandle_TransientFailures(t *testing.T) {
	tests := []struct {
		name         string
		detectErr    error
		translateErr error
	}{
		{name: "detection unavailable", detectErr: errors.New("comprehend throttled")},
		{name: "translation unavailable", translateErr: errors.New("translate 503")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detector := new(MockDetector)
			translator := new(MockTranslator)
			channel := new(MockChannel)

			detector.On("Detect", mock.Anything, mock.Anything).Return("de", tt.detectErr)
			translator.On("Translate", mock.Anything, mock.Anything, mock.Anything).Return("", tt.translateErr)

			svc := newService(detector, translator, channel, ledger.NoopLedger{})
			err := svc.Handle(context.Background(), workMessage(t, "dark-5", "hallo welt", "Deep Divers"))

			require.Error(t, err)
			assert.True(t, errclass.IsTransient(err))
			channel.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		})
	}
}

func TestHandle_PermanentFailures(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		svc := newService(new(MockDetector), new(MockTranslator), new(MockChannel), ledger.NoopLedger{})
		err := svc.Handle(context.Background(), &messaging.Message{Data: []byte("{not json")})
		require.Error(t, err)
		assert.True(t, errclass.IsPermanent(err))
	})

	t.Run("empty text", func(t *testing.T) {
		detector := new(MockDetector)
		svc := newService(detector, new(MockTranslator), new(MockChannel), ledger.NoopLedger{})
		err := svc.Handle(context.Background(), workMessage(t, "dark-6", "   ", "Deep Divers"))
		require.ErrorIs(t, err, ErrEmptyMessage)
		assert.True(t, errclass.IsPermanent(err))
		detector.AssertNotCalled(t, "Detect", mock.Anything, mock.Anything)
	})

	t.Run("undetermined language", func(t *testing.T) {
		detector := new(MockDetector)
		detector.On("Detect", mock.Anything, mock.Anything).Return("", language.ErrUndetermined)
		svc := newService(detector, new(MockTranslator), new(MockChannel), ledger.NoopLedger{})
		err := svc.Handle(context.Background(), workMessage(t, "dark-7", "1234", "Deep Divers"))
		require.Error(t, err)
		assert.True(t, errclass.IsPermanent(err))
	})
}

func TestHandle_RedeliveryNotifiesOnce(t *testing.T) {
	detector := new(MockDetector)
	translator := new(MockTranslator)
	channel := new(MockChannel)

	detector.On("Detect", mock.Anything, mock.Anything).Return("es", nil)
	translator.On("Translate", mock.Anything, mock.Anything, "es").Return("hello", nil)
	channel.On("Send", mock.Anything, mock.Anything).Return(nil)

	svc := newService(detector, translator, channel, &memoryLedger{})
	msg := workMessage(t, "dark-8", "hola", "Deep Divers")

	require.NoError(t, svc.Handle(context.Background(), msg))
	require.NoError(t, svc.Handle(context.Background(), msg))

	channel.AssertNumberOfCalls(t, "Send", 1)
}

func TestHandle_LedgerFailureIsTransient(t *testing.T) {
	detector := new(MockDetector)
	channel := new(MockChannel)
	detector.On("Detect", mock.Anything, mock.Anything).Return("en", nil)

	svc := newService(detector, new(MockTranslator), channel, &memoryLedger{err: errors.New("redis down")})
	err := svc.Handle(context.Background(), workMessage(t, "dark-9", "hello", "Deep Divers"))

	require.Error(t, err)
	assert.True(t, errclass.IsTransient(err))
	channel.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestNotify_WithoutIDSkipsLedger(t *testing.T) {
	channel := new(MockChannel)
	channel.On("Send", mock.Anything, mock.Anything).Return(nil)

	l := &memoryLedger{err: errors.New("must not be called")}
	svc := newService(new(MockDetector), new(MockTranslator), channel, l)

	require.NoError(t, svc.Notify(context.Background(), "", models.TranslatedMessage{OriginalText: "x"}))
	channel.AssertNumberOfCalls(t, "Send", 1)
}
