package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/signalhawk/classifier/pkg/classify"
	"github.com/telhawk-systems/signalhawk/common/models"
	"github.com/telhawk-systems/signalhawk/decipher/pkg/cipher"
)

const qwerty = "qwertyuiopasdfghjklzxcvbnm"

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{DarkRatio: 1.5})
	assert.Error(t, err)

	_, err = New(Options{DarkRatio: 0.5})
	assert.Error(t, err, "dark signals without a key must be rejected")

	_, err = New(Options{DarkRatio: 0.5, Kid: "k1", Alphabet: qwerty})
	assert.NoError(t, err)
}

func TestNext_PlainSignals(t *testing.T) {
	g, err := New(Options{Seed: 42})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for i := 0; i < 200; i++ {
		event, err := g.Next()
		require.NoError(t, err)

		assert.NotEqual(t, models.TypeDarkSignal, event.Type)
		assert.Contains(t, signalTypes, event.Type)
		assert.GreaterOrEqual(t, event.Intensity, 0)
		assert.LessOrEqual(t, event.Intensity, 5)
		assert.NotEmpty(t, event.Species)
		assert.NotEmpty(t, event.Location)
		assert.False(t, ids[event.ID], "duplicate id %s", event.ID)
		ids[event.ID] = true
	}
}

func TestNext_DarkSignalsDecipher(t *testing.T) {
	g, err := New(Options{Seed: 7, DarkRatio: 1, Kid: "k1", Alphabet: qwerty})
	require.NoError(t, err)

	keys := cipher.KeySet{"k1": qwerty}
	for i := 0; i < 50; i++ {
		event, err := g.Next()
		require.NoError(t, err)
		require.Equal(t, models.TypeDarkSignal, event.Type)
		assert.Equal(t, models.CategoryDarkSignal, classify.Classify(event))

		require.NotNil(t, event.OriginalPayload)
		payload, err := cipher.ParsePayload(event.OriginalPayload.Data)
		require.NoError(t, err)

		plain, err := cipher.Decipher(payload, keys)
		require.NoError(t, err)
		assert.NotEmpty(t, plain)
	}
}

func TestPlaintext_RoundTrips(t *testing.T) {
	g, err := New(Options{Seed: 3})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		plain := g.Plaintext()
		assert.Equal(t, plain, cipher.Decode(cipher.Encode(plain, qwerty), qwerty))
	}
}
