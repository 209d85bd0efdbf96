// Package generator produces synthetic signal events for exercising the
// pipeline end to end.
package generator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/telhawk-systems/signalhawk/common/models"
	"github.com/telhawk-systems/signalhawk/decipher/pkg/cipher"
)

// signalTypes are the non-dark types the generator draws from. "drift" is not
// a known type and exercises the default route.
var signalTypes = []string{
	models.TypeCreature,
	models.TypeHazard,
	models.TypeAnomaly,
	"drift",
}

// Options controls what the generator emits.
type Options struct {
	// Seed makes the output reproducible. Zero seeds from the clock.
	Seed int64

	// DarkRatio is the share of dark signals, between 0 and 1.
	DarkRatio float64

	// Kid and Alphabet encode dark signal payloads. Dark signals are only
	// generated when both are set.
	Kid      string
	Alphabet string
}

type Generator struct {
	faker *gofakeit.Faker
	opts  Options
}

func New(opts Options) (*Generator, error) {
	if opts.DarkRatio < 0 || opts.DarkRatio > 1 {
		return nil, fmt.Errorf("dark ratio %.2f out of range [0,1]", opts.DarkRatio)
	}
	if opts.DarkRatio > 0 && (opts.Kid == "" || opts.Alphabet == "") {
		return nil, fmt.Errorf("dark signals need a key id and alphabet")
	}
	return &Generator{faker: gofakeit.New(opts.Seed), opts: opts}, nil
}

type location struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Depth int     `json:"depth"`
}

// Next returns a new random event with a fresh time-ordered id.
func (g *Generator) Next() (models.Event, error) {
	event := models.Event{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Intensity: g.faker.Number(0, 5),
	}

	if g.opts.DarkRatio > 0 && g.faker.Float64Range(0, 1) < g.opts.DarkRatio {
		data, err := g.darkPayload()
		if err != nil {
			return models.Event{}, err
		}
		event.Type = models.TypeDarkSignal
		event.OriginalPayload = &models.OriginalPayload{Data: data}
		return event, nil
	}

	event.Type = g.faker.RandomString(signalTypes)

	species, err := json.Marshal(g.faker.Animal())
	if err != nil {
		return models.Event{}, err
	}
	loc, err := json.Marshal(location{
		Lat:   g.faker.Latitude(),
		Lon:   g.faker.Longitude(),
		Depth: g.faker.Number(0, 11000),
	})
	if err != nil {
		return models.Event{}, err
	}
	event.Species = species
	event.Location = loc
	return event, nil
}

// Plaintext returns a short lowercase sentence that survives a cipher round trip.
func (g *Generator) Plaintext() string {
	words := make([]string, g.faker.Number(3, 7))
	for i := range words {
		words[i] = strings.ToLower(g.faker.Word())
	}
	return strings.Join(words, " ")
}

func (g *Generator) darkPayload() (string, error) {
	return cipher.EncodePayload(cipher.Payload{
		Alg:    cipher.Algorithm,
		Kid:    g.opts.Kid,
		Cipher: cipher.Encode(g.Plaintext(), g.opts.Alphabet),
	})
}
