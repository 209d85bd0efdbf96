// Package models holds the data shapes that flow between pipeline stages.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Signal types understood by the classifier. Other values are legal and
// fall through to the default category.
const (
	TypeCreature   = "creature"
	TypeHazard     = "hazard"
	TypeAnomaly    = "anomaly"
	TypeDarkSignal = "dark-signal"
)

// ErrEmptyEvent is returned when a message body carries no event at all.
var ErrEmptyEvent = errors.New("empty signal event")

// Event is a raw environmental signal as emitted by the ingestion source.
// Species and Location are opaque and passed through unexamined.
type Event struct {
	ID              string           `json:"id,omitempty"`
	Type            string           `json:"type"`
	Intensity       int              `json:"intensity"`
	Species         json.RawMessage  `json:"species,omitempty"`
	Location        json.RawMessage  `json:"location,omitempty"`
	OriginalPayload *OriginalPayload `json:"originalPayload,omitempty"`
}

// OriginalPayload carries the base64-encoded cipher blob of a dark signal.
type OriginalPayload struct {
	Data string `json:"data"`
}

// eventFields receives every known field undecoded so that one field of an
// unexpected JSON type cannot make the whole event unreadable.
type eventFields struct {
	ID              json.RawMessage `json:"id"`
	Type            json.RawMessage `json:"type"`
	Intensity       json.RawMessage `json:"intensity"`
	Species         json.RawMessage `json:"species"`
	Location        json.RawMessage `json:"location"`
	OriginalPayload json.RawMessage `json:"originalPayload"`
}

// UnmarshalJSON decodes an event leniently. A field whose JSON type does not
// fit is treated as absent. Intensity accepts any JSON number, or a numeric
// string, and is rounded down so threshold comparisons are unaffected.
func (e *Event) UnmarshalJSON(data []byte) error {
	var f eventFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	*e = Event{
		ID:              scalarString(f.ID),
		Type:            stringField(f.Type),
		Intensity:       intensity(f.Intensity),
		Species:         f.Species,
		Location:        f.Location,
		OriginalPayload: originalPayload(f.OriginalPayload),
	}
	return nil
}

func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// scalarString renders a string or number id as text.
func scalarString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func intensity(raw json.RawMessage) int {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil || n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) {
		return 0
	}
	f = math.Floor(f)
	switch {
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

func originalPayload(raw json.RawMessage) *OriginalPayload {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var p OriginalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// detailWrapper matches event-bus deliveries that nest the signal under "detail".
type detailWrapper struct {
	Detail json.RawMessage `json:"detail"`
}

// DecodeEvent parses a signal event from a message body. Bodies wrapped as
// {"detail": {...}} are unwrapped first. The returned bytes are the event
// body exactly as it should be forwarded downstream.
func DecodeEvent(data []byte) (Event, []byte, error) {
	body := bytes.TrimSpace(data)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return Event{}, nil, ErrEmptyEvent
	}

	var wrapper detailWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Detail) > 0 && !bytes.Equal(wrapper.Detail, []byte("null")) {
		body = wrapper.Detail
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, nil, fmt.Errorf("decode signal event: %w", err)
	}
	return event, body, nil
}

// Envelope is a classified event ready for fan-out. Classification never
// modifies Event; Body holds the original JSON so passthrough fields survive
// unchanged.
type Envelope struct {
	ID       string
	Category Category
	Event    Event
	Body     []byte
}

// ObservationRecord is the persisted and indexed shape of an observation or alert.
type ObservationRecord struct {
	ID        string          `json:"id"`
	Team      string          `json:"team"`
	Species   json.RawMessage `json:"species,omitempty"`
	Location  json.RawMessage `json:"location,omitempty"`
	Intensity int             `json:"intensity"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
}

// NewObservationRecord builds the record for env on behalf of team.
func NewObservationRecord(env Envelope, team string, now time.Time) ObservationRecord {
	return ObservationRecord{
		ID:        env.ID,
		Team:      team,
		Species:   env.Event.Species,
		Location:  env.Event.Location,
		Intensity: env.Event.Intensity,
		Timestamp: now.UTC(),
		Type:      env.Category.String(),
	}
}

// WorkMessage is the work-queue payload produced by decipherment.
// Field names match the queue contract consumed by translation.
type WorkMessage struct {
	Message  string `json:"Message"`
	TeamName string `json:"TeamName"`
}

// TranslatedMessage is produced and consumed within a single translation pass.
type TranslatedMessage struct {
	TeamName         string
	OriginalText     string
	TranslatedText   string
	DetectedLanguage string
}

// Summary renders the one-line notification text.
func (m TranslatedMessage) Summary() string {
	return fmt.Sprintf("**%s**: %s -> %s (lang: %s)", m.TeamName, m.OriginalText, m.TranslatedText, m.DetectedLanguage)
}
