package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across stages.
const (
	FieldService   = "service"
	FieldMessageID = "message_id"
	FieldCategory  = "category"
	FieldSignal    = "signal_type"
	FieldSubject   = "subject"
	FieldTeam      = "team"
	FieldKeyID     = "kid"
	FieldLanguage  = "language"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// MessageID returns a slog attribute for a pipeline message id.
func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// Category returns a slog attribute for a routing category.
func Category(name string) slog.Attr {
	return slog.String(FieldCategory, name)
}

// Signal returns a slog attribute for the raw signal type.
func Signal(signalType string) slog.Attr {
	return slog.String(FieldSignal, signalType)
}

// Subject returns a slog attribute for a message subject.
func Subject(subject string) slog.Attr {
	return slog.String(FieldSubject, subject)
}

// Team returns a slog attribute for the team name.
func Team(name string) slog.Attr {
	return slog.String(FieldTeam, name)
}

// KeyID returns a slog attribute for a cipher key id.
func KeyID(kid string) slog.Attr {
	return slog.String(FieldKeyID, kid)
}

// Language returns a slog attribute for a language code.
func Language(code string) slog.Attr {
	return slog.String(FieldLanguage, code)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for an elapsed duration in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for an error. A nil error logs as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}
