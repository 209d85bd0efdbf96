package messaging

import (
	"strings"

	"github.com/telhawk-systems/signalhawk/common/models"
)

// Default subjects. Every one of them can be overridden through configuration.
// Pattern: {domain}.{stage}[.{category}]
const (
	// SubjectRawSignals is where the ingestion source publishes raw events.
	SubjectRawSignals = "signals.raw"

	// SubjectClassifiedPrefix is the fan-out topic; the category is appended.
	SubjectClassifiedPrefix = "signals.classified"

	// SubjectDeciphered is the work queue between decipherment and translation.
	SubjectDeciphered = "signals.deciphered"

	// SubjectDeadLetterPrefix keeps messages a consumer gave up on; the
	// durable consumer name is appended.
	SubjectDeadLetterPrefix = "signals.dlq"
)

// Durable consumer names, one per stage. Replicas of a stage share the
// durable and therefore split the work.
const (
	DurableClassifier = "classifier"
	DurableIngest     = "observation-ingest"
	DurableDecipher   = "dark-signal-decipherer"
	DurableTranslator = "message-translator"
)

// ClassifiedSubject returns the fan-out subject for a category.
// Example: signals.classified.rare-observation
func ClassifiedSubject(prefix string, c models.Category) string {
	return prefix + "." + c.String()
}

// ClassifiedWildcard returns the subject filter matching every category.
func ClassifiedWildcard(prefix string) string {
	return prefix + ".>"
}

// CategoryFromSubject recovers the category from a fan-out subject.
// It returns false when subject is not under prefix or names no category.
func CategoryFromSubject(prefix, subject string) (models.Category, bool) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return 0, false
	}
	c, err := models.ParseCategory(rest)
	if err != nil {
		return 0, false
	}
	return c, true
}
