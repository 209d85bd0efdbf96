package messaging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telhawk-systems/signalhawk/common/models"
)

func TestSubjectConstants_FollowNamingConvention(t *testing.T) {
	for _, subject := range []string{SubjectRawSignals, SubjectClassifiedPrefix, SubjectDeciphered} {
		parts := strings.Split(subject, ".")
		assert.GreaterOrEqual(t, len(parts), 2, "subject %q should be {domain}.{stage}", subject)
		assert.NotContains(t, subject, "*")
		assert.NotContains(t, subject, ">")
	}
}

func TestClassifiedSubject(t *testing.T) {
	tests := []struct {
		category models.Category
		want     string
	}{
		{models.CategoryObservation, "signals.classified.observation"},
		{models.CategoryRareObservation, "signals.classified.rare-observation"},
		{models.CategoryAlert, "signals.classified.alert"},
		{models.CategoryDarkSignal, "signals.classified.dark-signal"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifiedSubject(SubjectClassifiedPrefix, tt.category))
		})
	}
}

func TestCategoryFromSubject(t *testing.T) {
	for _, c := range models.Categories {
		got, ok := CategoryFromSubject(SubjectClassifiedPrefix, ClassifiedSubject(SubjectClassifiedPrefix, c))
		assert.True(t, ok)
		assert.Equal(t, c, got)
	}

	_, ok := CategoryFromSubject(SubjectClassifiedPrefix, "signals.classified.sighting")
	assert.False(t, ok)

	_, ok = CategoryFromSubject(SubjectClassifiedPrefix, "other.alert")
	assert.False(t, ok)
}

func TestClassifiedWildcard(t *testing.T) {
	assert.Equal(t, "signals.classified.>", ClassifiedWildcard(SubjectClassifiedPrefix))
}
