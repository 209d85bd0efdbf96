// Package classify assigns a routing category to a raw signal event.
package classify

import "github.com/telhawk-systems/signalhawk/common/models"

// Intensity thresholds at or above which a signal is escalated.
const (
	RareCreatureIntensity = 3
	AlertIntensity        = 2
)

// Classify returns the category of event. It is pure and total: every
// event maps to exactly one category, and unknown types are observations.
func Classify(event models.Event) models.Category {
	switch event.Type {
	case models.TypeDarkSignal:
		return models.CategoryDarkSignal
	case models.TypeCreature:
		if event.Intensity >= RareCreatureIntensity {
			return models.CategoryRareObservation
		}
		return models.CategoryObservation
	case models.TypeHazard, models.TypeAnomaly:
		if event.Intensity >= AlertIntensity {
			return models.CategoryAlert
		}
		return models.CategoryObservation
	default:
		return models.CategoryObservation
	}
}
