package models

import (
	"encoding/json"
	"fmt"
)

// Category is the routing label assigned to a classified signal.
// The set is closed: every switch over Category must handle all four values.
type Category uint8

const (
	CategoryObservation Category = iota + 1
	CategoryRareObservation
	CategoryAlert
	CategoryDarkSignal
)

// Categories lists every category in routing order.
var Categories = []Category{
	CategoryObservation,
	CategoryRareObservation,
	CategoryAlert,
	CategoryDarkSignal,
}

func (c Category) String() string {
	switch c {
	case CategoryObservation:
		return "observation"
	case CategoryRareObservation:
		return "rare-observation"
	case CategoryAlert:
		return "alert"
	case CategoryDarkSignal:
		return "dark-signal"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	return c >= CategoryObservation && c <= CategoryDarkSignal
}

// ParseCategory converts the wire name of a category back into a Category.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", uint8(c))
	}
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
