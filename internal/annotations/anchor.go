package annotations

import (
	"encoding/json"
	"fmt"
	"math"
)

// Anchor describes where an annotation attaches on a rendered page.
// Coordinates are page-relative; an anchor never spans pages.
type Anchor struct {
	Page         int         `json:"page"`
	Coordinates  Coordinates `json:"coordinates"`
	TextRange    *TextRange  `json:"textRange,omitempty"`
	SelectedText string      `json:"selectedText,omitempty"`
	Points       []Point     `json:"points,omitempty"`
}

// Coordinates is the anchor bounding box.
type Coordinates struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextRange holds character offsets into the extracted page text.
type TextRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Point is a single vertex of a freehand ink path.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Validate checks the anchor shape and returns a *ValidationError naming the first offending field.
func (a Anchor) Validate() error {
	if a.Page < 1 {
		return newValidationError("anchor.page", "must be at least 1")
	}
	coordinates := []struct {
		field string
		value float64
	}{
		{"anchor.coordinates.x", a.Coordinates.X},
		{"anchor.coordinates.y", a.Coordinates.Y},
		{"anchor.coordinates.width", a.Coordinates.Width},
		{"anchor.coordinates.height", a.Coordinates.Height},
	}
	for _, coordinate := range coordinates {
		if err := validateNonNegative(coordinate.field, coordinate.value); err != nil {
			return err
		}
	}
	if a.TextRange != nil {
		if a.TextRange.Start < 0 {
			return newValidationError("anchor.textRange.start", "must not be negative")
		}
		if a.TextRange.End < a.TextRange.Start {
			return newValidationError("anchor.textRange.end", "must not precede start")
		}
	}
	for index, point := range a.Points {
		if err := validateNonNegative(fmt.Sprintf("anchor.points[%d].x", index), point.X); err != nil {
			return err
		}
		if err := validateNonNegative(fmt.Sprintf("anchor.points[%d].y", index), point.Y); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports field-for-field equality.
func (a Anchor) Equal(other Anchor) bool {
	if a.Page != other.Page || a.Coordinates != other.Coordinates || a.SelectedText != other.SelectedText {
		return false
	}
	if (a.TextRange == nil) != (other.TextRange == nil) {
		return false
	}
	if a.TextRange != nil && *a.TextRange != *other.TextRange {
		return false
	}
	if len(a.Points) != len(other.Points) {
		return false
	}
	for index := range a.Points {
		if a.Points[index] != other.Points[index] {
			return false
		}
	}
	return true
}

func validateNonNegative(field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return newValidationError(field, "must be a finite number")
	}
	if value < 0 {
		return newValidationError(field, "must not be negative")
	}
	return nil
}

func encodeAnchor(anchor Anchor) (string, error) {
	encoded, err := json.Marshal(anchor)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeAnchor(raw string) (Anchor, error) {
	var anchor Anchor
	if err := json.Unmarshal([]byte(raw), &anchor); err != nil {
		return Anchor{}, err
	}
	return anchor, nil
}
