// Package region holds the remembered field locations of an issuer template
// and the blob codec used to persist them.
package region

import "strings"

// Defaults applied to regions that carry no confidence or sample count.
const (
	DefaultConfidence  = 1.0
	DefaultSampleCount = 1
)

// FieldRegion is one remembered location of a semantic field on the page.
// Coordinates are conventionally normalized to [0,1] of page width/height.
type FieldRegion struct {
	Field       string
	Left        float64
	Top         float64
	Right       float64
	Bottom      float64
	Confidence  float64
	SampleCount int
}

// New returns a region for a single fresh observation.
func New(field string, left, top, right, bottom float64) FieldRegion {
	return FieldRegion{
		Field:       field,
		Left:        left,
		Top:         top,
		Right:       right,
		Bottom:      bottom,
		Confidence:  DefaultConfidence,
		SampleCount: DefaultSampleCount,
	}
}

// Validate reports whether r can be stored. Coordinates are not checked.
func Validate(r FieldRegion) error {
	if strings.TrimSpace(r.Field) == "" {
		return ErrEmptyField
	}
	return nil
}

// Index maps regions by field name. Later duplicates win.
func Index(regions []FieldRegion) map[string]FieldRegion {
	idx := make(map[string]FieldRegion, len(regions))
	for _, r := range regions {
		idx[r.Field] = r
	}
	return idx
}

// Dedupe collapses repeated field names, keeping the position of the first
// occurrence and the value of the last.
func Dedupe(regions []FieldRegion) []FieldRegion {
	out := make([]FieldRegion, 0, len(regions))
	pos := make(map[string]int, len(regions))
	for _, r := range regions {
		if i, ok := pos[r.Field]; ok {
			out[i] = r
			continue
		}
		pos[r.Field] = len(out)
		out = append(out, r)
	}
	return out
}
