package region

import (
	"encoding/json"
	"fmt"
)

// regionsKey is the document property holding the region array.
const regionsKey = "regions"

// wireRegion is the compact on-disk shape of a FieldRegion.
type wireRegion struct {
	Field  string  `json:"field"`
	Left   float64 `json:"l"`
	Top    float64 `json:"t"`
	Right  float64 `json:"r"`
	Bottom float64 `json:"b"`
	Conf   float64 `json:"c"`
	Count  int     `json:"n"`
}

// legacyRegion mirrors wireRegion but tolerates blobs written before
// confidence and sample count were persisted.
type legacyRegion struct {
	Field  string   `json:"field"`
	Left   float64  `json:"l"`
	Top    float64  `json:"t"`
	Right  float64  `json:"r"`
	Bottom float64  `json:"b"`
	Conf   *float64 `json:"c"`
	Count  *int     `json:"n"`
}

type wireTemplate struct {
	Regions []wireRegion `json:"regions"`
}

// Encode serializes regions into the versionless template blob.
// Confidence and sample count are always written.
func Encode(regions []FieldRegion) ([]byte, error) {
	doc := wireTemplate{Regions: make([]wireRegion, 0, len(regions))}
	for _, r := range regions {
		doc.Regions = append(doc.Regions, wireRegion{
			Field:  r.Field,
			Left:   r.Left,
			Top:    r.Top,
			Right:  r.Right,
			Bottom: r.Bottom,
			Conf:   r.Confidence,
			Count:  r.SampleCount,
		})
	}
	blob, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return blob, nil
}

// Decode parses a template blob.
//
// Absent "c" and "n" keys default to 1.0 and 1; so does an "n" below 1. A document without a usable
// "regions" array decodes to an empty list; entries that are not region
// objects or have no field name are skipped. A blob that is not a JSON object
// at all is a *DecodeError, never an empty template.
func Decode(blob []byte) ([]FieldRegion, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(blob, &doc); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if doc == nil {
		return nil, &DecodeError{Err: fmt.Errorf("template blob is null")}
	}

	raw, ok := doc[regionsKey]
	if !ok {
		return []FieldRegion{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []FieldRegion{}, nil
	}

	regions := make([]FieldRegion, 0, len(items))
	for _, item := range items {
		var lr legacyRegion
		if err := json.Unmarshal(item, &lr); err != nil {
			continue
		}
		r := FieldRegion{
			Field:       lr.Field,
			Left:        lr.Left,
			Top:         lr.Top,
			Right:       lr.Right,
			Bottom:      lr.Bottom,
			Confidence:  DefaultConfidence,
			SampleCount: DefaultSampleCount,
		}
		if lr.Conf != nil {
			r.Confidence = *lr.Conf
		}
		if lr.Count != nil && *lr.Count >= 1 {
			r.SampleCount = *lr.Count
		}
		if Validate(r) != nil {
			continue
		}
		regions = append(regions, r)
	}
	return Dedupe(regions), nil
}
