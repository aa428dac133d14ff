// Package model contains the payloads passed between transport and domain layers.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/fieldmemo/internal/domain/region"
)

// ErrInvalidObservation marks a payload that cannot be learned from.
var ErrInvalidObservation = errors.New("invalid observation")

// Region is the API shape of a field region. Confidence and sample count are
// optional and default to a fresh single observation.
type Region struct {
	Field       string   `json:"field"`
	Left        float64  `json:"left"`
	Top         float64  `json:"top"`
	Right       float64  `json:"right"`
	Bottom      float64  `json:"bottom"`
	Confidence  *float64 `json:"confidence,omitempty"`
	SampleCount *int     `json:"sample_count,omitempty"`
}

// FieldRegion converts r into the domain type, applying defaults.
func (r Region) FieldRegion() region.FieldRegion {
	fr := region.New(r.Field, r.Left, r.Top, r.Right, r.Bottom)
	if r.Confidence != nil {
		fr.Confidence = *r.Confidence
	}
	if r.SampleCount != nil {
		fr.SampleCount = *r.SampleCount
	}
	return fr
}

// FromFieldRegion converts a domain region into the API shape.
func FromFieldRegion(fr region.FieldRegion) Region {
	c, n := fr.Confidence, fr.SampleCount
	return Region{
		Field:       fr.Field,
		Left:        fr.Left,
		Top:         fr.Top,
		Right:       fr.Right,
		Bottom:      fr.Bottom,
		Confidence:  &c,
		SampleCount: &n,
	}
}

// FromFieldRegions converts a template into the API shape. Never returns nil.
func FromFieldRegions(regions []region.FieldRegion) []Region {
	out := make([]Region, 0, len(regions))
	for _, fr := range regions {
		out = append(out, FromFieldRegion(fr))
	}
	return out
}

// ToFieldRegions validates and converts API regions.
func ToFieldRegions(regions []Region) ([]region.FieldRegion, error) {
	out := make([]region.FieldRegion, 0, len(regions))
	for i, r := range regions {
		fr := r.FieldRegion()
		if err := region.Validate(fr); err != nil {
			return nil, fmt.Errorf("%w: regions[%d]: %w", ErrInvalidObservation, i, err)
		}
		if fr.SampleCount < 1 {
			return nil, fmt.Errorf("%w: regions[%d]: sample_count must be at least 1", ErrInvalidObservation, i)
		}
		out = append(out, fr)
	}
	return out, nil
}

// Observation is one processed invoice queued for learning.
type Observation struct {
	DocumentID string
	IssuerKey  string
	Regions    []region.FieldRegion
	ReceivedAt time.Time
}

// ObservationRequest is the wire shape of an observation, shared by the HTTP
// API and the Kafka topic.
type ObservationRequest struct {
	DocumentID string   `json:"document_id"`
	Issuer     string   `json:"issuer"`
	Regions    []Region `json:"regions"`
}

// Validate checks the request without converting it.
func (r ObservationRequest) Validate() error {
	if strings.TrimSpace(r.DocumentID) == "" {
		return fmt.Errorf("%w: document_id is required", ErrInvalidObservation)
	}
	if r.Issuer == "" {
		return fmt.Errorf("%w: issuer is required", ErrInvalidObservation)
	}
	_, err := ToFieldRegions(r.Regions)
	return err
}

// Observation converts a valid request, stamping it with now.
func (r ObservationRequest) Observation(now time.Time) (Observation, error) {
	if err := r.Validate(); err != nil {
		return Observation{}, err
	}
	regions, err := ToFieldRegions(r.Regions)
	if err != nil {
		return Observation{}, err
	}
	return Observation{
		DocumentID: r.DocumentID,
		IssuerKey:  r.Issuer,
		Regions:    regions,
		ReceivedAt: now,
	}, nil
}
