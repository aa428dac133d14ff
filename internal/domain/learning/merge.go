// Package learning implements the incremental update that blends a fresh
// observation of an invoice layout into an issuer's remembered template.
package learning

import "github.com/okian/fieldmemo/internal/domain/region"

const (
	// DecayFactor is applied to the confidence of a remembered field that
	// was not detected in the current observation.
	DecayFactor = 0.95

	// ObservedConfidence is the nominal confidence of an incoming
	// observation when it is blended into an existing field.
	ObservedConfidence = 1.0
)

// Result is a merged template plus a summary of what happened to each field.
type Result struct {
	Regions []region.FieldRegion

	Matched int // fields present in both, position averaged
	Added   int // fields seen for the first time
	Decayed int // remembered fields missing from the observation
}

// Merge blends observed into existing.
//
// A field present in both moves toward the observation with weight
// 1/(n+1), where n is its sample count, and its confidence becomes
// (c + ObservedConfidence) / 2. A field only in observed is taken as is.
// A field only in existing keeps its position and sample count and has its
// confidence multiplied by DecayFactor. When existing is empty the result
// equals observed. Repeated field names in observed collapse to the last one.
func Merge(existing, observed []region.FieldRegion) Result {
	observed = region.Dedupe(observed)

	if len(existing) == 0 {
		out := make([]region.FieldRegion, len(observed))
		copy(out, observed)
		return Result{Regions: out, Added: len(out)}
	}

	prior := region.Index(existing)
	seen := make(map[string]struct{}, len(observed))
	res := Result{Regions: make([]region.FieldRegion, 0, len(observed)+len(existing))}

	for _, r := range observed {
		seen[r.Field] = struct{}{}
		e, ok := prior[r.Field]
		if !ok {
			res.Regions = append(res.Regions, r)
			res.Added++
			continue
		}
		res.Regions = append(res.Regions, blend(e, r))
		res.Matched++
	}

	for _, e := range region.Dedupe(existing) {
		if _, ok := seen[e.Field]; ok {
			continue
		}
		e.Confidence *= DecayFactor
		res.Regions = append(res.Regions, e)
		res.Decayed++
	}
	return res
}

// blend moves e toward r by one sample's weight. A remembered sample count
// below 1 counts as a single sample.
func blend(e, r region.FieldRegion) region.FieldRegion {
	n := max(e.SampleCount, region.DefaultSampleCount)
	total := n + 1
	wOld := float64(n) / float64(total)
	wNew := 1.0 / float64(total)
	return region.FieldRegion{
		Field:       e.Field,
		Left:        e.Left*wOld + r.Left*wNew,
		Top:         e.Top*wOld + r.Top*wNew,
		Right:       e.Right*wOld + r.Right*wNew,
		Bottom:      e.Bottom*wOld + r.Bottom*wNew,
		Confidence:  (e.Confidence + ObservedConfidence) / 2.0,
		SampleCount: total,
	}
}
