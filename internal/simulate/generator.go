package simulate

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/fieldmemo/internal/domain/model"
	"github.com/okian/fieldmemo/pkg/logger"
)

// newRand returns a generator seeded for reproducible runs.
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// GenerateLayouts creates one ground-truth layout per issuer. Every field of
// fields is placed at a random position that fits on the page.
func GenerateLayouts(rng *rand.Rand, issuers int, fields []string) []Layout {
	layouts := make([]Layout, issuers)
	for i := range layouts {
		regions := make([]model.Region, len(fields))
		for j, name := range fields {
			w := minFieldWidth + rng.Float64()*(maxFieldWidth-minFieldWidth)
			h := minFieldHeight + rng.Float64()*(maxFieldHeight-minFieldHeight)
			left := rng.Float64() * (1 - w)
			top := rng.Float64() * (1 - h)
			regions[j] = model.Region{Field: name, Left: left, Top: top, Right: left + w, Bottom: top + h}
		}
		layouts[i] = Layout{Issuer: fmt.Sprintf("issuer-%04d", i+1), Regions: regions}
	}
	return layouts
}

// GenerateObservations creates docs noisy invoices per layout. Each coordinate
// is shifted by gaussian noise with the given standard deviation and clamped to
// the page; each field is dropped with probability dropRate.
func GenerateObservations(ctx context.Context, rng *rand.Rand, layouts []Layout, docs int, jitter, dropRate float64) []model.ObservationRequest {
	out := make([]model.ObservationRequest, 0, len(layouts)*docs)
	for d := 0; d < docs; d++ {
		for _, l := range layouts {
			regions := make([]model.Region, 0, len(l.Regions))
			for _, r := range l.Regions {
				if rng.Float64() < dropRate {
					continue
				}
				regions = append(regions, model.Region{
					Field:  r.Field,
					Left:   noisy(rng, r.Left, jitter),
					Top:    noisy(rng, r.Top, jitter),
					Right:  noisy(rng, r.Right, jitter),
					Bottom: noisy(rng, r.Bottom, jitter),
				})
			}
			out = append(out, model.ObservationRequest{
				DocumentID: uuid.NewString(),
				Issuer:     l.Issuer,
				Regions:    regions,
			})
		}
	}
	logger.Get().Info(ctx, "generated observations",
		logger.Int("issuers", len(layouts)), logger.Int("count", len(out)))
	return out
}

func noisy(rng *rand.Rand, v, stddev float64) float64 {
	return math.Min(1, math.Max(0, v+rng.NormFloat64()*stddev))
}
