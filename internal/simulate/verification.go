package simulate

import (
	"math"
)

// Evaluation compares learned templates against the ground-truth layouts.
type Evaluation struct {
	Issuers      int
	Fields       int
	Missing      int
	MeanAbsError float64
	MaxAbsError  float64
}

// Evaluate computes the mean and max absolute coordinate error of every
// learned field. A ground-truth field absent from its template counts as missing.
func Evaluate(layouts []Layout, learned map[string][]LearnedRegion) Evaluation {
	var (
		ev    Evaluation
		sum   float64
		count int
	)
	for _, l := range layouts {
		ev.Issuers++
		byField := make(map[string]LearnedRegion, len(learned[l.Issuer]))
		for _, r := range learned[l.Issuer] {
			byField[r.Field] = r
		}
		for _, truth := range l.Regions {
			ev.Fields++
			got, ok := byField[truth.Field]
			if !ok {
				ev.Missing++
				continue
			}
			for _, d := range [...]float64{
				got.Left - truth.Left, got.Top - truth.Top,
				got.Right - truth.Right, got.Bottom - truth.Bottom,
			} {
				d = math.Abs(d)
				sum += d
				count++
				ev.MaxAbsError = math.Max(ev.MaxAbsError, d)
			}
		}
	}
	if count > 0 {
		ev.MeanAbsError = sum / float64(count)
	}
	return ev
}
