package learning_test

import (
	"math"
	"testing"

	"github.com/okian/fieldmemo/internal/domain/learning"
	"github.com/okian/fieldmemo/internal/domain/region"
	. "github.com/smartystreets/goconvey/convey"
)

const tolerance = 1e-9

func TestMerge_FirstObservation(t *testing.T) {
	Convey("Given no remembered template", t, func() {
		observed := []region.FieldRegion{region.New("invoice_number", 0.10, 0.05, 0.40, 0.08)}

		Convey("When merging the first observation", func() {
			res := learning.Merge(nil, observed)

			Convey("Then the result equals the observation", func() {
				So(res.Regions, ShouldResemble, observed)
				So(res.Added, ShouldEqual, 1)
				So(res.Matched, ShouldEqual, 0)
				So(res.Decayed, ShouldEqual, 0)
			})

			Convey("And the result does not alias the input", func() {
				res.Regions[0].Left = 0.99
				So(observed[0].Left, ShouldEqual, 0.10)
			})
		})

		Convey("When the observation carries its own confidence and samples", func() {
			custom := []region.FieldRegion{{Field: "total", Left: 0.5, Top: 0.5, Right: 0.6, Bottom: 0.6, Confidence: 0.4, SampleCount: 7}}
			res := learning.Merge([]region.FieldRegion{}, custom)

			Convey("Then they are stored unchanged", func() {
				So(res.Regions, ShouldResemble, custom)
			})
		})
	})
}

func TestMerge_SecondObservation(t *testing.T) {
	Convey("Given a template learned from one invoice", t, func() {
		existing := []region.FieldRegion{region.New("invoice_number", 0.10, 0.05, 0.40, 0.08)}

		Convey("When merging a slightly shifted observation", func() {
			res := learning.Merge(existing, []region.FieldRegion{region.New("invoice_number", 0.12, 0.06, 0.42, 0.09)})

			Convey("Then the position is the equal-weight average", func() {
				So(res.Regions, ShouldHaveLength, 1)
				got := res.Regions[0]
				So(got.Left, ShouldAlmostEqual, 0.11, tolerance)
				So(got.Top, ShouldAlmostEqual, 0.055, tolerance)
				So(got.Right, ShouldAlmostEqual, 0.41, tolerance)
				So(got.Bottom, ShouldAlmostEqual, 0.085, tolerance)
			})

			Convey("And the sample count grows by one with full confidence", func() {
				So(res.Regions[0].SampleCount, ShouldEqual, 2)
				So(res.Regions[0].Confidence, ShouldEqual, 1.0)
				So(res.Matched, ShouldEqual, 1)
			})
		})
	})
}

func TestMerge_WeightedAverage(t *testing.T) {
	Convey("Given a field remembered from three samples", t, func() {
		existing := []region.FieldRegion{{Field: "total", Left: 0.3, Top: 0.3, Right: 0.6, Bottom: 0.6, Confidence: 0.5, SampleCount: 3}}

		Convey("When merging one more observation", func() {
			res := learning.Merge(existing, []region.FieldRegion{region.New("total", 0.7, 0.7, 1.0, 1.0)})
			got := res.Regions[0]

			Convey("Then the old position weighs 3/4 and the new 1/4", func() {
				So(got.Left, ShouldAlmostEqual, 0.4, tolerance)
				So(got.Top, ShouldAlmostEqual, 0.4, tolerance)
				So(got.Right, ShouldAlmostEqual, 0.7, tolerance)
				So(got.Bottom, ShouldAlmostEqual, 0.7, tolerance)
				So(got.SampleCount, ShouldEqual, 4)
			})

			Convey("And confidence is averaged with a nominal 1.0", func() {
				So(got.Confidence, ShouldAlmostEqual, 0.75, tolerance)
			})
		})

		Convey("When the observation reports a low confidence", func() {
			obs := region.New("total", 0.3, 0.3, 0.6, 0.6)
			obs.Confidence = 0.1
			res := learning.Merge(existing, []region.FieldRegion{obs})

			Convey("Then the observation still counts as confidence 1.0", func() {
				So(res.Regions[0].Confidence, ShouldAlmostEqual, 0.75, tolerance)
			})
		})
	})
}

func TestMerge_DecayOnAbsence(t *testing.T) {
	Convey("Given a template with invoice number and total", t, func() {
		existing := []region.FieldRegion{
			{Field: "invoice_number", Left: 0.1, Top: 0.05, Right: 0.4, Bottom: 0.08, Confidence: 1.0, SampleCount: 2},
			{Field: "total", Left: 0.6, Top: 0.8, Right: 0.9, Bottom: 0.85, Confidence: 0.8, SampleCount: 5},
		}

		Convey("When only the invoice number is observed", func() {
			res := learning.Merge(existing, []region.FieldRegion{region.New("invoice_number", 0.13, 0.08, 0.43, 0.11)})
			idx := region.Index(res.Regions)

			Convey("Then total is kept with decayed confidence", func() {
				total := idx["total"]
				So(total.Confidence, ShouldAlmostEqual, 0.8*0.95, tolerance)
				So(total.SampleCount, ShouldEqual, 5)
				So(total.Left, ShouldEqual, 0.6)
				So(total.Top, ShouldEqual, 0.8)
				So(total.Right, ShouldEqual, 0.9)
				So(total.Bottom, ShouldEqual, 0.85)
			})

			Convey("And the invoice number is averaged, not decayed", func() {
				inv := idx["invoice_number"]
				So(inv.SampleCount, ShouldEqual, 3)
				So(inv.Confidence, ShouldEqual, 1.0)
				So(inv.Left, ShouldAlmostEqual, 0.11, tolerance)
			})

			Convey("And the counts describe the merge", func() {
				So(res.Matched, ShouldEqual, 1)
				So(res.Decayed, ShouldEqual, 1)
				So(res.Added, ShouldEqual, 0)
				So(res.Regions, ShouldHaveLength, 2)
			})
		})

		Convey("When nothing is observed", func() {
			res := learning.Merge(existing, nil)

			Convey("Then every field decays once", func() {
				So(res.Decayed, ShouldEqual, 2)
				idx := region.Index(res.Regions)
				So(idx["invoice_number"].Confidence, ShouldAlmostEqual, 0.95, tolerance)
				So(idx["total"].Confidence, ShouldAlmostEqual, 0.76, tolerance)
			})
		})

		Convey("When a field is missed repeatedly", func() {
			current := existing
			for i := 0; i < 3; i++ {
				current = learning.Merge(current, []region.FieldRegion{region.New("invoice_number", 0.1, 0.05, 0.4, 0.08)}).Regions
			}

			Convey("Then decay compounds geometrically", func() {
				So(region.Index(current)["total"].Confidence, ShouldAlmostEqual, 0.8*0.95*0.95*0.95, tolerance)
				So(region.Index(current)["total"].SampleCount, ShouldEqual, 5)
			})
		})
	})
}

func TestMerge_NewFieldAndUniqueness(t *testing.T) {
	Convey("Given a template with one field", t, func() {
		existing := []region.FieldRegion{region.New("invoice_number", 0.1, 0.05, 0.4, 0.08)}

		Convey("When a new field appears alongside it", func() {
			vat := region.FieldRegion{Field: "vat", Left: 0.5, Top: 0.7, Right: 0.8, Bottom: 0.75, Confidence: 0.9, SampleCount: 1}
			res := learning.Merge(existing, []region.FieldRegion{region.New("invoice_number", 0.1, 0.05, 0.4, 0.08), vat})

			Convey("Then the new field is stored as supplied", func() {
				So(region.Index(res.Regions)["vat"], ShouldResemble, vat)
				So(res.Added, ShouldEqual, 1)
			})
		})

		Convey("When the observation repeats a field name", func() {
			res := learning.Merge(existing, []region.FieldRegion{
				region.New("invoice_number", 0.9, 0.9, 0.95, 0.95),
				region.New("invoice_number", 0.2, 0.05, 0.5, 0.08),
			})

			Convey("Then only one entry remains, built from the last occurrence", func() {
				So(res.Regions, ShouldHaveLength, 1)
				So(res.Regions[0].Left, ShouldAlmostEqual, 0.15, tolerance)
				So(res.Regions[0].SampleCount, ShouldEqual, 2)
			})
		})
	})
}

func TestMerge_SampleCountMonotonic(t *testing.T) {
	current := []region.FieldRegion{region.New("a", 0, 0, 1, 1), region.New("b", 0, 0, 1, 1)}
	for i := 0; i < 20; i++ {
		observed := []region.FieldRegion{region.New("a", 0, 0, 1, 1)}
		if i%2 == 0 {
			observed = append(observed, region.New("b", 0, 0, 1, 1))
		}
		before := region.Index(current)
		current = learning.Merge(current, observed).Regions
		after := region.Index(current)

		if after["a"].SampleCount != before["a"].SampleCount+1 {
			t.Fatalf("round %d: a sample count %d -> %d", i, before["a"].SampleCount, after["a"].SampleCount)
		}
		wantB := before["b"].SampleCount
		if i%2 == 0 {
			wantB++
		}
		if after["b"].SampleCount != wantB {
			t.Fatalf("round %d: b sample count %d, want %d", i, after["b"].SampleCount, wantB)
		}
	}
}

func TestMerge_InvalidRememberedSampleCount(t *testing.T) {
	for _, n := range []int{0, -1, -5} {
		existing := []region.FieldRegion{{Field: "vat", Left: 0.2, Top: 0.2, Right: 0.4, Bottom: 0.4, Confidence: 1, SampleCount: n}}
		got := learning.Merge(existing, []region.FieldRegion{region.New("vat", 0.4, 0.4, 0.6, 0.6)}).Regions[0]

		for _, v := range []float64{got.Left, got.Top, got.Right, got.Bottom} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("n=%d: non-finite position %+v", n, got)
			}
		}
		if got.SampleCount != 2 || math.Abs(got.Left-0.3) > tolerance {
			t.Fatalf("n=%d: want a one-sample average, got %+v", n, got)
		}
	}
}
