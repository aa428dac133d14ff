package region_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/okian/fieldmemo/internal/domain/region"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCodec_RoundTrip(t *testing.T) {
	Convey("Given a template with several regions", t, func() {
		in := []region.FieldRegion{
			{Field: "invoice_number", Left: 0.1, Top: 0.05, Right: 0.4, Bottom: 0.08, Confidence: 1.0, SampleCount: 1},
			{Field: "total", Left: 0.61, Top: 0.82, Right: 0.93, Bottom: 0.87, Confidence: 0.857375, SampleCount: 12},
			{Field: "vat", Left: 1.0 / 3.0, Top: 0.2, Right: 0.3, Bottom: 0.25, Confidence: 0.0, SampleCount: 3},
		}

		Convey("When encoding and decoding it", func() {
			blob, err := region.Encode(in)
			So(err, ShouldBeNil)
			out, err := region.Decode(blob)

			Convey("Then every field survives unchanged", func() {
				So(err, ShouldBeNil)
				So(out, ShouldResemble, in)
			})
		})
	})

	Convey("Given an empty template", t, func() {
		blob, err := region.Encode(nil)
		So(err, ShouldBeNil)

		Convey("Then it encodes an empty regions array", func() {
			So(string(blob), ShouldEqual, `{"regions":[]}`)
		})

		Convey("And it decodes back to an empty list", func() {
			out, err := region.Decode(blob)
			So(err, ShouldBeNil)
			So(out, ShouldBeEmpty)
		})
	})
}

func TestCodec_EncodeUsesShortKeys(t *testing.T) {
	Convey("Given one encoded region", t, func() {
		blob, err := region.Encode([]region.FieldRegion{region.New("total", 0.5, 0.6, 0.7, 0.8)})
		So(err, ShouldBeNil)

		var doc map[string][]map[string]any
		So(json.Unmarshal(blob, &doc), ShouldBeNil)

		Convey("Then it carries the compact keys including c and n", func() {
			So(doc["regions"], ShouldHaveLength, 1)
			entry := doc["regions"][0]
			So(entry, ShouldContainKey, "field")
			for _, k := range []string{"l", "t", "r", "b", "c", "n"} {
				So(entry, ShouldContainKey, k)
			}
			So(entry["c"], ShouldEqual, 1.0)
			So(entry["n"], ShouldEqual, 1.0)
		})
	})
}

func TestCodec_LegacyDefaults(t *testing.T) {
	Convey("Given a blob written before confidence and sample count existed", t, func() {
		blob := []byte(`{"regions":[{"field":"vat","l":0.1,"t":0.2,"r":0.3,"b":0.25}]}`)

		Convey("When decoding it", func() {
			out, err := region.Decode(blob)

			Convey("Then confidence defaults to 1.0 and sample count to 1", func() {
				So(err, ShouldBeNil)
				So(out, ShouldResemble, []region.FieldRegion{
					{Field: "vat", Left: 0.1, Top: 0.2, Right: 0.3, Bottom: 0.25, Confidence: 1.0, SampleCount: 1},
				})
			})
		})
	})

	Convey("Given a blob with only one of the optional keys", t, func() {
		blob := []byte(`{"regions":[{"field":"total","l":0,"t":0,"r":1,"b":1,"n":4},{"field":"date","l":0,"t":0,"r":1,"b":1,"c":0.5}]}`)
		out, err := region.Decode(blob)
		So(err, ShouldBeNil)
		idx := region.Index(out)

		Convey("Then each missing key is defaulted independently", func() {
			So(idx["total"].Confidence, ShouldEqual, 1.0)
			So(idx["total"].SampleCount, ShouldEqual, 4)
			So(idx["date"].Confidence, ShouldEqual, 0.5)
			So(idx["date"].SampleCount, ShouldEqual, 1)
		})
	})
}

func TestCodec_NonPositiveSampleCount(t *testing.T) {
	Convey("Given blobs with a sample count below one", t, func() {
		blob := []byte(`{"regions":[{"field":"vat","l":0.1,"t":0.2,"r":0.3,"b":0.25,"c":0.7,"n":0},` +
			`{"field":"total","l":0.5,"t":0.8,"r":0.9,"b":0.85,"n":-1}]}`)

		Convey("When decoding them", func() {
			out, err := region.Decode(blob)
			idx := region.Index(out)

			Convey("Then the sample count is treated as absent", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 2)
				So(idx["vat"].SampleCount, ShouldEqual, 1)
				So(idx["vat"].Confidence, ShouldEqual, 0.7)
				So(idx["total"].SampleCount, ShouldEqual, 1)
			})
		})
	})
}

func TestCodec_MalformedInput(t *testing.T) {
	Convey("Given a truncated blob", t, func() {
		_, err := region.Decode([]byte(`{"regions":[{"field":"vat","l":0.1`))

		Convey("Then decoding fails with a decode error", func() {
			So(err, ShouldNotBeNil)
			So(errors.Is(err, region.ErrDecode), ShouldBeTrue)

			var de *region.DecodeError
			So(errors.As(err, &de), ShouldBeTrue)
			var syntaxErr *json.SyntaxError
			So(errors.As(err, &syntaxErr), ShouldBeTrue)
		})
	})

	Convey("Given blobs that are not JSON objects", t, func() {
		for _, blob := range []string{"", "not json", "null", "[1,2,3]", `"regions"`} {
			_, err := region.Decode([]byte(blob))
			So(errors.Is(err, region.ErrDecode), ShouldBeTrue)
		}
	})

	Convey("Given a document without a regions property", t, func() {
		out, err := region.Decode([]byte(`{"something":"else"}`))

		Convey("Then it decodes to an empty list", func() {
			So(err, ShouldBeNil)
			So(out, ShouldBeEmpty)
		})
	})

	Convey("Given a document whose regions property is not an array", t, func() {
		for _, blob := range []string{`{"regions":5}`, `{"regions":{"field":"x"}}`, `{"regions":null}`} {
			out, err := region.Decode([]byte(blob))
			So(err, ShouldBeNil)
			So(out, ShouldBeEmpty)
		}
	})

	Convey("Given an array with unusable entries", t, func() {
		blob := []byte(`{"regions":[42,"x",null,{"l":0.1},{"field":"total","l":"bad"},{"field":"vat","l":0.1,"t":0.2,"r":0.3,"b":0.4}]}`)
		out, err := region.Decode(blob)

		Convey("Then only well-formed named regions are kept", func() {
			So(err, ShouldBeNil)
			So(out, ShouldHaveLength, 1)
			So(out[0].Field, ShouldEqual, "vat")
		})
	})
}

func TestCodec_DuplicateFields(t *testing.T) {
	Convey("Given a blob that repeats a field name", t, func() {
		blob := []byte(`{"regions":[{"field":"total","l":0.1,"t":0.1,"r":0.2,"b":0.2,"n":2},{"field":"vat","l":0,"t":0,"r":1,"b":1},{"field":"total","l":0.5,"t":0.5,"r":0.6,"b":0.6,"n":3}]}`)
		out, err := region.Decode(blob)
		So(err, ShouldBeNil)

		Convey("Then the last occurrence wins and names stay unique", func() {
			So(out, ShouldHaveLength, 2)
			So(out[0].Field, ShouldEqual, "total")
			So(out[0].Left, ShouldEqual, 0.5)
			So(out[0].SampleCount, ShouldEqual, 3)
			So(out[1].Field, ShouldEqual, "vat")
		})
	})
}
