package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/fieldmemo/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a new InMemoryDeduper", t, func() {
		ctx := context.Background()

		Convey("When creating a deduper with default options", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("Then it starts empty", func() {
				So(d, ShouldNotBeNil)
				So(d.Size(), ShouldEqual, 0)
			})
		})

		Convey("When recording documents", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the document is new", func() {
				seen := d.SeenAndRecord(ctx, dedupe.Key("acme", "inv-1"))

				Convey("Then it should return false and record it", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the document was already seen", func() {
				d.SeenAndRecord(ctx, dedupe.Key("acme", "inv-1"))
				seen := d.SeenAndRecord(ctx, dedupe.Key("acme", "inv-1"))

				Convey("Then it should return true", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And two issuers reuse the same document id", func() {
				first := d.SeenAndRecord(ctx, dedupe.Key("acme", "1"))
				second := d.SeenAndRecord(ctx, dedupe.Key("globex", "1"))

				Convey("Then they are tracked separately", func() {
					So(first, ShouldBeFalse)
					So(second, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 2)
				})
			})
		})

		Convey("When a recorded document is unrecorded", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "doc")
			d.Unrecord(ctx, "doc")
			d.Unrecord(ctx, "never-seen")

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "doc"), ShouldBeFalse)
			})
		})

		Convey("When the bound is reached", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for i := 1; i <= 4; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("doc-%d", i))
			}

			Convey("Then the oldest id is forgotten first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "doc-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "doc-2"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "doc-1"), ShouldBeFalse)
			})
		})

		Convey("When the deduper is unbounded", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := 0; i < 1000; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("doc-%d", i))
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, 1000)
				So(d.SeenAndRecord(ctx, "doc-0"), ShouldBeTrue)
			})
		})
	})
}

func TestInMemoryDeduperConcurrent(t *testing.T) {
	ctx := context.Background()
	d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10_000))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fresh int
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if !d.SeenAndRecord(ctx, fmt.Sprintf("doc-%d", i)) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if fresh != 500 {
		t.Fatalf("expected each id to be new exactly once, got %d", fresh)
	}
	if d.Size() != 500 {
		t.Fatalf("size = %d, want 500", d.Size())
	}
}
