package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it uses the service namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "fieldmemo")
				So(manager.subsystem, ShouldEqual, "templates")
				So(manager.histogramBuckets, ShouldNotBeEmpty)
			})
		})

		Convey("When two managers share a registry", func() {
			registry := prometheus.NewRegistry()
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then registering the second one panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})

	})
}

func TestTemplateMetrics(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording template operations", func() {
			before := testutil.ToFloat64(globalManager.templateOps.WithLabelValues("merge", OutcomeSuccess))
			RecordTemplateOperation("merge", OutcomeSuccess)
			RecordTemplateOperation("merge", OutcomeSuccess)

			Convey("Then the counter advances", func() {
				after := testutil.ToFloat64(globalManager.templateOps.WithLabelValues("merge", OutcomeSuccess))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording merge field counts", func() {
			matched := testutil.ToFloat64(globalManager.mergeFields.WithLabelValues("matched"))
			decayed := testutil.ToFloat64(globalManager.mergeFields.WithLabelValues("decayed"))
			RecordMergeFields(2, 1, 3)

			Convey("Then each kind is counted separately", func() {
				So(testutil.ToFloat64(globalManager.mergeFields.WithLabelValues("matched"))-matched, ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.mergeFields.WithLabelValues("decayed"))-decayed, ShouldEqual, 3)
			})
		})

		Convey("When recording a conflict", func() {
			before := testutil.ToFloat64(globalManager.mergeConflicts)
			RecordMergeConflict()
			So(testutil.ToFloat64(globalManager.mergeConflicts)-before, ShouldEqual, 1)
		})

		Convey("When recording histograms", func() {
			So(func() {
				RecordTemplateOperationLatency("load", 1.5)
				RecordTemplateSize(4)
				RecordWorkerProcessingLatency(3)
				RecordHTTPRequestDuration("/templates", "GET", "200", 2)
				RecordSystemGCPauseTime(0.2)
			}, ShouldNotPanic)
		})
	})
}

func TestIngestionMetrics(t *testing.T) {
	Convey("Given ingestion metrics", t, func() {
		Convey("When updating queue gauges", func() {
			UpdateQueueSize(7)
			UpdateQueueCapacity(10)
			UpdateQueueUtilization(0.7)

			Convey("Then gauges hold the last value", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.queueCapacity), ShouldEqual, 10)
				So(testutil.ToFloat64(globalManager.queueUtilization), ShouldEqual, 0.7)
			})
		})

		Convey("When counting observations and kafka messages", func() {
			accepted := testutil.ToFloat64(globalManager.observations.WithLabelValues("accepted"))
			invalid := testutil.ToFloat64(globalManager.kafkaMessages.WithLabelValues("invalid"))
			RecordObservation("accepted")
			RecordKafkaMessage("invalid")

			Convey("Then the labelled counters advance", func() {
				So(testutil.ToFloat64(globalManager.observations.WithLabelValues("accepted"))-accepted, ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.kafkaMessages.WithLabelValues("invalid"))-invalid, ShouldEqual, 1)
			})
		})

		Convey("When recording the remaining helpers", func() {
			So(func() {
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError("full")
				UpdateWorkerCount(4)
				RecordWorkerError()
				UpdateWorkerMessagesPerSecond(12.5)
				RecordHTTPRequest("/healthz", "GET", "200")
				RecordErrorByComponent("store", "backend")
				RecordErrorByEndpoint("/templates", "GET", "decode_error")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(12)
			}, ShouldNotPanic)
		})
	})
}

func TestGetRegistry(t *testing.T) {
	Convey("Given the custom registry", t, func() {
		RecordTemplateOperation("load", OutcomeNotFound)
		families, err := GetRegistry().Gather()

		Convey("Then it exposes the service metrics", func() {
			So(err, ShouldBeNil)
			names := make(map[string]bool, len(families))
			for _, f := range families {
				names[f.GetName()] = true
			}
			So(names["fieldmemo_templates_operations_total"], ShouldBeTrue)
		})
	})
}
