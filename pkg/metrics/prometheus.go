// Package metrics provides Prometheus metrics for the fieldmemo template service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by callers.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeDecode   = "decode_error"
	OutcomeConflict = "conflict"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Template store
	templateOps       *prometheus.CounterVec
	templateOpLatency *prometheus.HistogramVec
	mergeFields       *prometheus.CounterVec
	mergeConflicts    prometheus.Counter
	templateSize      prometheus.Histogram

	// Ingestion
	observations     *prometheus.CounterVec
	kafkaMessages    *prometheus.CounterVec
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueue     prometheus.Counter
	queueDequeue     prometheus.Counter
	queueErrors      *prometheus.CounterVec

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter
	workerMessagesPerSecond prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// customRegistry keeps default Go collectors out of /healthz.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "fieldmemo",
		subsystem:        "templates",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.templateOps = m.counterVec("operations_total",
		"Template store operations by operation and outcome", "operation", "outcome")
	m.templateOpLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "operation_latency_milliseconds",
		Help:      "Template store operation latency in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"operation"})
	m.mergeFields = m.counterVec("merge_fields_total",
		"Fields touched by merges, by kind (matched, added, decayed)", "kind")
	m.mergeConflicts = m.counter("merge_conflicts_total",
		"Conditional writes rejected because the template changed underneath a merge")
	m.templateSize = m.histogram("template_fields",
		"Number of fields in a template after a write", []float64{1, 2, 4, 8, 16, 32, 64})

	m.observations = m.counterVec("observations_total",
		"Observations submitted for asynchronous learning by status", "status")
	m.kafkaMessages = m.counterVec("kafka_messages_total",
		"Kafka observation messages by outcome", "outcome")
	m.queueSize = m.gauge("queue_size", "Current number of queued observations")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Observations enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Observations dequeued")
	m.queueErrors = m.counterVec("queue_enqueue_errors_total", "Rejected enqueues by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Number of merge workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Time to apply one queued observation", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Queued observations that failed to merge")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Observations merged per second")

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100})
}

// RecordTemplateOperation counts a load, save or merge by outcome.
func RecordTemplateOperation(operation, outcome string) {
	globalManager.templateOps.WithLabelValues(operation, outcome).Inc()
}

// RecordTemplateOperationLatency records a store operation latency in milliseconds.
func RecordTemplateOperationLatency(operation string, latencyMs float64) {
	globalManager.templateOpLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordMergeFields adds the per-kind field counts of one merge.
func RecordMergeFields(matched, added, decayed int) {
	globalManager.mergeFields.WithLabelValues("matched").Add(float64(matched))
	globalManager.mergeFields.WithLabelValues("added").Add(float64(added))
	globalManager.mergeFields.WithLabelValues("decayed").Add(float64(decayed))
}

// RecordMergeConflict counts a rejected conditional write.
func RecordMergeConflict() {
	globalManager.mergeConflicts.Inc()
}

// RecordTemplateSize observes the number of fields written for an issuer.
func RecordTemplateSize(fields int) {
	globalManager.templateSize.Observe(float64(fields))
}

// RecordObservation counts a submitted observation by status
// (accepted, duplicate, rejected).
func RecordObservation(status string) {
	globalManager.observations.WithLabelValues(status).Inc()
}

// RecordKafkaMessage counts a consumed Kafka message by outcome.
func RecordKafkaMessage(outcome string) {
	globalManager.kafkaMessages.WithLabelValues(outcome).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts an accepted enqueue.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue counts a dequeue.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the number of workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records the time to apply one observation.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed queued merge.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// UpdateWorkerMessagesPerSecond sets the merge throughput.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent counts an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint counts an error response of an endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
