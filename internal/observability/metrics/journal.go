// Package metrics provides request journal metrics for observability
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// JournalMetrics contains Prometheus metrics for the request journal.
// It implements Recorder so the journal can depend on the interface.
type JournalMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	batchSize         prometheus.Histogram
	droppedRecords    prometheus.Counter
}

var _ Recorder = (*JournalMetrics)(nil)

// NewJournalMetrics creates and registers new journal metrics
func NewJournalMetrics(registry *prometheus.Registry) (*JournalMetrics, error) {
	m := &JournalMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register journal metrics: %w", err)
	}
	return m, nil
}

func (m *JournalMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_journal_operations_total",
			Help: "Total number of journal operations",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingen_journal_operation_duration_seconds",
			Help:    "Time taken for journal operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_journal_errors_total",
			Help: "Total number of journal errors",
		},
		[]string{"operation", "error_type"},
	)

	m.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingen_journal_batch_size",
		Help:    "Records written per journal transaction",
		Buckets: prometheus.ExponentialBuckets(1, BucketFactor2, BucketCount10),
	})

	m.droppedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingen_journal_dropped_records_total",
		Help: "Finalized records the journal could not keep up with",
	})
}

// RecordOperation implements Recorder
func (m *JournalMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder
func (m *JournalMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder
func (m *JournalMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// ObserveBatch records the size of one written batch
func (m *JournalMetrics) ObserveBatch(n int) {
	m.batchSize.Observe(float64(n))
}

// AddDropped counts records lost to a full journal queue
func (m *JournalMetrics) AddDropped(n uint64) {
	if n == 0 {
		return
	}
	m.droppedRecords.Add(float64(n))
}

// Describe implements the prometheus.Collector interface.
func (m *JournalMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	ch <- m.batchSize.Desc()
	ch <- m.droppedRecords.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *JournalMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	ch <- m.batchSize
	ch <- m.droppedRecords
}
