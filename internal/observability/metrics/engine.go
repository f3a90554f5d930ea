package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains the Prometheus metrics of the event engine.
//
// Counters fed from the audio thread are accumulated in atomics by the
// engine and added here from non real-time goroutines; only ObserveCycle
// is safe to call from the audio callback.
type EngineMetrics struct {
	registry *prometheus.Registry

	eventsSubmitted  *prometheus.CounterVec
	eventsFinalized  *prometheus.CounterVec
	finalizeLatency  *prometheus.HistogramVec
	lateEvents       prometheus.Counter
	deferredEvents   prometheus.Counter
	maidReclaimed    prometheus.Counter
	maidLeaked       prometheus.Counter
	eventOverflows   prometheus.Counter
	postQueueDepth   prometheus.Gauge
	cycleDuration    prometheus.Histogram
	xruns            prometheus.Counter
	active           prometheus.Gauge
	monitorSnapshots prometheus.Counter
}

// NewEngineMetrics creates and registers the engine metrics
func NewEngineMetrics(registry *prometheus.Registry) (*EngineMetrics, error) {
	m := &EngineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.eventsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_events_submitted_total",
			Help: "Total number of events submitted to the engine",
		},
		[]string{"kind"},
	)

	m.eventsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_events_finalized_total",
			Help: "Total number of events finalized by the post-processor",
		},
		[]string{"kind", "outcome"}, // outcome: ok, not_found, invalid, exists, failed, inactive
	)

	m.finalizeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingen_event_latency_seconds",
			Help:    "Time from submission to finalization",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15),
		},
		[]string{"kind"},
	)

	m.lateEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingen_events_late_total",
		Help: "Events applied at offset 0 because their timestamp preceded the block",
	})

	m.deferredEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingen_events_deferred_total",
		Help: "Blocks that left a due event queued for a later block",
	})

	m.maidReclaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingen_maid_reclaimed_total",
		Help: "Objects reclaimed by the maid",
	})

	m.maidLeaked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingen_maid_leaked_total",
		Help: "Objects dropped because the maid queue was full",
	})

	m.eventOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingen_event_buffer_overflows_total",
		Help: "Event writes or mixes rejected for lack of buffer capacity",
	})

	m.postQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingen_postprocessor_queue_depth",
		Help: "Events waiting to be finalized",
	})

	m.cycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingen_cycle_duration_seconds",
		Help:    "Time spent in the audio callback",
		Buckets: prometheus.ExponentialBuckets(BucketStart10us, BucketFactor2, BucketCount12),
	})

	m.xruns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingen_xruns_total",
		Help: "Audio callbacks that exceeded the block duration",
	})

	m.active = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingen_engine_active",
		Help: "Engine activation state (1 for active, 0 for inactive)",
	})

	m.monitorSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingen_monitor_snapshots_total",
		Help: "Port value snapshots broadcast to clients",
	})
}

// RecordSubmitted counts an event entering the engine
func (m *EngineMetrics) RecordSubmitted(kind string) {
	if m == nil {
		return
	}
	m.eventsSubmitted.WithLabelValues(kind).Inc()
}

// RecordFinalized counts a finalized event and its end-to-end latency
func (m *EngineMetrics) RecordFinalized(kind, outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.eventsFinalized.WithLabelValues(kind, outcome).Inc()
	m.finalizeLatency.WithLabelValues(kind).Observe(latencySeconds)
}

// AddLate adds events applied late
func (m *EngineMetrics) AddLate(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.lateEvents.Add(float64(n))
}

// AddDeferred adds blocks that deferred events
func (m *EngineMetrics) AddDeferred(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.deferredEvents.Add(float64(n))
}

// AddReclaimed adds objects reclaimed by the maid
func (m *EngineMetrics) AddReclaimed(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.maidReclaimed.Add(float64(n))
}

// AddLeaked adds objects the maid had to drop
func (m *EngineMetrics) AddLeaked(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.maidLeaked.Add(float64(n))
}

// AddOverflows adds rejected event buffer writes
func (m *EngineMetrics) AddOverflows(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.eventOverflows.Add(float64(n))
}

// AddXruns adds audio callbacks that ran over budget
func (m *EngineMetrics) AddXruns(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.xruns.Add(float64(n))
}

// AddMonitorSnapshots adds broadcast port snapshots
func (m *EngineMetrics) AddMonitorSnapshots(n int) {
	if m == nil || n == 0 {
		return
	}
	m.monitorSnapshots.Add(float64(n))
}

// SetQueueDepth sets the post-processor backlog
func (m *EngineMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.postQueueDepth.Set(float64(n))
}

// ObserveCycle records one audio callback duration. Lock-free.
func (m *EngineMetrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(seconds)
}

// SetActive records the engine activation state
func (m *EngineMetrics) SetActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.eventsSubmitted.Describe(ch)
	m.eventsFinalized.Describe(ch)
	m.finalizeLatency.Describe(ch)
	ch <- m.lateEvents.Desc()
	ch <- m.deferredEvents.Desc()
	ch <- m.maidReclaimed.Desc()
	ch <- m.maidLeaked.Desc()
	ch <- m.eventOverflows.Desc()
	ch <- m.postQueueDepth.Desc()
	ch <- m.cycleDuration.Desc()
	ch <- m.xruns.Desc()
	ch <- m.active.Desc()
	ch <- m.monitorSnapshots.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.eventsSubmitted.Collect(ch)
	m.eventsFinalized.Collect(ch)
	m.finalizeLatency.Collect(ch)
	ch <- m.lateEvents
	ch <- m.deferredEvents
	ch <- m.maidReclaimed
	ch <- m.maidLeaked
	ch <- m.eventOverflows
	ch <- m.postQueueDepth
	ch <- m.cycleDuration
	ch <- m.xruns
	ch <- m.active
	ch <- m.monitorSnapshots
}
