// Package metrics provides HTTP transport metrics for observability
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/patchgraph/ingen/internal/logger"
)

// HTTPMetrics contains Prometheus metrics for the HTTP transport
type HTTPMetrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestErrors   *prometheus.CounterVec
	rateLimited         *prometheus.CounterVec

	// WebSocket notification stream metrics
	wsActiveConnections prometheus.Gauge
	wsTotalConnections  *prometheus.CounterVec
	wsMessagesSent      *prometheus.CounterVec
	wsErrors            *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers new HTTP transport metrics
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *HTTPMetrics) initMetrics() {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"}, // path is the route pattern, not the raw URL
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingen_http_request_duration_seconds",
			Help:    "Time taken for HTTP requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15),
		},
		[]string{"method", "path"},
	)

	m.httpRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_http_request_errors_total",
			Help: "Total number of HTTP request errors",
		},
		[]string{"method", "path", "error_type"}, // error_type: validation, not_found, timeout, rejected
	)

	m.rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
		[]string{"path"},
	)

	m.wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingen_ws_active_connections",
			Help: "Current number of notification stream connections",
		},
	)

	m.wsTotalConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_ws_connections_total",
			Help: "Total number of notification stream connections",
		},
		[]string{"status"}, // status: established, closed, error
	)

	m.wsMessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_ws_messages_sent_total",
			Help: "Total number of notifications written to stream clients",
		},
		[]string{"type"},
	)

	m.wsErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingen_ws_errors_total",
			Help: "Total number of notification stream errors",
		},
		[]string{"error_type"}, // error_type: send_failed, dropped, upgrade
	)
}

// getCollectors returns all collectors in order for Describe/Collect operations
func (m *HTTPMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestErrors,
		m.rateLimited,
		m.wsActiveConnections,
		m.wsTotalConnections,
		m.wsMessagesSent,
		m.wsErrors,
	}
}

// Describe implements the Collector interface
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.getCollectors() {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.getCollectors() {
		collector.Collect(ch)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration float64) {
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordHTTPRequestError records an HTTP request error
func (m *HTTPMetrics) RecordHTTPRequestError(method, path, errorType string) {
	m.httpRequestErrors.WithLabelValues(method, path, errorType).Inc()
}

// RecordRateLimited records a request rejected by the rate limiter
func (m *HTTPMetrics) RecordRateLimited(path string) {
	m.rateLimited.WithLabelValues(path).Inc()
}

// WebSocket close reason constants to prevent high cardinality metrics
const (
	WSCloseReasonClosed = "closed" // Normal client disconnect
	WSCloseReasonError  = "error"  // Error occurred
)

// WSConnectionStarted increments active connections and total connections counter
func (m *HTTPMetrics) WSConnectionStarted() {
	m.wsActiveConnections.Inc()
	m.wsTotalConnections.WithLabelValues("established").Inc()
}

// WSConnectionClosed decrements active connections.
// Reason must be one of the WSCloseReason* constants to prevent high cardinality
func (m *HTTPMetrics) WSConnectionClosed(reason string) {
	if reason != WSCloseReasonClosed {
		reason = WSCloseReasonError
	}
	m.wsActiveConnections.Dec()
	m.wsTotalConnections.WithLabelValues(reason).Inc()
}

// RecordWSMessageSent records a notification written to a stream client
func (m *HTTPMetrics) RecordWSMessageSent(messageType string) {
	m.wsMessagesSent.WithLabelValues(messageType).Inc()
}

// RecordWSError records a notification stream error
func (m *HTTPMetrics) RecordWSError(errorType string) {
	m.wsErrors.WithLabelValues(errorType).Inc()
}

// GetActiveWSConnections returns the current number of stream connections
func (m *HTTPMetrics) GetActiveWSConnections() float64 {
	metric := &dto.Metric{}
	if err := m.wsActiveConnections.Write(metric); err != nil {
		log.Warn("failed to read websocket connection gauge", logger.Error(err))
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}
