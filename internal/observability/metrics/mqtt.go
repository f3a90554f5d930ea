package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTT drop reasons
const (
	DropDisconnected = "disconnected"
	DropEncode       = "encode"
	DropPublish      = "publish"
)

// MQTTMetrics tracks the broker connection and the notification publisher.
// All methods are safe on a nil receiver.
type MQTTMetrics struct {
	connected       prometheus.Gauge
	lastConnected   prometheus.Gauge
	reconnects      prometheus.Counter
	errors          *prometheus.CounterVec
	published       *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	payloadBytes    prometheus.Histogram
	publishDuration prometheus.Histogram
}

// NewMQTTMetrics registers the MQTT metrics on registry
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingen_mqtt_connected",
			Help: "1 while connected to the broker",
		}),
		lastConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingen_mqtt_last_connected_timestamp_seconds",
			Help: "Unix time of the last successful broker connection",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingen_mqtt_reconnect_attempts_total",
			Help: "Broker reconnection attempts",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingen_mqtt_errors_total",
			Help: "Broker errors by operation",
		}, []string{"operation"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingen_mqtt_notifications_published_total",
			Help: "Notifications delivered to the broker by type",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingen_mqtt_notifications_dropped_total",
			Help: "Notifications not delivered by reason",
		}, []string{"reason"}),
		payloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingen_mqtt_payload_bytes",
			Help:    "Size of published payloads",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
		}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingen_mqtt_publish_duration_seconds",
			Help:    "Time until the broker acknowledged a publish",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		}),
	}
	for _, c := range []prometheus.Collector{
		m.connected, m.lastConnected, m.reconnects, m.errors,
		m.published, m.dropped, m.payloadBytes, m.publishDuration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
		}
	}
	return m, nil
}

// SetConnected records a connection state change
func (m *MQTTMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if !connected {
		m.connected.Set(0)
		return
	}
	m.connected.Set(1)
	m.lastConnected.SetToCurrentTime()
}

func (m *MQTTMetrics) RecordReconnectAttempt() {
	if m != nil {
		m.reconnects.Inc()
	}
}

// RecordError counts a failed broker operation
func (m *MQTTMetrics) RecordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// ObservePublish records an acknowledged publish
func (m *MQTTMetrics) ObservePublish(size int, took time.Duration) {
	if m == nil {
		return
	}
	m.payloadBytes.Observe(float64(size))
	m.publishDuration.Observe(took.Seconds())
}

func (m *MQTTMetrics) RecordPublished(notificationType string) {
	if m != nil {
		m.published.WithLabelValues(notificationType).Inc()
	}
}

// RecordDropped counts an undelivered notification; reason is one of the
// Drop constants
func (m *MQTTMetrics) RecordDropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}
