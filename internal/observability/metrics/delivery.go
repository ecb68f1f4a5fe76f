package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics tracks outbound side effects: notifications and exports.
type DeliveryMetrics struct {
	notifications *prometheus.CounterVec
	exports       *prometheus.CounterVec
	exportBytes   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
}

// NewDeliveryMetrics creates and registers notification and export metrics.
func NewDeliveryMetrics(registry *prometheus.Registry) (*DeliveryMetrics, error) {
	m := &DeliveryMetrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notification attempts by provider and outcome",
		}, []string{"provider", "status"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exports_total",
			Help: "Export attempts by target and outcome",
		}, []string{"target", "status"}),
		exportBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "export_bytes_total",
			Help: "Bytes written to export targets",
		}, []string{"target"}),
		exportLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "export_duration_seconds",
			Help:    "Duration of export uploads",
			Buckets: latencyBuckets,
		}, []string{"target"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register delivery metrics: %w", err)
	}
	return m, nil
}

// RecordNotification counts one notification attempt.
func (m *DeliveryMetrics) RecordNotification(provider, status string) {
	m.notifications.WithLabelValues(provider, status).Inc()
}

// RecordExport counts one export attempt.
func (m *DeliveryMetrics) RecordExport(target, status string, bytes int64, duration time.Duration) {
	m.exports.WithLabelValues(target, status).Inc()
	if status == StatusSuccess {
		m.exportBytes.WithLabelValues(target).Add(float64(bytes))
	}
	m.exportLatency.WithLabelValues(target).Observe(duration.Seconds())
}

// Describe implements prometheus.Collector.
func (m *DeliveryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.notifications.Describe(ch)
	m.exports.Describe(ch)
	m.exportBytes.Describe(ch)
	m.exportLatency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *DeliveryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.notifications.Collect(ch)
	m.exports.Collect(ch)
	m.exportBytes.Collect(ch)
	m.exportLatency.Collect(ch)
}
