package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ETLMetrics tracks extraction and aggregation runs.
type ETLMetrics struct {
	records  *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	profiles prometheus.Counter
	runs     *prometheus.HistogramVec
}

// NewETLMetrics creates and registers ETL metrics.
func NewETLMetrics(registry *prometheus.Registry) (*ETLMetrics, error) {
	m := &ETLMetrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_image_records_total",
			Help: "Per-image feature rows produced, by source",
		}, []string{"source"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "etl_images_skipped_total",
			Help: "Inputs skipped because they could not be decoded or parsed",
		}, []string{"source"}),
		profiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "etl_profiles_total",
			Help: "Hospital profiles produced by aggregation",
		}),
		runs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "etl_run_duration_seconds",
			Help:    "Duration of ETL runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"source"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ETL metrics: %w", err)
	}
	return m, nil
}

// RecordRun adds the totals of one run.
func (m *ETLMetrics) RecordRun(source string, records, skipped, profiles int, duration time.Duration) {
	m.records.WithLabelValues(source).Add(float64(records))
	m.skipped.WithLabelValues(source).Add(float64(skipped))
	m.profiles.Add(float64(profiles))
	m.runs.WithLabelValues(source).Observe(duration.Seconds())
}

// Describe implements prometheus.Collector.
func (m *ETLMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.records.Describe(ch)
	m.skipped.Describe(ch)
	m.profiles.Describe(ch)
	m.runs.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *ETLMetrics) Collect(ch chan<- prometheus.Metric) {
	m.records.Collect(ch)
	m.skipped.Collect(ch)
	m.profiles.Collect(ch)
	m.runs.Collect(ch)
}
