package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PredictionMetrics tracks model scoring.
type PredictionMetrics struct {
	predictions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	cacheHits   prometheus.Counter
	modelLoaded *prometheus.GaugeVec
}

// NewPredictionMetrics creates and registers prediction metrics.
func NewPredictionMetrics(registry *prometheus.Registry) (*PredictionMetrics, error) {
	m := &PredictionMetrics{
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_predictions_total",
			Help: "Total number of churn predictions by backend and risk level",
		}, []string{"backend", "risk_level"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_prediction_errors_total",
			Help: "Total number of rejected or failed predictions",
		}, []string{"backend", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "churn_prediction_duration_seconds",
			Help:    "Time spent scoring one feature vector",
			Buckets: latencyBuckets,
		}, []string{"backend"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "churn_prediction_cache_hits_total",
			Help: "Predictions answered from the cache",
		}),
		modelLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "churn_model_loaded",
			Help: "1 when a model is loaded for the backend, 0 otherwise",
		}, []string{"backend"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register prediction metrics: %w", err)
	}
	return m, nil
}

// RecordPrediction counts a successful prediction.
func (m *PredictionMetrics) RecordPrediction(backend, riskLevel string, duration time.Duration) {
	m.predictions.WithLabelValues(backend, riskLevel).Inc()
	m.duration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordPredictionError counts a failed prediction.
func (m *PredictionMetrics) RecordPredictionError(backend, reason string) {
	m.errors.WithLabelValues(backend, reason).Inc()
}

// RecordCacheHit counts a cached answer.
func (m *PredictionMetrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

// SetModelLoaded reports model availability.
func (m *PredictionMetrics) SetModelLoaded(backend string, loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	m.modelLoaded.WithLabelValues(backend).Set(v)
}

// Describe implements prometheus.Collector.
func (m *PredictionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.predictions.Describe(ch)
	m.errors.Describe(ch)
	m.duration.Describe(ch)
	m.cacheHits.Describe(ch)
	m.modelLoaded.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PredictionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.predictions.Collect(ch)
	m.errors.Collect(ch)
	m.duration.Collect(ch)
	m.cacheHits.Collect(ch)
	m.modelLoaded.Collect(ch)
}
