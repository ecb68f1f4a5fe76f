// Package observability wires the Prometheus collectors and serves them.
package observability

import (
	"fmt"
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/imaging-churn/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Prediction *metrics.PredictionMetrics
	ETL        *metrics.ETLMetrics
	HTTP       *metrics.HTTPMetrics
	MQTT       *metrics.MQTTMetrics
	Delivery   *metrics.DeliveryMetrics
}

// NewMetrics creates a private registry with every collector registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	prediction, err := metrics.NewPredictionMetrics(registry)
	if err != nil {
		return nil, err
	}
	etl, err := metrics.NewETLMetrics(registry)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}
	mqtt, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, err
	}
	delivery, err := metrics.NewDeliveryMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		registry:   registry,
		Prediction: prediction,
		ETL:        etl,
		HTTP:       httpMetrics,
		MQTT:       mqtt,
		Delivery:   delivery,
	}, nil
}

// Registry exposes the underlying registry for gathering in tests and tools.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// RegisterHandlers registers the metrics endpoint with the provided mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", m.Handler())
}
