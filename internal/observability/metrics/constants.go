// Package metrics defines the Prometheus collectors for imaging-churn components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by counters.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics server.
const ShutdownTimeout = 5 * time.Second

// latencyBuckets covers sub-millisecond model calls up to multi-second network operations.
var latencyBuckets = prometheus.ExponentialBuckets(0.0005, 2, 14)
