package observability

import "github.com/tphakala/imaging-churn/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("metrics")
