package scoring

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the scoring package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("scoring")
}
