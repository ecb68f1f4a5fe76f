package features

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the features package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("features")
}
