package etl

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the etl package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("etl")
}
