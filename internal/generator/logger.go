package generator

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the generator package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("generator")
}
