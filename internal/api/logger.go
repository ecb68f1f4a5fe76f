package api

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}
