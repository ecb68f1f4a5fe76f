package secrets

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the secrets package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("secrets")
}
