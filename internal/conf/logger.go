package conf

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the config package logger. It is resolved on every call
// because the central logger is installed after configuration is loaded.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
