package export

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the export package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("export")
}
