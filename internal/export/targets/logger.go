package targets

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the export targets logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("export")
}
