package cli

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the cli module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("cli")
}
