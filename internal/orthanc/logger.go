package orthanc

import "github.com/tphakala/imaging-churn/internal/logger"

// GetLogger returns the orthanc package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("orthanc")
}
