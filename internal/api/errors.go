package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/imaging-churn/internal/datastore"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
	"github.com/tphakala/imaging-churn/internal/scoring"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse builds an error body. message doubles as the error text
// when err is nil.
func NewErrorResponse(err error, message string, code int, correlationID string) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
	}
}

// HandleError logs err and writes the error envelope.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code, requestID(ctx))

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.String("error", resp.Error),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Warn("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// handleServiceError maps domain errors to status codes.
func (c *Controller) handleServiceError(ctx echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, scoring.ErrNotInitialized):
		return c.HandleError(ctx, err, "Model not initialized", http.StatusServiceUnavailable)
	case errors.IsCategory(err, errors.CategoryValidation):
		return c.HandleError(ctx, err, "Invalid request", http.StatusBadRequest)
	case errors.Is(err, datastore.ErrNotFound), errors.IsNotFound(err):
		return c.HandleError(ctx, err, "Not found", http.StatusNotFound)
	default:
		return c.HandleError(ctx, err, fallback, http.StatusInternalServerError)
	}
}
