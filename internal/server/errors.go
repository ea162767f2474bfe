package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap/zapcore"

	"github.com/inboxguard/inboxguard/internal/classifier"
	"github.com/inboxguard/inboxguard/internal/logging"
)

// ErrorResponse is the HTTP rendering of a classifier error.
type ErrorResponse struct {
	StatusCode int
	Kind       string
	Message    string
	Level      zapcore.Level
}

// MapClassifyError maps classifier errors to HTTP error responses.
func MapClassifyError(err error) ErrorResponse {
	switch {
	case errors.Is(err, classifier.ErrNotReady):
		return ErrorResponse{
			StatusCode: http.StatusServiceUnavailable,
			Kind:       "not_ready",
			Message:    "model not loaded",
			Level:      zapcore.WarnLevel,
		}
	case errors.Is(err, classifier.ErrUnsupportedLabel):
		return ErrorResponse{
			StatusCode: http.StatusUnprocessableEntity,
			Kind:       "unsupported_label",
			Message:    logging.Redact(err.Error()),
			Level:      zapcore.ErrorLevel,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse{
			StatusCode: http.StatusGatewayTimeout,
			Kind:       "deadline",
			Message:    "timed out waiting for the model",
			Level:      zapcore.WarnLevel,
		}
	case errors.Is(err, context.Canceled):
		// The client is gone; the status is only for logs and metrics.
		return ErrorResponse{
			StatusCode: http.StatusServiceUnavailable,
			Kind:       "canceled",
			Message:    "request canceled",
			Level:      zapcore.DebugLevel,
		}
	default:
		return ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Kind:       "inference",
			Message:    logging.Redact(err.Error()),
			Level:      zapcore.ErrorLevel,
		}
	}
}
