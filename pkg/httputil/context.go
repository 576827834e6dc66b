package httputil

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type ContextKey string

const (
	RequestIDCtxKey ContextKey = "RequestID"
	LogEntryCtxKey  ContextKey = "LogEntry"
)

// RequestID returns the request id set by the request id middleware.
func RequestID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(RequestIDCtxKey).(string)
	return id, ok && id != ""
}

// ContextWithLogger returns ctx carrying a request-scoped logger.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LogEntryCtxKey, logger)
}

// Logger returns the request-scoped logger, or a no-op logger outside the logger middleware.
func Logger(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(LogEntryCtxKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ErrorResponse represents a structured error response.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Error sends a JSON response with an error code and message.
func Error(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, ErrorResponse{Code: statusCode, Message: message})
}
