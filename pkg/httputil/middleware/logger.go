package middleware

import (
	"net/http"
	"time"

	"github.com/edgeflare/stationstream/pkg/httputil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResponseRecorder is a wrapper for http.ResponseWriter to capture status codes.
type ResponseRecorder struct {
	http.ResponseWriter
	StatusCode int
}

func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

func (rr *ResponseRecorder) WriteHeader(statusCode int) {
	rr.StatusCode = statusCode
	rr.ResponseWriter.WriteHeader(statusCode)
}

// LoggerOptions defines configuration for the logger middleware.
type LoggerOptions struct {
	Logger *zap.Logger
	Format func(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field
}

func defaultFormat(reqID string, rec *ResponseRecorder, r *http.Request, latency time.Duration) []zap.Field {
	return []zap.Field{
		zap.String("req_id", reqID),
		zap.Int("status", rec.StatusCode),
		zap.String("method", r.Method),
		zap.String("url", r.URL.String()),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.Duration("latency", latency),
	}
}

// LoggerWithOptions logs one "response" entry per request. The request logger
// is stored in the context under httputil.LogEntryCtxKey for handlers.
func LoggerWithOptions(options *LoggerOptions) func(http.Handler) http.Handler {
	logger := zap.NewNop()
	format := defaultFormat
	if options != nil {
		if options.Logger != nil {
			logger = options.Logger
		}
		if options.Format != nil {
			format = options.Format
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID, ok := httputil.RequestID(r)
			if !ok {
				reqID = uuid.Nil.String()
			}

			rec := NewResponseRecorder(w)
			ctx := httputil.ContextWithLogger(r.Context(), logger.With(zap.String("req_id", reqID)))
			next.ServeHTTP(rec, r.WithContext(ctx))

			logger.Info("response", format(reqID, rec, r, time.Since(start))...)
		})
	}
}
