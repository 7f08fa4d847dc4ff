// Package middleware provides HTTP middleware for the control facade's
// admin surface (stats/flush/clear, and the check/quota/report endpoints
// when the facade is deployed as a sidecar rather than embedded in-process).
// See control/http.go's NewSidecarHandler, which wraps its entire mux in
// RequestLogger.
//
// This file implements structured request logging:
//   - Request/response logging with timing
//   - Correlation ID propagation (X-Request-ID header)
//   - JSON structured logging over the standard log package
//
// Design Notes:
//   - Uses standard log package for compatibility, not a third-party logger.
//   - Request IDs are generated with google/uuid when the caller doesn't
//     supply one via X-Request-ID.
package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request-id"

// logEntry is the JSON shape written for every request.
type logEntry struct {
	RequestID string `json:"request_id"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	RemoteAddr string `json:"remote_addr"`
}

// statusRecorder captures the response status code for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger wraps an http.Handler with structured request logging and
// request-ID propagation.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		entry := logEntry{
			RequestID:  reqID,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			DurationMS: time.Since(start).Milliseconds(),
			RemoteAddr: r.RemoteAddr,
		}
		if data, err := json.Marshal(entry); err == nil {
			log.Println(string(data))
		}
	})
}

// RequestID extracts the correlation ID stashed by RequestLogger.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
