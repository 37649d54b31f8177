// Package middleware holds the HTTP middleware of the daemon's local endpoints.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/contextkeys"
)

const XRequestIDHeader = "X-Request-ID"

// RequestIDMiddleware injects a request ID into the context.
// It tries to get it from the X-Request-ID header, otherwise generates a new UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(XRequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), contextkeys.RequestIDKey, requestID)
		w.Header().Set(XRequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// AccessLogMiddleware logs one debug line per request. It must run inside
// RequestIDMiddleware so the entry carries the request id.
func AccessLogMiddleware(logger domain.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug(r.Context(), "HTTP request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
