package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"mercator-hq/callisto/pkg/inference"
)

// RequestIDHeader carries the server-assigned request id on every response.
const RequestIDHeader = "X-Request-ID"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const requestContextKey contextKey = "request_context"

// RequestContextFrom extracts the request context placed by the gate
// middleware. The zero value is returned when absent.
func RequestContextFrom(ctx context.Context) inference.RequestContext {
	rc, _ := ctx.Value(requestContextKey).(inference.RequestContext)
	return rc
}

// gateMiddleware allocates the request context for every inbound call,
// before any other processing, and reflects the id in the response header.
// Authentication is not checked here; only the pipeline entry point
// enforces the credential.
func gateMiddleware(gate *inference.Gate, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := gate.NewContext(r)
		ctx := context.WithValue(r.Context(), requestContextKey, rc)
		w.Header().Set(RequestIDHeader, rc.RequestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
		sw.ResponseWriter.WriteHeader(code)
	}
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.WriteHeader(http.StatusOK)
	}
	return sw.ResponseWriter.Write(b)
}

// loggingMiddleware logs one line per completed request, escalating the
// level on 4xx/5xx.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		switch {
		case sw.status >= 500:
			level = slog.LevelError
		case sw.status >= 400:
			level = slog.LevelWarn
		}

		rc := RequestContextFrom(r.Context())
		slog.Log(r.Context(), level, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"latency_ms", time.Since(start).Milliseconds(),
			"request_id", rc.RequestID,
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware turns handler panics into the uniform 500 error
// payload. The stack goes to the log, never to the caller.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				rc := RequestContextFrom(r.Context())
				slog.ErrorContext(r.Context(), "panic in handler",
					"panic", rec,
					"request_id", rc.RequestID,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(debug.Stack()),
				)

				record := inference.AssembleError(inference.ErrorRecord{
					Code:      inference.CodeInternal,
					Message:   "an internal error occurred",
					RequestID: rc.RequestID,
					Timestamp: time.Now().UTC(),
				})

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(record)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
