package middleware

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"lan-registration-platform/internal/metrics"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// LoggingMiddleware logs HTTP requests and records them in m when set
func LoggingMiddleware(m *metrics.CartMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			log.Printf(
				"%s %s %d %d bytes %v - IP: %s - request %s",
				r.Method,
				r.URL.Path,
				wrapped.statusCode,
				wrapped.size,
				duration,
				getClientIP(r),
				chimiddleware.GetReqID(r.Context()),
			)

			if m != nil {
				route := routePattern(r)
				m.Requests.WithLabelValues(route, strconv.Itoa(wrapped.statusCode)).Inc()
				m.LatencyMS.WithLabelValues(route).Observe(float64(duration.Milliseconds()))
			}
		})
	}
}

// routePattern labels requests by chi route so cart ids never become labels
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// getClientIP gets the real client IP address
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
