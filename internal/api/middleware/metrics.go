package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parley-chat/parley/internal/metrics"
)

// statusWriter wraps http.ResponseWriter to capture status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Metrics returns middleware that records Prometheus metrics.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// normalizePath collapses route parameters to avoid high cardinality in
// metric labels.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/conversations/") {
		return path
	}
	rest := strings.TrimPrefix(path, "/conversations/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		return "/conversations/:id"
	case len(parts) == 2 && parts[1] == "messages":
		return "/conversations/:id/messages"
	case len(parts) == 3 && parts[1] == "messages" && parts[2] == "poll":
		return "/conversations/:id/messages/poll"
	case len(parts) == 3 && parts[1] == "messages":
		return "/conversations/:id/messages/:messageID"
	}
	return "/conversations/:id"
}
