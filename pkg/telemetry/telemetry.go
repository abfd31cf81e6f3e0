// Package telemetry is low-overhead HTTP request telemetry: request
// duration and status metrics plus a structured log line for slow
// requests. Streaming responses are exempt from slow logging since they
// are long-lived by design.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"draftflow/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "draftflow_http_request_duration_seconds",
	Help:    "HTTP request latency by method and status.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "status"})

var slowThreshold = 1 * time.Second

// SetSlowThreshold sets the duration above which requests get a log line.
func SetSlowThreshold(d time.Duration) {
	if d > 0 {
		slowThreshold = d
	}
}

// Middleware wraps the provided handler and records request timing.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		dur := time.Since(start)

		requestDuration.WithLabelValues(r.Method, strconv.Itoa(srw.status)).Observe(dur.Seconds())

		if dur > slowThreshold && !srw.streaming {
			logger.Warn("slow_request",
				"method", r.Method, "path", r.URL.Path,
				"status", srw.status, "duration_ms", dur.Milliseconds())
		}
	})
}

// statusRecorder captures the response status code. It forwards Flush so
// SSE handlers behind the middleware keep working.
type statusRecorder struct {
	http.ResponseWriter
	status    int
	streaming bool
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	if r.Header().Get("Content-Type") == "text/event-stream" {
		r.streaming = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
