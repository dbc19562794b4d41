package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by route pattern rather than raw path,
// so session ids never become label values.
const labelHandler = "handler"

// serverMetrics holds the Prometheus collectors owned by the server. Tests
// register them into a private registry.
type serverMetrics struct {
	// queryTotal counts PUT /chats/{id} requests by outcome.
	queryTotal           *prometheus.CounterVec
	queryDurationSeconds *prometheus.HistogramVec
	// ingestTotal counts document uploads by outcome.
	ingestTotal           *prometheus.CounterVec
	ingestDurationSeconds prometheus.Histogram

	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yac",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Questions answered, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "yac",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Time to answer a question, including retrieval and generation.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yac",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Uploaded documents, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "yac",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Time to extract, embed and index one document.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yac",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "yac",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// instrument records request count and latency for pattern.
func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}
