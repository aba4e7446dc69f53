package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RetrievalMetrics owns the service registry. Everything the engine
// exports lives here so two instances in one process never collide on
// the default registry.
type RetrievalMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	stageDuration *prometheus.HistogramVec

	cacheHitsTotal      *prometheus.CounterVec
	cacheMissesTotal    *prometheus.CounterVec
	cacheEvictionsTotal *prometheus.CounterVec
	cacheInvalidated    *prometheus.CounterVec

	gateDecisionsTotal *prometheus.CounterVec
	verdictsTotal      *prometheus.CounterVec
}

func NewRetrievalMetrics(service string) *RetrievalMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexrag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lexrag",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lexrag",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lexrag",
			Subsystem: "retrieval",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "stage"},
	)
	cacheHitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexrag",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total result cache hits.",
		},
		[]string{"service"},
	)
	cacheMissesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexrag",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total result cache misses.",
		},
		[]string{"service"},
	)
	cacheEvictionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexrag",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total result cache size evictions.",
		},
		[]string{"service"},
	)
	cacheInvalidated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexrag",
			Subsystem: "cache",
			Name:      "invalidated_entries_total",
			Help:      "Total entries dropped by explicit invalidation.",
		},
		[]string{"service", "scope"},
	)
	gateDecisionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexrag",
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Total corrective gate decisions by evidence level and action.",
		},
		[]string{"service", "level", "action"},
	)
	verdictsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexrag",
			Subsystem: "grounding",
			Name:      "verdicts_total",
			Help:      "Total citation grounding verdicts by status.",
		},
		[]string{"service", "status"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		stageDuration,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheInvalidated,
		gateDecisionsTotal,
		verdictsTotal,
	)

	return &RetrievalMetrics{
		registry:            registry,
		requestTotal:        requestTotal,
		requestDuration:     requestDuration,
		requestInFlight:     requestInFlight,
		stageDuration:       stageDuration,
		cacheHitsTotal:      cacheHitsTotal,
		cacheMissesTotal:    cacheMissesTotal,
		cacheEvictionsTotal: cacheEvictionsTotal,
		cacheInvalidated:    cacheInvalidated,
		gateDecisionsTotal:  gateDecisionsTotal,
		verdictsTotal:       verdictsTotal,
	}
}

func (m *RetrievalMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *RetrievalMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			r.URL.Path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func (m *RetrievalMetrics) ObserveStage(service, stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(service, stage).Observe(d.Seconds())
}

func (m *RetrievalMetrics) RecordCacheHit(service string)      { m.cacheHitsTotal.WithLabelValues(service).Inc() }
func (m *RetrievalMetrics) RecordCacheMiss(service string)     { m.cacheMissesTotal.WithLabelValues(service).Inc() }
func (m *RetrievalMetrics) RecordCacheEviction(service string) { m.cacheEvictionsTotal.WithLabelValues(service).Inc() }

func (m *RetrievalMetrics) RecordInvalidation(service, scope string, entries int) {
	if entries <= 0 {
		return
	}
	m.cacheInvalidated.WithLabelValues(service, scope).Add(float64(entries))
}

func (m *RetrievalMetrics) RecordGateDecision(service, level, action string) {
	m.gateDecisionsTotal.WithLabelValues(service, level, action).Inc()
}

func (m *RetrievalMetrics) RecordVerdict(service, status string) {
	m.verdictsTotal.WithLabelValues(service, status).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
