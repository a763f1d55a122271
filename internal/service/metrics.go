package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the learning domain.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	chaptersCompleted  prometheus.Counter
	certificatesIssued prometheus.Counter
	certificateRenders prometheus.Counter
	outOfOrderAttempts prometheus.Counter
	assignmentsCreated prometheus.Counter
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	chaptersCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_chapters_completed_total",
		Help: "Number of chapter completions recorded",
	})

	certificatesIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_certificates_issued_total",
		Help: "Number of certificates issued",
	})

	certificateRenders := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_certificate_renders_total",
		Help: "Number of certificate PDF renders performed",
	})

	outOfOrderAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_out_of_order_attempts_total",
		Help: "Number of chapter completions rejected by the sequence gate",
	})

	assignmentsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lms_assignments_created_total",
		Help: "Number of new course assignments",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, chaptersCompleted, certificatesIssued,
		certificateRenders, outOfOrderAttempts, assignmentsCreated, cacheHits, cacheMisses, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		chaptersCompleted:  chaptersCompleted,
		certificatesIssued: certificatesIssued,
		certificateRenders: certificateRenders,
		outOfOrderAttempts: outOfOrderAttempts,
		assignmentsCreated: assignmentsCreated,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request duration and count.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// IncChapterCompleted counts a successful chapter completion.
func (m *MetricsService) IncChapterCompleted() {
	if m != nil {
		m.chaptersCompleted.Inc()
	}
}

// IncCertificateIssued counts a new certificate row.
func (m *MetricsService) IncCertificateIssued() {
	if m != nil {
		m.certificatesIssued.Inc()
	}
}

// IncCertificateRendered counts a PDF render.
func (m *MetricsService) IncCertificateRendered() {
	if m != nil {
		m.certificateRenders.Inc()
	}
}

// IncOutOfOrderAttempt counts a completion rejected by the sequence gate.
func (m *MetricsService) IncOutOfOrderAttempt() {
	if m != nil {
		m.outOfOrderAttempts.Inc()
	}
}

// IncAssignmentCreated counts a new course assignment.
func (m *MetricsService) IncAssignmentCreated() {
	if m != nil {
		m.assignmentsCreated.Inc()
	}
}

// RecordCacheLookup counts a cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
