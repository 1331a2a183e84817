// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterPagesTotal           *prometheus.CounterVec
	harvesterLinksInsertedTotal   prometheus.Counter
	harvesterDuplicatesTotal      prometheus.Counter
	harvesterProviderErrorsTotal  *prometheus.CounterVec
	harvesterActiveRuns           prometheus.Gauge
	harvesterCourtesyDelaySeconds prometheus.Histogram
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of page executions, labeled by result.",
			},
			[]string{"result"},
		)

		harvesterLinksInsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_links_inserted_total",
				Help: "Total number of deduplicated links persisted.",
			},
		)

		harvesterDuplicatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_duplicates_skipped_total",
				Help: "Total number of result rows dropped as canonical-URL duplicates.",
			},
		)

		harvesterProviderErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_provider_errors_total",
				Help: "Total provider failures, labeled by classified error code.",
			},
			[]string{"code"},
		)

		harvesterActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_runs",
				Help: "Number of orchestrator runs currently executing.",
			},
		)

		harvesterCourtesyDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_courtesy_delay_seconds",
				Help:    "Histogram of courtesy delays slept between pages.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records the outcome of one page execution. Collectors are
// nil-guarded so engine code can run under test without Init.
func ObservePage(success bool) {
	if harvesterPagesTotal == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	harvesterPagesTotal.WithLabelValues(result).Inc()
}

// ObserveLinks records the persisted and duplicate row counts for one page.
func ObserveLinks(inserted, duplicates int) {
	if harvesterLinksInsertedTotal == nil {
		return
	}
	if inserted > 0 {
		harvesterLinksInsertedTotal.Add(float64(inserted))
	}
	if duplicates > 0 {
		harvesterDuplicatesTotal.Add(float64(duplicates))
	}
}

// ObserveProviderError increments the provider failure counter for a code.
func ObserveProviderError(code string) {
	if harvesterProviderErrorsTotal == nil {
		return
	}
	harvesterProviderErrorsTotal.WithLabelValues(code).Inc()
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	if harvesterActiveRuns == nil {
		return
	}
	harvesterActiveRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	if harvesterActiveRuns == nil {
		return
	}
	harvesterActiveRuns.Dec()
}

// ObserveCourtesyDelay records the duration slept between pages.
func ObserveCourtesyDelay(d time.Duration) {
	if harvesterCourtesyDelaySeconds == nil {
		return
	}
	harvesterCourtesyDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
