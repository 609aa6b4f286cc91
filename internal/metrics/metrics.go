// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestAttemptsTotal       *prometheus.CounterVec
	harvestRecordsTotal        *prometheus.CounterVec
	harvestActiveContexts      prometheus.Gauge
	harvestNavigationSeconds   *prometheus.HistogramVec
	harvestCheckpointsTotal    *prometheus.CounterVec
	harvestRateLimitDelay      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvestAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_attempts_total",
				Help: "Fetch-and-extract attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_records_total",
				Help: "Completed records, labeled by status (ok or failed).",
			},
			[]string{"status"},
		)

		harvestActiveContexts = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_contexts",
				Help: "Browsing contexts currently holding a concurrency slot.",
			},
		)

		harvestNavigationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_navigation_seconds",
				Help:    "Time from navigation start to network idle, labeled by site.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"site"},
		)

		harvestCheckpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_checkpoints_total",
				Help: "Checkpoint saves, labeled by result.",
			},
			[]string{"result"},
		)

		harvestRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a per-site request token.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"site"},
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveAttempt counts one attempt against the page at rawURL.
func ObserveAttempt(rawURL, outcome string) {
	Init()
	harvestAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), outcome).Inc()
}

// ObserveRecord counts a completed record.
func ObserveRecord(failed bool) {
	Init()
	status := "ok"
	if failed {
		status = "failed"
	}
	harvestRecordsTotal.WithLabelValues(status).Inc()
}

// ObserveNavigation records how long a page took to settle.
func ObserveNavigation(rawURL string, d time.Duration) {
	Init()
	harvestNavigationSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(d.Seconds())
}

// ObserveCheckpoint counts a checkpoint save.
func ObserveCheckpoint(err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	harvestCheckpointsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records a wait imposed by the per-site limiter.
func ObserveRateLimitDelay(site string, d time.Duration) {
	Init()
	harvestRateLimitDelay.WithLabelValues(site).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveContexts increments the active browsing contexts gauge.
func IncActiveContexts() {
	Init()
	harvestActiveContexts.Inc()
}

// DecActiveContexts decrements the active browsing contexts gauge.
func DecActiveContexts() {
	Init()
	harvestActiveContexts.Dec()
}
