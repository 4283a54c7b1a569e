// Package metrics exposes Prometheus collectors for the crawl and
// extraction pipelines.
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
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerFetchSeconds        *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	jobsStalledTotal           *prometheus.CounterVec
	activeWorkers              *prometheus.GaugeVec
	extractionConfidence       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages stored, labeled by site and category.",
			},
			[]string{"site", "category"},
		)

		crawlerFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_jobs_total",
				Help: "Total number of jobs finished, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		jobsStalledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_jobs_stalled_total",
				Help: "Total number of jobs force-failed by the stall sweeper, labeled by kind.",
			},
			[]string{"kind"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pipeline_active_workers",
				Help: "Number of workers currently processing a job, labeled by kind.",
			},
			[]string{"kind"},
		)

		extractionConfidence = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "extraction_confidence_score",
				Help:    "Histogram of extraction confidence scores.",
				Buckets: []float64{0.1, 0.2, 0.4, 0.6, 0.8, 0.9, 1},
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
	return promhttp.Handler()
}

// ObservePage records one stored page and its fetch latency.
func ObservePage(site, category string, fetchDuration time.Duration) {
	Init()
	sanitized := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitized, category).Inc()
	crawlerFetchSeconds.WithLabelValues(sanitized).Observe(fetchDuration.Seconds())
}

// ObserveJob increments the finished-job counter.
func ObserveJob(kind, status string) {
	Init()
	jobsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveStalledJob increments the stall counter for the given pipeline.
func ObserveStalledJob(kind string) {
	Init()
	jobsStalledTotal.WithLabelValues(kind).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(kind string) {
	Init()
	activeWorkers.WithLabelValues(kind).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(kind string) {
	Init()
	activeWorkers.WithLabelValues(kind).Dec()
}

// ObserveConfidence records one extraction confidence score.
func ObserveConfidence(score float64) {
	Init()
	extractionConfidence.Observe(score)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
