// Package metrics exposes Prometheus collectors for the exporter.
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
	upstreamRequestsTotal      *prometheus.CounterVec
	upstreamRequestSeconds     *prometheus.HistogramVec
	upstreamRetriesTotal       *prometheus.CounterVec
	fallbacksTotal             prometheus.Counter
	rowsTotal                  *prometheus.CounterVec
	writesTotal                *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icp_upstream_requests_total",
				Help: "Upstream requests, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		upstreamRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "icp_upstream_request_duration_seconds",
				Help:    "Histogram of upstream request latencies, labeled by endpoint.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		)

		upstreamRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icp_upstream_retries_total",
				Help: "Failed attempts that consumed retry budget, labeled by endpoint and reason.",
			},
			[]string{"endpoint", "reason"},
		)

		fallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "icp_paginated_fallbacks_total",
				Help: "Days whose bulk export hit the truncation cap.",
			},
		)

		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icp_rows_total",
				Help: "Rows retrieved, labeled by retrieval mode.",
			},
			[]string{"mode"},
		)

		writesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icp_sink_writes_total",
				Help: "Sink writes, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "icp_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status API latencies, labeled by method and route.",
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

// ObserveUpstream records one upstream request attempt.
func ObserveUpstream(endpoint, outcome string, duration time.Duration) {
	Init()
	upstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	upstreamRequestSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry records an attempt that failed and consumed retry budget.
func ObserveRetry(endpoint, reason string) {
	Init()
	upstreamRetriesTotal.WithLabelValues(endpoint, reason).Inc()
}

// ObserveFallback records a switch from bulk export to paginated fetch.
func ObserveFallback() {
	Init()
	fallbacksTotal.Inc()
}

// ObserveRows adds retrieved rows for a mode.
func ObserveRows(mode string, n int) {
	Init()
	if n > 0 {
		rowsTotal.WithLabelValues(mode).Add(float64(n))
	}
}

// ObserveWrite records one sink write ("ok" or "error").
func ObserveWrite(result string) {
	Init()
	writesTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the status API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
