// Package metrics exposes Prometheus collectors for the extraction service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	gateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pluck_gate_decisions_total",
			Help: "Admission gate decisions, labeled by rule and action.",
		},
		[]string{"rule", "action"},
	)

	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pluck_fetch_attempts_total",
			Help: "Outbound fetch attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	fetchDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pluck_fetch_duration_seconds",
			Help:    "Wall time of a logical fetch including retries.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	hostWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pluck_fetch_host_wait_seconds",
			Help:    "Time spent waiting on the per-host politeness limiter.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
		},
	)

	extractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pluck_extractions_total",
			Help: "Extraction requests, labeled by outcome (ok or error kind).",
		},
		[]string{"outcome"},
	)

	fieldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pluck_fields_total",
			Help: "Extracted fields, labeled by type and status.",
		},
		[]string{"type", "status"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pluck_cache_lookups_total",
			Help: "Page cache lookups, labeled by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pluck_http_requests_total",
			Help: "HTTP requests served, labeled by method, route and code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pluck_http_request_duration_seconds",
			Help:    "Latency of HTTP requests, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordGateDecision counts an admission decision.
func RecordGateDecision(rule, action string) {
	if rule == "" {
		rule = "none"
	}
	gateDecisionsTotal.WithLabelValues(rule, action).Inc()
}

// RecordFetchAttempt counts one outbound attempt. outcome is "success",
// "retry", "failure" or "http_error".
func RecordFetchAttempt(outcome string) {
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the wall time of a logical fetch.
func ObserveFetch(d time.Duration) {
	fetchDurationSeconds.Observe(d.Seconds())
}

// ObserveHostWait records a politeness delay. Waits under a millisecond
// are not recorded.
func ObserveHostWait(d time.Duration) {
	if d > time.Millisecond {
		hostWaitSeconds.Observe(d.Seconds())
	}
}

// RecordExtraction counts a finished pipeline run.
func RecordExtraction(outcome string) {
	extractionsTotal.WithLabelValues(outcome).Inc()
}

// RecordField counts one field result. fieldType is "css" or "meta".
func RecordField(fieldType string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	fieldsTotal.WithLabelValues(fieldType, status).Inc()
}

// RecordCacheLookup counts a cache lookup result.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}
