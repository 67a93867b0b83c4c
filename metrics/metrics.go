// Package metrics exposes Prometheus collectors for the fetch service.
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
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchAttempts              *prometheus.HistogramVec
	poolsActive                prometheus.Gauge
	poolTeardownsTotal         prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once. Observe functions are no-ops until Init runs.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rendergate_fetches_total",
				Help: "Total fetches, labeled by route and outcome kind.",
			},
			[]string{"route", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rendergate_fetch_duration_seconds",
				Help:    "Histogram of end-to-end fetch latencies, labeled by route.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
			},
			[]string{"route"},
		)

		fetchAttempts = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rendergate_fetch_attempts",
				Help:    "Histogram of attempts needed per successful fetch, labeled by route.",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"route"},
		)

		poolsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rendergate_pools_active",
				Help: "Number of browser session pools currently alive.",
			},
		)

		poolTeardownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rendergate_pool_teardowns_total",
				Help: "Total browser session pools torn down.",
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
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one finished fetch. outcome is "ok" or an error kind.
func ObserveFetch(route, outcome string, attempts int, duration time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(route, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
	if outcome == "ok" && attempts > 0 {
		fetchAttempts.WithLabelValues(route).Observe(float64(attempts))
	}
}

// PoolStarted increments the live pool gauge.
func PoolStarted() {
	if poolsActive == nil {
		return
	}
	poolsActive.Inc()
}

// PoolTornDown decrements the live pool gauge and counts the teardown.
func PoolTornDown() {
	if poolsActive == nil {
		return
	}
	poolsActive.Dec()
	poolTeardownsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
