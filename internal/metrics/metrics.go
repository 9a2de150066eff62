// Package metrics exposes Prometheus collectors for the scrape gateway.
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
	engineDispatchTotal          *prometheus.CounterVec
	enginePollOutcomesTotal      *prometheus.CounterVec
	engineAnomaliesTotal         *prometheus.CounterVec
	engineScrapeDurationSeconds  *prometheus.HistogramVec
	engineRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec
	scrapeJobsTotal              *prometheus.CounterVec
	activeWorkers                prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		engineDispatchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_dispatch_total",
				Help: "Total number of scrape dispatches, labeled by engine and result.",
			},
			[]string{"engine", "result"},
		)

		enginePollOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_poll_outcomes_total",
				Help: "Terminal polling outcomes, labeled by engine and outcome.",
			},
			[]string{"engine", "outcome"},
		)

		engineAnomaliesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_anomalies_total",
				Help: "Unexpected status-query errors tolerated while polling, labeled by engine.",
			},
			[]string{"engine"},
		)

		engineScrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_scrape_duration_seconds",
				Help:    "End-to-end scrape latency from dispatch to terminal outcome.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"engine", "outcome"},
		)

		engineRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_rate_limit_delays_seconds",
				Help:    "Histogram of per-engine dispatch rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"engine"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)

		scrapeJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_total",
				Help: "Total number of async scrape jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_active_workers",
				Help: "Number of workers currently running a scrape job.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDispatch counts one dispatch attempt.
func ObserveDispatch(engine string, ok bool) {
	Init()
	result := "ok"
	if !ok {
		result = "error"
	}
	engineDispatchTotal.WithLabelValues(engine, result).Inc()
}

// ObserveOutcome records the terminal outcome of one scrape and its latency.
func ObserveOutcome(engine, outcome string, anomalies int, duration time.Duration) {
	Init()
	enginePollOutcomesTotal.WithLabelValues(engine, outcome).Inc()
	if anomalies > 0 {
		engineAnomaliesTotal.WithLabelValues(engine).Add(float64(anomalies))
	}
	engineScrapeDurationSeconds.WithLabelValues(engine, outcome).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(engine string, duration time.Duration) {
	Init()
	engineRateLimitDelaysSeconds.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	scrapeJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
