// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransactionsExecuted counts executed portfolio transactions by type.
	TransactionsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_transactions_executed_total",
		Help: "Total number of portfolio transactions executed",
	}, []string{"type"})

	// ExecuteLatency tracks transaction execution latency by type.
	ExecuteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pfe_execute_latency_seconds",
		Help:    "Transaction execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// ExecuteRejections counts executions refused before any mutation.
	ExecuteRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_execute_rejections_total",
		Help: "Transaction executions rejected, by reason",
	}, []string{"reason"})

	// RewardsClaimed counts successful reward claims by tier and plan.
	RewardsClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_rewards_claimed_total",
		Help: "Total number of reward claims",
	}, []string{"tier", "plan"})

	// XPCredited sums credited XP by reason.
	XPCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_xp_credited_total",
		Help: "Total XP credited",
	}, []string{"reason"})

	// XPCreditFailures counts best-effort XP credits that failed and were swallowed.
	XPCreditFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_xp_credit_failures_total",
		Help: "XP credits that failed",
	}, []string{"reason"})

	// StatsRefreshes counts stats refreshes by outcome (recomputed, fresh, error).
	StatsRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_stats_refreshes_total",
		Help: "Portfolio stats refresh attempts",
	}, []string{"outcome"})

	// StatsRefreshLatency tracks the time spent recomputing stats.
	StatsRefreshLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pfe_stats_refresh_latency_seconds",
		Help:    "Portfolio stats recompute latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// CacheLookups counts Redis read-through lookups by cache and result.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_cache_lookups_total",
		Help: "Read-through cache lookups",
	}, []string{"cache", "result"})

	// EventsPublished counts domain events by sink and outcome.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_events_published_total",
		Help: "Domain events handed to a sink",
	}, []string{"sink", "outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pfe_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// JobRuns counts scheduled maintenance job runs by job and outcome.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_job_runs_total",
		Help: "Scheduled maintenance job runs",
	}, []string{"job", "outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pfe_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pfe_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("metrics: %T cannot be hijacked", w.ResponseWriter)
	}
	return h.Hijack()
}
