package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Refresh attempts per signal type and outcome (success, upstream_error, timeout, store_error).
	RefreshAttemptsTotal *prometheus.CounterVec

	// Refresh attempt latency per signal type. Watch for: p95 near the refresh timeout.
	RefreshDuration *prometheus.HistogramVec

	// Callers that attached to an already in-flight refresh instead of starting one.
	RefreshCoalescedTotal *prometheus.CounterVec

	// Snapshots served from cache without any refresh.
	SnapshotCacheHitsTotal *prometheus.CounterVec

	// Signal entries served stale because the latest refresh failed.
	StaleServesTotal *prometheus.CounterVec

	// Upstream provider HTTP calls per signal type and status.
	ProviderCallsTotal *prometheus.CounterVec

	// Upstream provider latency. Watch for: CDC SODA degradation.
	ProviderDuration *prometheus.HistogramVec

	// Background sweep passes and per-pass outcomes.
	SweepRunsTotal      prometheus.Counter
	SweepRefreshesTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Bearer auth rejections on /signals endpoints.
	AuthRejectedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RefreshAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalRefreshAttemptsTotal",
			Help: "Refresh attempts by signal type and outcome",
		},
		[]string{"signalType", "outcome"},
	)
	RefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalRefreshDurationSeconds",
			Help:    "Refresh attempt latency in seconds (per attempt)",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"signalType"},
	)
	RefreshCoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalRefreshCoalescedTotal",
			Help: "Callers that joined an in-flight refresh instead of starting one",
		},
		[]string{"signalType"},
	)
	SnapshotCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshotCacheHitsTotal",
			Help: "Signal entries served fresh from the snapshot store without refresh",
		},
		[]string{"signalType"},
	)
	StaleServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshotStaleServesTotal",
			Help: "Signal entries served stale after a failed refresh",
		},
		[]string{"signalType"},
	)
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Upstream provider HTTP calls by signal type and status",
		},
		[]string{"signalType", "status"},
	)
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerCallDurationSeconds",
			Help:    "Upstream provider call latency in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"signalType", "status"},
	)
	SweepRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sweepRunsTotal",
			Help: "Background refresh sweep passes",
		},
	)
	SweepRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweepRefreshesTotal",
			Help: "Refreshes triggered by the background sweep, by outcome",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	AuthRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authRejectedTotal",
			Help: "Requests rejected by the bearer-token gate (401)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		RefreshAttemptsTotal, RefreshDuration, RefreshCoalescedTotal,
		SnapshotCacheHitsTotal, StaleServesTotal,
		ProviderCallsTotal, ProviderDuration,
		SweepRunsTotal, SweepRefreshesTotal,
		RateLimitDeniedTotal, AuthRejectedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
