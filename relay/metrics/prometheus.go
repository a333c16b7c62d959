package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ai_gateway",
		Name:      "http_requests_total",
		Help:      "Inbound HTTP requests by method, counted on entry (status is \"started\").",
	}, []string{"method", "status"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ai_gateway",
		Name:      "upstream_requests_total",
		Help:      "Dispatched upstream requests per endpoint.",
	}, []string{"provider", "endpoint"})

	RemoteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ai_gateway",
		Name:      "upstream_remote_errors_total",
		Help:      "Upstream transport errors, 5xx responses and broken streams.",
	}, []string{"provider", "endpoint"})

	TFFTSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ai_gateway",
		Name:      "tfft_seconds",
		Help:      "Time to first token per endpoint.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"provider", "endpoint"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ai_gateway",
		Name:      "cache_lookups_total",
		Help:      "Response cache lookups by outcome (hit/miss).",
	}, []string{"outcome"})

	CacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ai_gateway",
		Name:      "cache_evictions_total",
		Help:      "Response cache entries evicted by the size cap.",
	})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ai_gateway",
		Name:      "rate_limited_total",
		Help:      "Admission rejections by limiter layer.",
	}, []string{"layer"})

	PanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ai_gateway",
		Name:      "panics_total",
		Help:      "Panics caught by the recovery middleware.",
	})

	LogSubmitFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ai_gateway",
		Name:      "log_submit_failures_total",
		Help:      "Side-channel log records that could not be submitted.",
	})

	BalancerReadySize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ai_gateway",
		Name:      "balancer_ready_endpoints",
		Help:      "Endpoints currently in each router balancer's ready set.",
	}, []string{"router", "endpoint"})
)
