package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests tracks handled requests per route and status
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"route", "status"},
	)

	// HTTPLatency tracks request handling latency
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tryon_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// QuotaDecisions counts rate limiter outcomes: allowed, denied or error
	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_quota_decisions_total",
			Help: "Total number of quota consumption attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ValidationFailures counts rejected try-on requests
	ValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_validation_failures_total",
			Help: "Total number of try-on requests rejected by validation",
		},
	)

	// ProviderCalls tracks generation calls per provider and outcome
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_provider_calls_total",
			Help: "Total number of image generation calls",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks generation latency; generations are slow so the
	// buckets reach two minutes
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tryon_provider_latency_seconds",
			Help:    "Image generation latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)
)
