package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "donation_payments",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "donation_payments",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// GatewayBreakerState exports the circuit breaker state per gateway:
	// 0 closed, 1 open, 2 half-open.
	GatewayBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "donation_payments",
		Name:      "gateway_breaker_state",
		Help:      "Circuit breaker state per gateway (0=closed, 1=open, 2=half_open).",
	}, []string{"gateway"})
)
