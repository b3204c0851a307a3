package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "request_marketplace", Name: "requests_created_total", Help: "Client requests created"})
	RequestsRetried = promauto.NewCounter(prometheus.CounterOpts{Namespace: "request_marketplace", Name: "requests_retried_total", Help: "Expired requests reactivated by their owner"})
	RequestsExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: "request_marketplace", Name: "requests_expired_total", Help: "Requests materialized as expired (lazy TTL or response cap)"})

	UnlocksGranted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "request_marketplace", Name: "unlocks_granted_total", Help: "Successful credit-metered unlocks"})
	UnlocksDenied  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "request_marketplace", Name: "unlocks_denied_total", Help: "Denied unlock attempts by reason"},
		[]string{"reason"},
	)
	CreditsDebited = promauto.NewCounter(prometheus.CounterOpts{Namespace: "request_marketplace", Name: "credits_debited_total", Help: "Credits debited across all unlocks"})

	AlertsSent   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "request_marketplace", Name: "alerts_sent_total", Help: "New-request alerts delivered to providers"})
	AlertsFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "request_marketplace", Name: "alerts_failed_total", Help: "Alert deliveries that failed (non-fatal)"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "request_marketplace", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "request_marketplace",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
