// Package metrics provides Prometheus instrumentation for the SolSentry API.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solsentry",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "solsentry",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentVerificationsTotal counts payment verification attempts by outcome.
	// Outcomes: approved, cached, rejected, unavailable.
	PaymentVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solsentry",
			Name:      "payment_verifications_total",
			Help:      "Payment verification attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// ChainLookupsTotal counts Solana chain lookups by result.
	ChainLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solsentry",
			Name:      "chain_lookups_total",
			Help:      "Solana transaction lookups by result (confirmed, not_found, error).",
		},
		[]string{"result"},
	)

	// SourceFetchesTotal counts exploit source fetches by source and outcome.
	SourceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solsentry",
			Name:      "source_fetches_total",
			Help:      "Exploit data source fetches by source and outcome (ok, error, skipped).",
		},
		[]string{"source", "outcome"},
	)

	// SourceFetchDuration observes per-source fetch latency.
	SourceFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "solsentry",
			Name:      "source_fetch_duration_seconds",
			Help:      "Exploit data source fetch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// CacheOpsTotal counts cache lookups by cache name and result.
	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solsentry",
			Name:      "cache_ops_total",
			Help:      "Cache lookups by cache (verification, exploits) and result (hit, miss).",
		},
		[]string{"cache", "result"},
	)

	// ActiveWebSocketClients tracks connected exploit-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "solsentry",
			Name:      "active_websocket_clients",
			Help:      "Number of connected exploit feed WebSocket clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentVerificationsTotal,
		ChainLookupsTotal,
		SourceFetchesTotal,
		SourceFetchDuration,
		CacheOpsTotal,
		ActiveWebSocketClients,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
