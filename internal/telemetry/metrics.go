// Package telemetry provides application-level observability for the document
// access service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<BV_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds. It is NOT served
// by the Gin router, so access credentials never apply to it and it must not
// be exposed publicly.
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /book/*token) rather
// than the raw request URL to prevent unbounded label cardinality from tokens
// and document handles appearing in paths.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the
// HTTP server starts listening, or use an exported var directly:
//
//	telemetry.DocumentDownloadsTotal.WithLabelValues(resource, method).Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Access-control metrics.
//
// DocumentDownloadsTotal is a CounterVec with labels {resource, auth_method}
// incremented once per successful protected document response. auth_method is
// "session", "token", or "code" depending on which credential opened the door.
//
// TokenVerificationsTotal is a CounterVec with label {result} ("ok" or
// "invalid") covering every signed-token check, whether the token arrived in a
// cookie, a path segment, or a query parameter. A rising invalid rate usually
// means expired links being replayed, not an attack, but it is the first graph
// to look at either way.
//
// CodeRedemptionsTotal is a CounterVec with label {result} ("ok" or
// "invalid"). An alert on a sustained invalid spike catches code-guessing
// before the rate limiter's logs do.
//
// Example PromQL queries:
//   - Downloads per book:        sum by (resource) (rate(document_downloads_total[1h]))
//   - Token failure ratio:       rate(token_verifications_total{result="invalid"}[5m]) / rate(token_verifications_total[5m])
//   - Guessing alert:            increase(code_redemptions_total{result="invalid"}[10m]) > 50
var (
	DocumentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_downloads_total",
			Help: "Total number of protected documents served, by resource and authentication method.",
		},
		[]string{"resource", "auth_method"},
	)

	TokenVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_verifications_total",
			Help: "Total number of access token verifications, by result.",
		},
		[]string{"result"},
	)

	CodeRedemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "code_redemptions_total",
			Help: "Total number of access code redemption attempts, by result.",
		},
		[]string{"result"},
	)
)

// AccessLinkEmailsSentTotal is a plain Counter incremented once per access
// link email successfully handed to the SMTP server. A stalled counter while
// admins keep issuing links is the SMTP-outage signal.
var AccessLinkEmailsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "access_link_emails_sent_total",
		Help: "Total number of access link emails successfully sent.",
	},
)

// DBOpenConnections tracks the number of open connections currently held by
// the sql.DB pool. It is sampled every 30 seconds by StartDBStatsCollector
// rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates DBOpenConnections.
// The goroutine exits when the database becomes unreachable, which happens
// automatically once the application shuts down and defers db.Close().
//
// Call this once, immediately after the database connection succeeds in
// main.go.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
