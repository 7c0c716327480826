// Package telemetry provides application-level observability for the registry
// metadata core.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by cmd/server:
//
//	GET http://<host>:<NPMR_TELEMETRY_METRICS_PORT>/metrics
//
// Default port: 9090.
//
// # Metric Groups
//
//   - Publish counters, split by private and public visibility
//   - Maintainer authorization decisions
//   - Descriptor decode failures (corrupt stored package documents)
//   - Search latency histograms, by search mode
//   - Change notification outcomes
//   - Operational HTTP request counters and latency (health and readiness)
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// No metric is labelled by module name or username; both are unbounded.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/npm-registry/npm-registry/internal/safego"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceName identifies this process in logs and metrics.
const ServiceName = "npm-registry"

// Publish metrics.
//
// ModulePublishesTotal is a CounterVec with label {visibility} ("private",
// "public", or "unknown" when classification failed) incremented once per
// successful module upsert.
//
// Example PromQL queries:
//   - Publish rate:            sum(rate(registry_module_publishes_total[5m]))
//   - Private share (%):       sum(rate(registry_module_publishes_total{visibility="private"}[1h])) / sum(rate(registry_module_publishes_total[1h])) * 100
var ModulePublishesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_module_publishes_total",
		Help: "Total number of module versions saved, by visibility.",
	},
	[]string{"visibility"},
)

// AuthorizationDecisionsTotal is a CounterVec with label {result} ("allowed" or
// "denied") incremented once per maintainer authorization check.
//
// Example PromQL queries:
//   - Denial rate:  rate(registry_authorization_decisions_total{result="denied"}[5m])
var AuthorizationDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_authorization_decisions_total",
		Help: "Total number of maintainer authorization decisions, by result.",
	},
	[]string{"result"},
)

// DescriptorDecodeErrorsTotal counts stored package descriptors that could not be
// decoded. Reads still succeed; a rising value points at corrupt rows.
var DescriptorDecodeErrorsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "registry_descriptor_decode_errors_total",
		Help: "Total number of stored package descriptors that failed to decode.",
	},
)

// SearchDuration is a HistogramVec with label {mode} ("name" or "keyword").
//
// Example PromQL queries:
//   - p95 search latency:  histogram_quantile(0.95, sum by (mode, le) (rate(registry_search_duration_seconds_bucket[5m])))
var SearchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "registry_search_duration_seconds",
		Help:    "Duration of a registry search, by mode.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	},
	[]string{"mode"},
)

// ChangeNotificationsTotal is a CounterVec with label {result} ("sent" or
// "failed") incremented for every module change event pushed to the change feed.
var ChangeNotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_change_notifications_total",
		Help: "Total number of module change notifications, by result.",
	},
	[]string{"result"},
)

// HTTP metrics for the operational listener.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}; path is
// the matched route template, never the raw URL.
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests processed, by method, route and status code.",
	},
	[]string{"method", "path", "status"},
)

// HTTPRequestDuration is a HistogramVec with labels {method, path}.
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, by method and route.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "path"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool. It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// dbStatsInterval is the sampling period of StartDBStatsCollector.
var dbStatsInterval = 30 * time.Second

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics and updates the DBOpenConnections gauge. It stops
// when ctx is cancelled or when the database becomes unreachable.
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(ctx, database)
func StartDBStatsCollector(ctx context.Context, db *sql.DB) {
	safego.Go("db-stats-collector", func() {
		ticker := time.NewTicker(dbStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := db.PingContext(ctx); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	})
}

// ObserveSearch records the elapsed time since start for a search in mode.
func ObserveSearch(mode string, start time.Time) {
	SearchDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
