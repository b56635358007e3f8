package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lolly_monitor_build_info",
			Help: "Build information of the Lolly event monitor",
		},
		[]string{"version", "commit", "date"},
	)

	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lolly_monitor_events_processed_total",
			Help: "Total number of events passed through the ingest path",
		},
		[]string{"kind", "status"}, // status: inserted, duplicate, failed_tx, error
	)

	ProjectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lolly_monitor_projections_total",
			Help: "Total number of activity projections",
		},
		[]string{"kind", "status"}, // status: inserted, duplicate, repaired, error
	)

	LogBundlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lolly_monitor_log_bundles_total",
			Help: "Total number of transaction log bundles observed",
		},
		[]string{"source", "status"}, // source: live, backfill
	)

	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lolly_monitor_rpc_requests_total",
			Help: "Total number of RPC requests",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lolly_monitor_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"method"},
	)

	DatabaseQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lolly_monitor_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"status"},
	)

	DatabaseQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lolly_monitor_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 0.001s to ~4.1s
		},
	)

	BackfillRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lolly_monitor_backfill_runs_total",
			Help: "Total number of backfill runs",
		},
		[]string{"trigger", "status"}, // trigger: auto, manual; status: success, error, panic
	)

	BackfillRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lolly_monitor_backfill_run_duration_seconds",
			Help:    "Duration of backfill runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27 minutes
		},
	)

	BackfillRecoveredEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lolly_monitor_backfill_recovered_events_total",
			Help: "Total number of events recovered by backfill",
		},
	)

	GapSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lolly_monitor_gap_size_events",
			Help:    "Number of missing events per detected window",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	CursorPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lolly_monitor_cursor_position",
			Help: "Current value of the monitor's sequence cursors",
		},
		[]string{"cursor"}, // cursor: start, end, latest
	)

	StreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lolly_monitor_stream_reconnects_total",
			Help: "Total number of log stream reconnects",
		},
	)

	PollRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lolly_monitor_poll_refresh_total",
			Help: "Total number of account poll refreshes",
		},
		[]string{"status"},
	)

	PollRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lolly_monitor_poll_refresh_duration_seconds",
			Help:    "Duration of account poll refreshes",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lolly_monitor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lolly_monitor_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRPC records metrics for a single RPC call.
func RecordRPC(method string, duration time.Duration, err error) {
	RPCRequestsTotal.WithLabelValues(method, status(err)).Inc()
	RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordQuery records metrics for a database query.
func RecordQuery(duration time.Duration, err error) {
	DatabaseQueriesTotal.WithLabelValues(status(err)).Inc()
	DatabaseQueryDuration.Observe(duration.Seconds())
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
