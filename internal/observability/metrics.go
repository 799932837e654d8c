// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stage metrics
	StageRunsTotal *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	StageRetries   *prometheus.CounterVec

	// Transform metrics
	RowsRead    prometheus.Counter
	RowsDropped *prometheus.CounterVec
	RowsEmitted prometheus.Counter

	// Load metrics
	RowsLoaded *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Dashboard metrics
	DashboardRequests *prometheus.CounterVec
	DashboardConnects *prometheus.CounterVec
	WSClients         prometheus.Gauge

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "mvr_etl"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		StageRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_runs_total",
			Help:      "Total number of stage runs by outcome",
		}, []string{"stage", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		StageRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_retries_total",
			Help:      "Total number of scheduler retries reported per stage",
		}, []string{"stage"}),

		RowsRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "rows_read_total",
			Help:      "Total number of input rows read",
		}),
		RowsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "rows_dropped_total",
			Help:      "Total number of input rows dropped by reason",
		}, []string{"reason"}),
		RowsEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "rows_emitted_total",
			Help:      "Total number of enriched rows emitted",
		}),

		RowsLoaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "load",
			Name:      "rows_loaded_total",
			Help:      "Total number of rows written to a store",
		}, []string{"database"}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		DashboardRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "requests_total",
			Help:      "Total number of dashboard API requests by route and status",
		}, []string{"route", "status"}),
		DashboardConnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "connects_total",
			Help:      "Total number of dashboard connection attempts by result",
		}, []string{"result"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dashboard",
			Name:      "ws_clients",
			Help:      "Number of connected websocket clients",
		}),

		LastSuccessfulRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last fully successful load",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordStageRun records a stage outcome and its duration.
func RecordStageRun(stage, outcome string, durationSeconds float64) {
	DefaultMetrics.StageRunsTotal.WithLabelValues(stage, outcome).Inc()
	DefaultMetrics.StageDuration.WithLabelValues(stage).Observe(durationSeconds)
}

// RecordStageRetry records a retry reported by the scheduler.
func RecordStageRetry(stage string) {
	DefaultMetrics.StageRetries.WithLabelValues(stage).Inc()
}

// RecordTransform records row accounting for one transform run.
func RecordTransform(read, emitted int, dropped map[string]int) {
	DefaultMetrics.RowsRead.Add(float64(read))
	DefaultMetrics.RowsEmitted.Add(float64(emitted))
	for reason, n := range dropped {
		DefaultMetrics.RowsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordRowsLoaded records rows written to database.
func RecordRowsLoaded(database string, n int64) {
	DefaultMetrics.RowsLoaded.WithLabelValues(database).Add(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordDashboardRequest records a dashboard API request.
func RecordDashboardRequest(route, status string) {
	DefaultMetrics.DashboardRequests.WithLabelValues(route, status).Inc()
}

// RecordDashboardConnect records a dashboard connection attempt.
func RecordDashboardConnect(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	DefaultMetrics.DashboardConnects.WithLabelValues(result).Inc()
}

// SetWSClients updates the websocket client gauge.
func SetWSClients(n int) {
	DefaultMetrics.WSClients.Set(float64(n))
}

// RecordSuccessfulRun stamps the time of the last successful load.
func RecordSuccessfulRun(unix int64) {
	DefaultMetrics.LastSuccessfulRun.Set(float64(unix))
}
