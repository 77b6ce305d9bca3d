package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	RowsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ml_features_rows_inserted_total",
		Help: "Total number of materialized feature rows inserted",
	})

	RowsUpdated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ml_features_rows_updated_total",
		Help: "Total number of materialized feature rows patched",
	})

	SymbolsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_features_symbols_skipped_total",
			Help: "Symbols skipped during a reconcile run",
		},
		[]string{"reason"}, // lock_timeout|error
	)

	HourErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ml_features_hour_errors_total",
		Help: "Hours that failed to reconcile and were skipped",
	})

	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_features_runs_total",
			Help: "Reconcile runs by outcome",
		},
		[]string{"status"}, // success|error
	)

	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ml_features_run_duration_seconds",
		Help:    "Reconcile run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	RunInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ml_features_run_in_progress",
		Help: "1 while a reconcile run is active",
	})

	// Placeholder metrics
	PlaceholdersInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ml_features_placeholders_inserted_total",
		Help: "Placeholder rows created ahead of collector data",
	})

	// Collector metrics
	CollectorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_features_collector_calls_total",
			Help: "Collector refresh calls by task and outcome",
		},
		[]string{"task", "status"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ml_features_events_published_total",
			Help: "Reconcile summary events by outcome",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RowsInserted,
			RowsUpdated,
			SymbolsSkipped,
			HourErrors,
			Runs,
			RunDuration,
			RunInProgress,
			PlaceholdersInserted,
			CollectorCalls,
			EventsPublished,
		)
	})
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordRun records a finished reconcile run.
func RecordRun(duration time.Duration, err error) {
	Runs.WithLabelValues(status(err)).Inc()
	RunDuration.Observe(duration.Seconds())
}

// RecordCollectorCall records one collector refresh.
func RecordCollectorCall(task string, err error) {
	CollectorCalls.WithLabelValues(task, status(err)).Inc()
}

// RecordEvent records one publish attempt.
func RecordEvent(err error) {
	EventsPublished.WithLabelValues(status(err)).Inc()
}
