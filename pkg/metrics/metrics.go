package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_jobs_submitted_total",
			Help: "Total number of jobs submitted",
		},
	)

	JobsAdmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_jobs_admitted_total",
			Help: "Total number of jobs admitted by the scheduler",
		},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal state, by state",
		},
		[]string{"state"},
	)

	JobsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_jobs",
			Help: "Current number of jobs by state",
		},
		[]string{"state"},
	)

	// Resource metrics
	CPUsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_cpus_total",
			Help: "Total cpus advertised by live workers",
		},
	)

	CPUsAllocated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_cpus_allocated",
			Help: "CPUs currently consumed by allocated jobs",
		},
	)

	CPUsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_cpus_available",
			Help: "CPUs available for admission",
		},
	)

	WorkersAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "drover_workers_alive",
			Help: "Number of workers with a live presence record",
		},
	)

	// Scheduler metrics
	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduler admission tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulerTicksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_scheduler_ticks_skipped_total",
			Help: "Ticks skipped because no live workers advertised capacity",
		},
	)

	// Worker metrics
	JobRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "drover_job_run_duration_seconds",
			Help:    "Wall-clock duration of supervised job processes in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400, 86400},
		},
	)

	// Queue metrics
	QueueEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_queue_enqueued_total",
			Help: "Total number of work items enqueued",
		},
	)

	QueueDuplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "drover_queue_duplicates_total",
			Help: "Enqueues rejected by the deterministic-id dedupe",
		},
	)

	// Cleanup metrics
	CleanupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_cleanup_runs_total",
			Help: "Cleanup strategy executions by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	CleanupItemsCleaned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_cleanup_items_cleaned_total",
			Help: "Items repaired by cleanup strategies",
		},
		[]string{"strategy"},
	)

	CleanupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_cleanup_duration_seconds",
			Help:    "Cleanup strategy execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Recovery metrics
	RecoveryJobsRecovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_recovery_jobs_recovered_total",
			Help: "Jobs reconciled by startup recovery, by strategy",
		},
		[]string{"strategy"},
	)

	// Component liveness
	ComponentUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_component_up",
			Help: "Whether the background loop's last pass succeeded",
		},
		[]string{"component"},
	)

	ComponentLastBeat = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drover_component_last_beat_timestamp_seconds",
			Help: "Unix time of the background loop's last successful pass",
		},
		[]string{"component"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drover_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drover_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsAdmitted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobsByState)
	prometheus.MustRegister(CPUsTotal)
	prometheus.MustRegister(CPUsAllocated)
	prometheus.MustRegister(CPUsAvailable)
	prometheus.MustRegister(WorkersAlive)
	prometheus.MustRegister(SchedulerTickDuration)
	prometheus.MustRegister(SchedulerTicksSkipped)
	prometheus.MustRegister(JobRunDuration)
	prometheus.MustRegister(QueueEnqueued)
	prometheus.MustRegister(QueueDuplicates)
	prometheus.MustRegister(CleanupRuns)
	prometheus.MustRegister(CleanupItemsCleaned)
	prometheus.MustRegister(CleanupDuration)
	prometheus.MustRegister(RecoveryJobsRecovered)
	prometheus.MustRegister(ComponentUp)
	prometheus.MustRegister(ComponentLastBeat)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
