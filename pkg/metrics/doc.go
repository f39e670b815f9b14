/*
Package metrics provides Prometheus metrics collection and exposition for Drover.

The metrics package defines and registers all Drover metrics using the
Prometheus client library, providing observability into job throughput,
resource utilization, daemon latency, and reconciliation activity. It also
carries a Timer helper for duration measurements and a liveness tracker
the background loops beat into, exposed as per-component gauges.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                             │          │
	│  │  Jobs: submitted, admitted, finished        │          │
	│  │  Resources: cpu gauges, live workers        │          │
	│  │  Scheduler: tick duration, skipped ticks    │          │
	│  │  Worker: job run duration                   │          │
	│  │  Cleanup: per-strategy runs and items       │          │
	│  │  Recovery: recovered jobs                   │          │
	│  │  Queue: enqueues, dedupe rejections         │          │
	│  │  API: request count, duration               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Liveness                  │          │
	│  │  - Beat / MarkDown from daemon loops        │          │
	│  │  - StaleComponents for watchdog logging     │          │
	│  │  - drover_component_up gauges               │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Metric Families

Jobs:
  - drover_jobs_submitted_total: submissions accepted by the API
  - drover_jobs_admitted_total: scheduler admissions
  - drover_jobs_finished_total{state}: terminal transitions by state
  - drover_jobs{state}: current population by state (polled)

Resources:
  - drover_cpus_total, drover_cpus_allocated, drover_cpus_available
  - drover_workers_alive

Daemons:
  - drover_scheduler_tick_duration_seconds
  - drover_scheduler_ticks_skipped_total
  - drover_job_run_duration_seconds
  - drover_cleanup_runs_total{strategy,outcome}
  - drover_cleanup_items_cleaned_total{strategy}
  - drover_cleanup_duration_seconds{strategy}
  - drover_recovery_jobs_recovered_total{strategy}

Transport:
  - drover_queue_enqueued_total, drover_queue_duplicates_total
  - drover_api_requests_total{method,status}
  - drover_api_request_duration_seconds{method}

Liveness:
  - drover_component_up{component}
  - drover_component_last_beat_timestamp_seconds{component}

# Usage

Counting events:

	metrics.JobsAdmitted.Inc()
	metrics.JobsFinished.WithLabelValues("failed").Inc()

Timing operations:

	timer := metrics.NewTimer()
	runTick()
	timer.ObserveDuration(metrics.SchedulerTickDuration)

	timer = metrics.NewTimer()
	result := strategy.Execute(db)
	timer.ObserveDurationVec(metrics.CleanupDuration, strategy.Name())

Reporting loop liveness:

	metrics.Beat(metrics.ComponentScheduler)
	metrics.MarkDown(metrics.ComponentWorker, err.Error())

	if stale := metrics.StaleComponents(5 * time.Minute); len(stale) > 0 {
		log.Logger.Warn().Strs("components", stale).Msg("Loops missing heartbeats")
	}

Exposing the endpoint:

	mux.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/scheduler: Observes tick duration, counts admissions
  - pkg/worker: Observes run duration, counts terminal states
  - pkg/cleanup: MetricsObserver feeds per-strategy counters
  - pkg/recovery: Counts recovered jobs per strategy
  - pkg/resource: Gauge collector polls store and registry
  - pkg/queue: Counts enqueues and dedupe rejections
  - pkg/api: Request middleware plus endpoint exposure

# Design Patterns

Package-Level Registration:
  - All collectors are package vars registered once in init()
  - No collector is created per-request or per-tick
  - Avoids double-registration panics on reuse

Heartbeat Tracking:
  - Each background loop beats once per successful pass
  - MarkDown records the failure reason and keeps the last beat time
  - StaleComponents measures silence since the last successful pass,
    not error counts
  - A loop that stops reporting surfaces through StaleComponents and
    the drover_component_last_beat_timestamp_seconds gauge

Timer Pattern:
  - NewTimer() at operation start, ObserveDuration at the end
  - ObserveDurationVec for labelled histograms
  - Duration() is safe to call repeatedly

# Alerting Examples

High failure rate:

	rate(drover_jobs_finished_total{state="failed"}[10m])
	  / rate(drover_jobs_finished_total[10m]) > 0.5

Capacity exhaustion:

	drover_cpus_available == 0 and drover_jobs{state="pending"} > 0

Dead workers:

	drover_workers_alive == 0

Silent loops:

	time() - drover_component_last_beat_timestamp_seconds > 300

# See Also

  - Prometheus client: https://github.com/prometheus/client_golang
  - pkg/resource for the gauge poller
  - pkg/api for endpoint wiring
*/
package metrics
