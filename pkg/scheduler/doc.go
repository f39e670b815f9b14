/*
Package scheduler provides the admission daemon that turns pending jobs
into reservations and queue entries.

The scheduler is the only component that creates allocations. Each pass
reads the pending queue in submit order, charges a local capacity
counter, and for every job that fits writes a reserved allocation and
flips the job to running in one transaction. The work item enters the
execution queue only after that transaction commits.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                    Scheduler Daemon                        │
	│                  (tick every 5 seconds)                    │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. total = live worker capacity (presence records)        │
	│     total == 0 → skip tick                                 │
	│  2. available = total - allocated (cached counter)         │
	│  3. pending jobs ordered by submit_time, id                │
	│  4. per job, first-fit:                                    │
	│       required > available → continue to smaller jobs      │
	│       else: one tx (reserved allocation + job → running)   │
	│             then enqueue job_<id>, charge local counter    │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	     ┌───────────┼───────────────┐
	     ▼           ▼               ▼
	  execution   counter resync   cleanup manager
	  queue       (every 5 min)    (1s strategy tick)

# Core Components

Scheduler: one admission pass over the pending list.

	sched := scheduler.New(store, jobQueue, resources, broker, cfg.NodeName)
	admitted, err := sched.Schedule(ctx)

Daemon: the periodic loops of the scheduler process. It owns the
admission tick, the counter resync, the utilization stats line, and
the cleanup manager's lifecycle.

	daemon := scheduler.NewDaemon(sched, resources, cleanupMgr, cfg.Scheduler)
	daemon.Start()
	defer daemon.Stop()

The scheduler holds no state between passes. Capacity is re-read each
tick; the local available counter lives only for the duration of one
pass.

# Admission Algorithm

FIFO with first-fit. The pending list is ordered by submit time with
the job id breaking ties, and a job too large for the remaining
capacity does not block smaller jobs behind it:

	total = 10, pending = [9 cpus, 4 cpus, 1 cpu]
	pass admits: 9 (available 1), skips 4, admits 1 (available 0)

Strict FIFO holds within a pass only; across passes a small job may
overtake a large one that is still waiting for capacity. Admission
writes the reservation without touching the cached allocated counter.
Only a worker's reserved-to-allocated transition consumes capacity, so
a reservation stranded by a lost queue item costs nothing until cleanup
releases it.

Admission failure modes, all contained to the single job:

  - allocation already exists: another pass won, skip
  - job no longer pending: cancelled between listing and admission, skip
  - enqueue fails after commit: reservation stands, the
    stale-reservation strategy eventually fails the job
  - duplicate queue item: rejected by the deterministic job_<id>, fine

# Usage

	store, _ := storage.NewPostgresStore(cfg.Database)
	resources := resource.NewManager(store, reg, cache)
	sched := scheduler.New(store, jobQueue, resources, broker, cfg.NodeName)

	cleanupMgr := cleanup.NewManager(store)
	cleanup.RegisterDefaults(cleanupMgr, cfg.Cleanup, jobQueue, resources)

	daemon := scheduler.NewDaemon(sched, resources, cleanupMgr, cfg.Scheduler)
	daemon.Start()
	defer daemon.Stop()

# Integration Points

This package integrates with:

  - pkg/storage: AdmitJob is the single admission transaction
  - pkg/resource: capacity reads; the counter itself is never written
  - pkg/queue: post-commit enqueue under the deterministic id
  - pkg/cleanup: the manager runs inside the daemon process
  - pkg/events: publishes job.admitted
  - pkg/metrics: tick duration, skipped ticks, admissions

# Design Patterns

Single Admitter:

	One scheduler daemon per deployment. The unique allocation index
	makes concurrent admitters safe but wasteful; coordination between
	multiple scheduler processes is out of scope.

Reserve Without Charging:

	Admission writes reserved and leaves the allocated counter alone.
	Capacity is consumed at the worker's fork, so lost queue items and
	dead workers never leak capacity through the admission path.

Tick Containment:

	A failed pass logs and ends; the next tick starts from fresh
	state. Nothing a tick does needs to be undone, because every
	per-job step is atomic on its own.

# Performance Characteristics

A pass costs one capacity read, one pending listing, and one
transaction plus one enqueue per admitted job. With P pending jobs the
pass is O(P); jobs that do not fit cost only the comparison. The
counter resync every five minutes is one aggregate query. Admission
latency is bounded by the tick interval: a job submitted right after a
tick waits at most one interval before its first consideration.

# Troubleshooting

Jobs stay pending forever:

 1. No live workers: the tick skips while total capacity is zero.
    Check worker presence records and the scheduler_ticks_skipped
    counter.
 2. Not enough capacity: jobs larger than total never admit. Compare
    the job's cpus against live capacity.

Jobs admitted but never start:

 1. Queue item lost after commit: the stale-reservation strategy
    fails the job with exit "-3:0" after the age threshold.
 2. Workers not consuming: check worker logs and queue depth.

Admitted capacity looks wrong:

 1. The cached counter drifted: the five-minute resync overwrites it
    from the store; shorten resource_sync_interval_seconds if drift
    matters sooner.

# See Also

  - pkg/worker for the consuming side of the queue
  - pkg/cleanup for the strategies that repair stranded admissions
  - pkg/resource for the capacity model
*/
package scheduler
