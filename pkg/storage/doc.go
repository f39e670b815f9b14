/*
Package storage provides the relational persistence layer for Drover's job
and allocation state.

The storage package implements the Store interface using GORM over
PostgreSQL in production and over in-memory SQLite in tests. The database
is the single source of truth: every cross-process decision about job
lifecycle and capacity accounting goes through it, relying on row-level
locking and a unique allocation row per job for correctness.

# Architecture

	┌──────────────────── RELATIONAL STORE ────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐          │
	│  │              GormStore                      │          │
	│  │  - Production: PostgreSQL via pgx           │          │
	│  │  - Tests: SQLite (pure Go, :memory:)        │          │
	│  │  - TranslateError: unique violations map    │          │
	│  │    to gorm.ErrDuplicatedKey on both         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Table Structure                │          │
	│  │  ┌──────────────────────────────────┐      │          │
	│  │  │ jobs                              │      │          │
	│  │  │   index: state, submit_time       │      │          │
	│  │  │ resource_allocations              │      │          │
	│  │  │   unique index: job_id            │      │          │
	│  │  │   index: status                   │      │          │
	│  │  │ system_resources                  │      │          │
	│  │  │   unique index: node_name         │      │          │
	│  │  └──────────────────────────────────┘      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management               │          │
	│  │  - One transaction per Store method         │          │
	│  │  - Transaction(fn) groups several methods   │          │
	│  │    into one commit (savepoint nesting)      │          │
	│  │  - Conditional UPDATE + rows-affected       │          │
	│  │    checks for atomic status transitions     │          │
	│  │  - Transient failures retried with          │          │
	│  │    exponential backoff (retry-go)           │          │
	│  └────────────────────────────────────────────┘          │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

# Core Components

GormStore:
  - Implements Store over any GORM dialector
  - NewPostgresStore configures the production connection pool
  - NewSQLiteStore pins the pool to one connection so :memory:
    databases stay coherent in tests
  - Migrate runs AutoMigrate for all tracked models

Sentinel Errors:
  - ErrJobNotFound: job id has no row
  - ErrAllocationNotFound: no (active) allocation row for the job
  - ErrInvalidTransition: disallowed allocation or job state change
  - ErrDuplicateAllocation: second allocation row for one job
  - All wrapped with fmt.Errorf("%w: ...") so errors.Is works

Retry Policy:
  - Transient failures (connection loss, deadlock) retried 3 times
    with exponential backoff starting at 100ms
  - Logical errors returned immediately, never retried
  - Each retry attempt logged at warn with the operation name

# Allocation State Machine

Every job has at most one resource_allocations row. Its status moves
through exactly one of these paths:

	∅ ──> reserved ──> allocated ──> released
	          │                          ▲
	          └──────────────────────────┘

TransitionToAllocated and Release return the prior status because only
specific edges carry capacity accounting:
  - reserved -> allocated: the caller increments the cpu cache
  - allocated -> released: the caller decrements the cpu cache
  - reserved -> released: no cache change, the cpus were never counted

Both transitions are implemented as conditional UPDATEs guarded by the
current status with a rows-affected check, so two concurrent callers
cannot both observe the same prior status. Release on an absent or
already-released row is a no-op returning nil.

AdmitJob is the scheduler's combined admission transaction: it inserts
the reserved allocation and flips the pending job to running in one
commit. If the job is no longer pending the whole transaction rolls
back, including the allocation insert.

# Reconciliation Queries

Cleanup and recovery lean on three join queries:

  - FindCompletedJobsWithLiveAllocations: allocations not released
    whose job is terminal; the completed-job cleanup releases them
  - FindStaleReservations: reservations older than a threshold whose
    job is still marked running; these are lost queue items
  - FindRunningAllocationsWithPID: active allocations of running jobs
    carrying a pid; the startup orphan probe checks each against the OS

The status index on resource_allocations is load-bearing for all three.

# Usage

Opening a store:

	store, err := storage.NewPostgresStore(cfg.Database.DSN,
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		log.Logger.Fatal().Err(err).Msg("migration failed")
	}

Submitting and admitting a job:

	job := &types.Job{
		Name:          "train-model",
		Account:       "research",
		NTasksPerNode: 1,
		CPUsPerTask:   4,
		Script:        "#!/bin/bash\npython train.py\n",
	}
	err := store.CreateJob(job)

	// Scheduler side: one transaction reserves and flips to running.
	alloc, err := store.AdmitJob(job.ID, job.TotalCPUsRequired(), "node-1")

Worker-side allocation lifecycle:

	alloc, prior, err := store.TransitionToAllocated(job.ID)
	if err == nil && prior == types.AllocationReserved {
		cache.OnTransitionToAllocated(alloc.AllocatedCPUs)
	}

	// ... supervise the child process ...

	released, prior, err := store.Release(job.ID)
	if err == nil && prior == types.AllocationAllocated {
		cache.OnReleaseFromAllocated(released.AllocatedCPUs)
	}
	err = store.MarkJobTerminal(job.ID, types.JobStateCompleted, "0:0", "", time.Now().UTC())

Reconciliation, with release and terminal update in one commit:

	rows, err := store.FindStaleReservations(10 * time.Minute)
	for _, alloc := range rows {
		err := store.Transaction(func(tx storage.Store) error {
			if _, _, err := tx.Release(alloc.JobID); err != nil {
				return err
			}
			return tx.MarkJobTerminal(alloc.JobID, types.JobStateFailed,
				types.ExitStaleReservation, "reservation never executed", time.Now().UTC())
		})
	}

# Integration Points

This package integrates with:

  - pkg/scheduler: ListPendingJobs and AdmitJob drive admission
  - pkg/worker: allocation transitions and terminal job updates
  - pkg/cleanup: reconciliation queries and releases
  - pkg/recovery: startup sweeps over allocations and running jobs
  - pkg/resource: SumAllocatedCPUs feeds the periodic cache sync
  - pkg/api: job CRUD, listing and dashboard counts
  - pkg/types: all persisted models

# Design Patterns

First Terminal Writer Wins:
  - MarkJobTerminal no-ops when the job is already terminal
  - Cancel, cleanup and the worker's finish path race freely;
    whichever commits first owns the terminal state
  - Makes cancel idempotent with zero caller effort

Prior-Status Return:
  - Transitions report what the row was, not just what it became
  - Callers decide cache accounting from the prior status
  - Redelivered queue items transition allocated -> allocated and
    are counted exactly once

Conditional Update:
  - UPDATE ... WHERE id = ? AND status = ? with rows-affected check
  - Portable across PostgreSQL and SQLite, no SELECT FOR UPDATE
  - Losing a race degrades to a no-op, never a double count

Error Wrapping:
  - Sentinels wrapped with %w and context (job id, current status)
  - errors.Is distinguishes logical failures from transient ones

# Performance Characteristics

Read Operations:
  - GetJob by primary key: single index lookup
  - ListPendingJobs: range scan over (state, submit_time)
  - Reconciliation joins: bounded by the status index; the
    non-released row count stays near the live job count

Write Operations:
  - One short transaction per state change, no long-held locks
  - AdmitJob holds two-row locks for the duration of one round trip
  - Retry adds latency only when the backend is already unhealthy

Capacity Sync:
  - SumAllocatedCPUs scans only status = allocated rows
  - Called once per resource_sync_interval_seconds (default 300)

# Troubleshooting

Duplicate allocation errors in scheduler logs:
  - Symptom: ErrDuplicateAllocation on AdmitJob
  - Cause: two scheduler processes racing, or a retried admission
    whose first commit succeeded
  - Effect: harmless; the job was admitted exactly once
  - Solution: run one scheduler per deployment

Jobs stuck in running with a released allocation:
  - Symptom: state = running, allocation released, no worker activity
  - Cause: worker crashed between release and terminal update
  - Solution: the startup timeout sweep fails them after
    orphan_probe_timeout_hours; no manual action needed

Slow admission under load:
  - Symptom: AdmitJob latency grows with pending queue depth
  - Check: index on jobs(state), Postgres lock waits
  - Solution: keep one scheduler; admission passes are serial

# See Also

  - pkg/types for model and state machine definitions
  - pkg/resource for the cached capacity counter this store feeds
  - pkg/cleanup for the strategies built on the reconciliation queries
  - GORM documentation: https://gorm.io/docs/
*/
package storage
