/*
Package cleanup implements the background maintenance strategies that
repair allocation and job state after crashes, lost queue items, and
runaway workloads.

Every strategy is a small reconciliation pass: find rows whose state
claims something the system can no longer honor, and move them to the
truth. Strategies run inside one database transaction each, so a pass
either lands completely or not at all. Cached CPU accounting is only
adjusted after the transaction commits.

# Architecture

	              Manager (1s tick)
	                     │
	         ShouldRun gate per strategy
	     (enabled + interval, dependency order)
	                     │
	                     ▼
	  ┌──────────────── Execute ─────────────────┐
	  │  store.Transaction:                       │
	  │    BeforeExecute gate ─ false → rollback  │
	  │    DoCleanup          ─ error → rollback  │
	  │  commit                                   │
	  │  AfterExecute (counter decrements)        │
	  └───────────────────┬───────────────────────┘
	                      ▼
	       Observers (logging, metrics, events)

# Core Components

Strategy:
  - Name / Description / Interval / Priority / DependsOn / Tags
  - ShouldRun / MarkRun: interval bookkeeping against the last run
  - BeforeExecute: in-transaction gate, false means skip
  - DoCleanup: the pass itself, returns items cleaned
  - AfterExecute / OnError: post-commit and post-rollback hooks

BaseStrategy carries the metadata and default hooks; concrete
strategies embed it and implement DoCleanup.

Registered defaults, in execution order:

	pending_job_recovery       re-enqueue pending jobs once at startup
	completed_job_cleanup      release allocations left live by terminal
	                           jobs (every 5s)
	stale_reservation_cleanup  fail reservations never picked up by a
	                           worker (every 120s, after completed)
	stuck_job_cleanup          fail jobs running past the runtime bound
	                           (hourly)
	old_job_cleanup            delete terminal jobs past retention
	                           (daily, disabled by default)

Manager:
  - Register / Strategies: the strategy set in dependency order
  - Start / Stop: the one-second tick loop
  - RunDue: execute every strategy whose gate passes
  - RunStrategy: run one by name, interval ignored
  - AddObserver: attach a result consumer

Result carries strategy name, items cleaned, skipped flag, error, and
duration; its String renders a one-line summary.

# Execution Flow

 1. The tick calls RunDue with the current time
 2. Strategies are visited in dependency order, priority breaking ties
 3. ShouldRun filters by enabled flag and elapsed interval
 4. Execute opens a transaction around BeforeExecute and DoCleanup
 5. On commit, AfterExecute settles the cached CPU counter
 6. Every observer receives the Result, panics contained

# Usage

	manager := cleanup.NewManager(store)
	cleanup.RegisterDefaults(manager, cfg.Cleanup, jobQueue, resources)
	manager.AddObserver(cleanup.MetricsObserver{})
	manager.AddObserver(cleanup.NewEventObserver(broker))

	manager.Start()
	defer manager.Stop()

	// Operator-triggered single pass.
	result, err := manager.RunStrategy("completed_job_cleanup")

# Integration Points

This package integrates with:

  - pkg/storage: every pass runs inside store.Transaction
  - pkg/resource: AfterExecute settles allocated-CPU accounting
  - pkg/queue: pending_job_recovery re-enqueues lost work items
  - pkg/events: the event observer publishes strategy results
  - pkg/metrics: runs, durations, and items cleaned per strategy
  - pkg/scheduler: hosts the manager inside the scheduler daemon

# Design Patterns

Template Method:

	Execute owns the transaction and the hook sequence; strategies
	supply only the gate and the pass. A strategy cannot commit
	partial work or leak a transaction.

Release Pairing:

	Strategies that fail a job release its allocation in the same
	transaction as the terminal update. An observer of the store sees
	the two together or not at all.

Deferred Accounting:

	The cached CPU counter is decremented in AfterExecute, never
	inside the transaction. A rolled-back release must not leave the
	counter describing state that never existed.

Prior-Status Accounting:

	Release reports the allocation's prior status. Only a release
	from allocated decrements the counter; reservations were never
	counted, and a concurrent releaser that wins owns the accounting.

Observer Isolation:

	Observer failures are contained with recover. A broken metrics
	sink cannot stop maintenance.

# See Also

  - pkg/recovery for the startup-time reconciliation passes
  - pkg/storage for the transaction and conditional-update contract
*/
package cleanup
