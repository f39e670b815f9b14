/*
Package recovery reconciles state left behind by the previous run,
once, at worker startup.

A worker that crashes mid-job leaves a running row, a live allocation,
and possibly a child process nobody waits on. Recovery walks four
repair passes before the worker starts consuming the queue, so the
first scheduling tick already sees honest capacity.

# Architecture

	         RunOnStartup (once, before queue consumption)
	                          │
	   ┌──────────────────────┼──────────────────────────┐
	   ▼                      ▼                          ▼
	1. pending_recovery    2. orphan_recovery      3. timeout_recovery
	   re-enqueue every       kill-0 probe every      fail running jobs
	   pending job under      recorded pid; dead      older than the
	   job_<id>; dupes        → fail "-999:0" and     72h bound with
	   rejected               release together        "-998:0"
	                                                     │
	                                                     ▼
	                                          4. stale_allocation_recovery
	                                             release allocations still
	                                             live under terminal jobs

# Core Components

Step: one reconciliation pass, reporting repaired and examined counts.

Recovery: the fixed step sequence. Order matters; orphans must be
failed before the timeout sweep considers what is still running, and
both must finish before stale allocations are swept.

Result: recovered, skipped, total, success rate and duration, with a
one-line String logged after every startup.

	recov := recovery.New(store, jobQueue, resources, cfg.Cleanup.MaxJobRuntime())
	result := recov.RunOnStartup(ctx)
	if result.Err != nil {
		// Partial repair; the worker still starts.
	}

# Design Patterns

Repair Pairing:

	Steps that fail a job release its allocation in the same
	transaction as the terminal update, and settle the cached counter
	only after commit. The accounting rule is the worker's: only a
	release from allocated decrements.

Contained Failure:

	Step errors are collected into the Result, never raised. A worker
	must come up even when part of the repair fails; the cleanup
	strategies retry the same ground on their intervals.

Always Re-Enqueue:

	Pending recovery does not ask the queue whether an item exists.
	It enqueues unconditionally and lets the deterministic id reject
	survivors, which is cheaper and race-free.

# See Also

  - pkg/cleanup for the interval-driven strategies covering the same
    divergences during steady state
  - pkg/worker for the startup sequence that invokes recovery
*/
package recovery
