/*
Package resource answers capacity questions and keeps the cached
allocated-cpus counter honest.

Total capacity is dynamic: it is the sum of cpus advertised by workers
with live presence records, so capacity follows worker membership with
no configuration edits. Consumed capacity is the number of cpus held by
allocations in the allocated state. The authoritative value is a SUM
over the relational store; a fast-store counter fronts it so the
scheduler's hot loop never touches the database for a read.

# Architecture

	                 ┌───────────────────────────┐
	                 │      Resource Manager     │
	                 │         (facade)          │
	                 └──────┬─────────┬──────────┘
	        TotalCPUs       │         │       AllocatedCPUs
	            ┌───────────┘         └───────────┐
	            ▼                                 ▼
	   ┌────────────────┐              ┌─────────────────────┐
	   │ Worker Registry│              │   Counter Cache     │
	   │ (presence TTLs)│              │ resource:allocated… │
	   └────────────────┘              └──────────┬──────────┘
	                                     miss /   │  sync
	                                     fallback ▼
	                               ┌─────────────────────────┐
	                               │  Authoritative Store    │
	                               │ SUM(allocated_cpus)     │
	                               │ WHERE status=allocated  │
	                               └─────────────────────────┘

# Core Components

Manager:
  - TotalCPUs: live-worker capacity; unreachable registry reads as zero
  - AllocatedCPUs: cached counter, store fallback with write-back
  - AvailableCPUs: total minus allocated, floored at zero
  - OnTransitionToAllocated / OnReleaseFromAllocated: counter mutations
  - SyncFromStore / InitCache: overwrite the counter with store truth
  - Stats / Utilization: dashboard snapshot

Cache:
  - Get / Set / Increment / Decrement over one fast-store counter
  - Decrement floors at zero atomically (small Lua script)

Collector:
  - 15 s poller feeding the capacity and job-state gauges

# Counter Discipline

The counter moves only on real state transitions:

	reserved  → allocated   Increment(cpus)    (worker, at fork)
	allocated → released    Decrement(cpus)    (worker or cleanup)
	reserved  → released    no counter change  (never counted)

Reservations are deliberately invisible here. A lost queue item or a
worker that dies before forking leaves only a reserved row, which holds
no counted capacity; cleanup releases the row without touching the
counter and nothing leaks.

Counter writes that fail are logged and dropped, never fatal. The
periodic SyncFromStore overwrites the counter with the authoritative
sum, bounding any divergence by the sync interval.

# Usage

	cache := resource.NewCache(redisClient)
	mgr := resource.NewManager(store, reg, cache)

	if err := mgr.InitCache(ctx); err != nil {
		return err
	}

	// Scheduler tick
	total := mgr.TotalCPUs(ctx)
	available, err := mgr.AvailableCPUs(ctx)

	// Worker transitions
	mgr.OnTransitionToAllocated(ctx, job.TotalCPUsRequired())
	defer mgr.OnReleaseFromAllocated(ctx, job.TotalCPUsRequired())

# Integration Points

This package integrates with:

  - pkg/registry: total capacity from live presence records
  - pkg/storage: authoritative SUM and the allocation state machine
  - pkg/scheduler: admission math and the periodic sync
  - pkg/worker: counter mutations at fork and exit
  - pkg/api: Stats behind the dashboard endpoint
  - pkg/metrics: Collector feeds the capacity gauges

# Design Patterns

Cache-Aside With Write-Back:

	Reads prefer the counter; a miss falls through to the store and
	seeds the counter. The store is always truth; the counter is a
	bounded-staleness performance layer.

Degrade, Don't Die:

	Registry down → zero capacity, admission idles. Counter down →
	reads fall through to the store, mutations log and drop. No
	capacity-path failure takes the service down.

Floored Arithmetic:

	AvailableCPUs and Decrement both clamp at zero. Workers leaving
	can make allocated exceed total; a double release must not drive
	the counter negative.

# See Also

  - pkg/storage for the allocation state machine behind the sum
  - pkg/registry for how capacity enters the cluster
  - pkg/scheduler for how available cpus gate admission
*/
package resource
