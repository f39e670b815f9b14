/*
Package worker implements the execution side of the service: consuming
admitted jobs from the queue, supervising their processes and walking
the allocation machine from reserved through allocated to released.

Workers are the only component that runs user scripts. Everything else
(scheduler, cleanup, recovery) manipulates rows; the worker turns a row
into a process and its exit back into a row.

# Architecture

	┌───────────────────────── WORKER PROCESS ─────────────────────────┐
	│                                                                   │
	│  Start:                                                           │
	│    1. replace any stale presence record of this worker's name     │
	│    2. register presence (TTL-bounded hash in the fast store)      │
	│    3. run startup recovery (pkg/recovery)                         │
	│    4. spawn heartbeat loop                                        │
	│    5. consume the execution queue (asynq, N handler goroutines)   │
	│                                                                   │
	│  Per work item (Execute):                                         │
	│    load job ──▶ wait for admission commit ──▶ allocation to       │
	│    allocated ──▶ supervise process (pkg/supervisor) ──▶ release   │
	│    allocation ──▶ mark job terminal                               │
	│                                                                   │
	│         ┌──────────────┐     ┌──────────────┐                     │
	│         │ durable store│     │  fast store  │                     │
	│         │ jobs + allocs│     │ presence,    │                     │
	│         │              │     │ cpu counter  │                     │
	│         └──────────────┘     └──────────────┘                     │
	└───────────────────────────────────────────────────────────────────┘

# Core Components

Worker:
  - One presence record, Config.Concurrency parallel executions
  - Heartbeat loop refreshing the presence TTL
  - Runs startup recovery before consuming the queue

Execute:
  - The per-job pipeline, also the unit tests exercise directly
  - Drops work items for unknown, terminal or unreserved jobs, which
    makes queue redelivery and duplicates harmless

# Execution Pipeline

 1. Load the job. Absent or already terminal: drop the item.
 2. Still pending: poll until the scheduler's admission commit becomes
    visible (1s interval, 1h bound). The queue can hand an item to a
    worker moments before the admitting transaction commits.
 3. Move the allocation reserved -> allocated. Only when the prior
    status was reserved does the cached cpu counter get incremented;
    a redelivered item finds the allocation already allocated and
    increments nothing.
 4. Supervise the process. The child's pid is recorded into the
    allocation row at fork so recovery can probe it later.
 5. Release the allocation, then mark the job terminal, in that order,
    from a defer. Release decrements the counter iff the prior status
    was allocated.

The terminal write is first-writer-wins: if a concurrent cancel (or a
cleanup strategy) finalized the job first, the worker's write is a
no-op and the worker adopts the state it finds.

# Usage

	w := worker.New(worker.Config{
		ID:                cfg.NodeName,
		Hostname:          hostname,
		CPUs:              cfg.TotalCPUs,
		Concurrency:       cfg.Worker.Concurrency,
		QueueName:         cfg.Worker.QueueName,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval(),
	}, store, reg, resources, sup, broker, recov, redisOpt)

	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

Stop advertises a stopping status, drains in-flight executions up to
the queue consumer's shutdown grace and removes the presence record.
Supervised children that outlive the grace keep running in their own
sessions; the next startup's recovery reconciles their rows.

# Integration Points

  - pkg/queue: the asynq consumer and the work item payload
  - pkg/supervisor: process-group execution of the job script
  - pkg/recovery: reconciliation pass run before consuming
  - pkg/registry: presence record and busy/ready status
  - pkg/resource: the cached cpu counter's increment and decrement
  - pkg/storage: every state transition the pipeline makes

# Design Patterns

Release Before Terminal:

	The allocation is released before the job row goes terminal.
	Inverting the order opens a window where the completed-job cleanup
	sees a terminal job with a live allocation and releases it again.

Prior-Status Accounting:

	Both counter mutations key off the prior status returned by the
	store, so a transition that lost a race mutates nothing and the
	counter is touched exactly once per side.

Drop, Don't Retry:

	Job outcomes, including script failures, are recorded in the store
	and the work item is acknowledged. Only infrastructure failures
	surface to the queue; re-running a script cannot fix a store that
	is down, and re-running a failed script is never correct.

# Troubleshooting

Job stuck in pending with a queue item:
  - The admitting transaction never committed; the worker gives up
    after the pending wait and the reservation-less job is re-enqueued
    by the next startup recovery

Presence flapping:
  - Heartbeat failures log at warn and presence degrades toward its
    TTL; check fast-store connectivity from the worker host

Counter drift after a worker crash:
  - Expected; the scheduler daemon's periodic resync rebuilds the
    counter from the store

# See Also

  - pkg/scheduler: the admission side of the allocation machine
  - pkg/cleanup: repairs for jobs a worker never got to finish
  - pkg/supervisor: the process-group mechanics
*/
package worker
