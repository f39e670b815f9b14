/*
Package queue hands admitted jobs to the worker pool.

Work items ride the fast store via asynq. Every job is enqueued under
the deterministic id job_<id>, so however many components try to queue
it (the scheduler on admission, recovery after a restart), exactly one
work item exists and the rest are rejected with ErrDuplicate. Payloads
carry only the job id; the worker reloads the job from the
authoritative store before acting, which makes a stale or replayed
work item harmless.

The producer side is AsynqQueue (EnqueueJob, Close). The consumer side
is built by NewServer, on which pkg/worker registers its handler for
TypeJobExecute with the configured concurrency. MemoryQueue implements
the same contract in-process for tests.

Work items are enqueued with no retries: a job either runs to a
terminal state or the reconciliation strategies in pkg/cleanup repair
it. Retrying execution at the queue layer would fight the at-most-once
guarantee the allocation state machine provides.

# See Also

  - pkg/scheduler for the enqueue after the admission transaction
  - pkg/worker for the consumer loop
  - pkg/recovery for the re-enqueue-with-dedupe path
*/
package queue
