/*
Package types defines the core data structures used throughout Drover.

This package contains the fundamental types of Drover's domain model: jobs,
resource allocations, node inventory, and worker presence. These types are
used by all other packages for persistence, scheduling decisions, execution,
and API responses.

# Architecture

The types package is the foundation of Drover's data model. It defines:

  - Job lifecycle (pending through terminal states)
  - The three-state resource allocation discipline
  - Declared resources (tasks, cpus, memory, time limits)
  - Node inventory for the dashboard
  - Ephemeral worker presence records
  - Synthetic exit codes written by cleanup and recovery

All types are designed to be:
  - Serializable (JSON for the API, GORM tags for the relational store)
  - Self-documenting (clear field names and comments)
  - Validated (typed string constants for enums)

# Core Types

Job Lifecycle:
  - Job: A shell script plus declared resources and bookkeeping
  - JobState: pending, running, completed, failed, cancelled
  - TerminalStates: the set a job never leaves

Resource Tracking:
  - ResourceAllocation: One row per job tracking its capacity claim
  - AllocationStatus: reserved, allocated, released
  - SystemResource: Node inventory row for the dashboard

Worker Liveness:
  - WorkerPresence: TTL-backed record in the fast store

Exit Codes:
  - ExitOrphaned, ExitTimeout, ExitStaleReservation, ExitStuck,
    ExitCancelled, ExitLaunchFailure: synthetic "<code>:<signal>" strings

# Usage

Creating a Job:

	job := &types.Job{
		Name:          "train-model",
		Account:       "research",
		Partition:     "normal",
		State:         types.JobStatePending,
		NTasksPerNode: 2,
		CPUsPerTask:   4,
		Script:        "#!/bin/bash\npython train.py\n",
		WorkDir:       "/data/jobs/train",
		StdoutPath:    "/data/jobs/train/out.log",
		StderrPath:    "/data/jobs/train/err.log",
		SubmitTime:    time.Now().UTC(),
	}
	required := job.TotalCPUsRequired() // 8

Creating a reservation:

	alloc := &types.ResourceAllocation{
		JobID:          job.ID,
		AllocatedCPUs:  required,
		NodeName:       "node-1",
		Status:         types.AllocationReserved,
		AllocationTime: time.Now().UTC(),
	}

Deterministic queue ids:

	id := types.JobQueueID(job.ID) // "job_42"

# State Machine

Jobs follow a state machine:

	pending → running → completed
	              ↓   ↘ failed
	          cancelled

Allocations follow a stricter one:

	reserved → allocated → released
	     ↘─────────────────↗

Valid allocation transitions:
  - reserved → allocated (worker begins execution)
  - reserved → released (stale reservation cleanup)
  - allocated → released (worker finishes, cancel, or cleanup)

No backwards transitions exist. Only the reserved → allocated edge
consumes cached capacity; releasing from allocated returns it.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants:
	  type JobState string
	  const (
	      JobStatePending JobState = "pending"
	      JobStateRunning JobState = "running"
	  )

Optional Fields:

	Nullable timestamps and PIDs use pointers:
	  - StartTime, EndTime: nil until the event occurs
	  - ProcessID: nil until the worker forks

Exit Code Strings:

	Exit codes are stored as "<code>:<signal>". Normal exits carry a zero
	signal ("0:0", "1:0"); cleanup writes negative synthetic codes so a
	reader can tell an orphaned job ("-999:0") from a real failure.

# Integration Points

This package integrates with:

  - pkg/storage: Persists Job, ResourceAllocation, SystemResource via GORM
  - pkg/scheduler: Uses TotalCPUsRequired for admission decisions
  - pkg/worker: Drives job and allocation state transitions
  - pkg/cleanup: Repairs divergent state using the terminal-state set
  - pkg/registry: Serializes WorkerPresence into the fast store
  - pkg/api: Renders jobs and allocations as JSON

# Thread Safety

All types in this package are plain data:
  - Read-safe: Can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by callers

The storage layer owns cross-process synchronization through transactions
and the unique index on ResourceAllocation.JobID.

# See Also

  - pkg/storage for persistence
  - pkg/resource for the capacity cache built on these types
  - pkg/cleanup for the reconciliation strategies
*/
package types
