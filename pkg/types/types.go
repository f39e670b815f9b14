package types

import (
	"fmt"
	"time"
)

// JobState represents the lifecycle state of a job
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// TerminalStates are the states a job never leaves
var TerminalStates = []JobState{JobStateCompleted, JobStateFailed, JobStateCancelled}

// IsTerminal reports whether the state is final
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// AllocationStatus represents the state of a resource allocation.
// The only legal progression is reserved -> allocated -> released.
type AllocationStatus string

const (
	// AllocationReserved marks capacity claimed by the scheduler but not
	// yet consumed. Reservations do not count toward the allocated-cpus
	// cache; a lost queue item leaves only a reservation behind.
	AllocationReserved AllocationStatus = "reserved"

	// AllocationAllocated marks capacity consumed by a running worker.
	AllocationAllocated AllocationStatus = "allocated"

	// AllocationReleased marks capacity returned to the pool.
	AllocationReleased AllocationStatus = "released"
)

// Synthetic exit codes written by cleanup and recovery, in the
// "<code>:<signal>" string form jobs store.
const (
	ExitOrphaned         = "-999:0" // worker died, process gone
	ExitTimeout          = "-998:0" // exceeded max runtime
	ExitStaleReservation = "-3:0"   // reserved but never executed
	ExitStuck            = "-2:0"   // running past the stuck threshold
	ExitCancelled        = "-1:15"  // cancelled via SIGTERM
	ExitLaunchFailure    = "-1:0"   // fork/exec failed
)

// FormatExitCode renders an exit code and signal in the stored string form
func FormatExitCode(code, signal int) string {
	return fmt.Sprintf("%d:%d", code, signal)
}

// JobQueueID returns the deterministic queue id for a job. Enqueues from
// the scheduler and from recovery share this id, so the queue's dedupe
// rejects the duplicate instead of executing the job twice.
func JobQueueID(jobID int64) string {
	return fmt.Sprintf("job_%d", jobID)
}

// EnvMap is a job's environment, persisted as JSON
type EnvMap map[string]string

// Job is the unit of work: a shell script plus declared resources
type Job struct {
	ID         int64  `gorm:"primaryKey" json:"job_id"`
	Name       string `gorm:"size:255" json:"name"`
	Account    string `gorm:"size:255;index" json:"account"`
	Partition  string `gorm:"size:64;index;default:normal" json:"partition"`
	DataSource string `gorm:"size:255" json:"data_source,omitempty"`

	State    JobState `gorm:"size:32;index" json:"state"`
	ErrorMsg string   `gorm:"type:text" json:"error_msg,omitempty"`
	ExitCode string   `gorm:"size:32" json:"exit_code,omitempty"`

	// Declared resources
	NTasksPerNode    int    `gorm:"default:1" json:"ntasks_per_node"`
	CPUsPerTask      int    `gorm:"default:1" json:"cpus_per_task"`
	MemoryPerNode    int    `json:"memory_per_node,omitempty"` // MB, tracked not enforced
	TimeLimitMinutes int    `json:"time_limit_minutes,omitempty"`
	Exclusive        bool   `json:"exclusive,omitempty"`
	AllocatedCPUs    int    `json:"allocated_cpus,omitempty"`
	AllocatedNodes   int    `gorm:"default:1" json:"allocated_nodes"`
	NodeList         string `gorm:"size:255" json:"node_list,omitempty"`

	// Execution inputs
	Script      string `gorm:"type:text" json:"script,omitempty"`
	WorkDir     string `gorm:"size:1024" json:"work_dir,omitempty"`
	StdoutPath  string `gorm:"size:1024" json:"stdout_path,omitempty"`
	StderrPath  string `gorm:"size:1024" json:"stderr_path,omitempty"`
	Environment EnvMap `gorm:"serializer:json" json:"environment,omitempty"`

	SubmitTime   time.Time  `gorm:"index" json:"submit_time"`
	EligibleTime *time.Time `json:"eligible_time,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalCPUsRequired is the job's admission cost: tasks per node times
// cpus per task.
func (j *Job) TotalCPUsRequired() int {
	tasks := j.NTasksPerNode
	if tasks < 1 {
		tasks = 1
	}
	cpus := j.CPUsPerTask
	if cpus < 1 {
		cpus = 1
	}
	return tasks * cpus
}

// ResourceAllocation tracks a job's capacity claim. One row per job,
// created reserved by the scheduler, moved to allocated by the worker at
// fork and to released on exit or by cleanup.
type ResourceAllocation struct {
	ID             int64            `gorm:"primaryKey" json:"id"`
	JobID          int64            `gorm:"uniqueIndex" json:"job_id"`
	AllocatedCPUs  int              `json:"allocated_cpus"`
	NodeName       string           `gorm:"size:255" json:"node_name"`
	ProcessID      *int             `json:"process_id,omitempty"`
	Status         AllocationStatus `gorm:"size:32;index" json:"status"`
	AllocationTime time.Time        `json:"allocation_time"`
	ReleasedTime   *time.Time       `json:"released_time,omitempty"`
}

// SystemResource is a node inventory row, seeded by migration and read
// by the dashboard.
type SystemResource struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	NodeName  string `gorm:"size:255;uniqueIndex" json:"node_name"`
	TotalCPUs int    `json:"total_cpus"`
	Partition string `gorm:"size:64;default:normal" json:"partition"`
	Available bool   `gorm:"default:true" json:"available"`
}

// Worker presence status values
const (
	WorkerStatusReady    = "ready"
	WorkerStatusBusy     = "busy"
	WorkerStatusStopping = "stopping"
)

// WorkerPresence is a worker's ephemeral liveness record. It lives in
// the fast store under worker:<id> with a TTL; expiry is the dead-worker
// detector.
type WorkerPresence struct {
	WorkerID      string    `json:"worker_id"`
	CPUs          int       `json:"cpus"`
	Hostname      string    `json:"hostname"`
	Status        string    `json:"status"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}
