package storage

import (
	"errors"
	"time"

	"github.com/drover-io/drover/pkg/types"
)

// Sentinel errors returned by Store implementations. Callers distinguish
// logical contract violations from transient store failures with errors.Is.
var (
	// ErrJobNotFound is returned when a job id has no row.
	ErrJobNotFound = errors.New("job not found")

	// ErrAllocationNotFound is returned when a job has no allocation row,
	// or no active one where an active row is required.
	ErrAllocationNotFound = errors.New("allocation not found")

	// ErrInvalidTransition is returned when an allocation status change
	// is not one of reserved->allocated, reserved->released or
	// allocated->released.
	ErrInvalidTransition = errors.New("invalid allocation transition")

	// ErrDuplicateAllocation is returned when a second allocation row is
	// created for a job that already has one.
	ErrDuplicateAllocation = errors.New("allocation already exists for job")
)

// JobFilter narrows ListJobs. Zero values mean "no constraint".
type JobFilter struct {
	State   types.JobState
	Account string
	Limit   int
}

// Store defines the interface for job and allocation state storage.
// Implemented by the GORM-backed store over PostgreSQL in production and
// SQLite in tests. Each method is one transaction end-to-end.
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id int64) (*types.Job, error)
	ListJobs(filter JobFilter) ([]*types.Job, error)
	ListPendingJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	MarkJobTerminal(id int64, state types.JobState, exitCode, errorMsg string, endTime time.Time) error
	CountJobsByState() (map[types.JobState]int64, error)
	FindRunningJobsOlderThan(age time.Duration) ([]*types.Job, error)
	DeleteOldJobs(retention time.Duration) (int64, error)

	// Allocations
	AdmitJob(jobID int64, cpus int, nodeName string) (*types.ResourceAllocation, error)
	CreateReserved(jobID int64, cpus int, nodeName string) (*types.ResourceAllocation, error)
	TransitionToAllocated(jobID int64) (*types.ResourceAllocation, types.AllocationStatus, error)
	Release(jobID int64) (*types.ResourceAllocation, types.AllocationStatus, error)
	RecordPID(jobID int64, pid int) error
	GetAllocation(jobID int64) (*types.ResourceAllocation, error)
	SumAllocatedCPUs() (int, error)
	AllocatedCPUsByNode() (map[string]int, error)
	FindCompletedJobsWithLiveAllocations() ([]*types.ResourceAllocation, error)
	FindStaleReservations(maxAge time.Duration) ([]*types.ResourceAllocation, error)
	FindRunningAllocationsWithPID() ([]*types.ResourceAllocation, error)

	// System resources
	UpsertSystemResource(res *types.SystemResource) error
	ListSystemResources() ([]*types.SystemResource, error)

	// Transaction runs fn against a Store whose operations all commit or
	// roll back together. Cleanup strategies use it to pair an allocation
	// release with the job's terminal update.
	Transaction(fn func(tx Store) error) error

	// Utility
	Close() error
}
