package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/drover-io/drover/pkg/types"
)

// GormStore implements Store on a relational database through GORM.
// PostgreSQL is the production backend; tests run the same code against
// in-memory SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewPostgresStore opens a PostgreSQL-backed store with the given
// connection pool limits.
func NewPostgresStore(dsn string, maxOpenConns, maxIdleConns int) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &GormStore{db: db}, nil
}

// NewSQLiteStore opens a SQLite-backed store. Pure-Go driver, no cgo;
// path may be ":memory:".
func NewSQLiteStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases coherent across calls.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &GormStore{db: db}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	}
}

// Migrate creates or updates the schema for all tracked models.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&types.Job{},
		&types.ResourceAllocation{},
		&types.SystemResource{},
	)
}

// DropTables removes the schema for all tracked models. Only the
// migration tool calls this, behind an explicit confirmation.
func (s *GormStore) DropTables() error {
	return s.db.Migrator().DropTable(
		&types.Job{},
		&types.ResourceAllocation{},
		&types.SystemResource{},
	)
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Job operations ---

// CreateJob inserts a new job. State defaults to pending and submit time
// to now when unset.
func (s *GormStore) CreateJob(job *types.Job) error {
	if job.State == "" {
		job.State = types.JobStatePending
	}
	if job.SubmitTime.IsZero() {
		job.SubmitTime = time.Now().UTC()
	}
	return withRetry("create job", func() error {
		return s.db.Create(job).Error
	})
}

// GetJob loads a job by id.
func (s *GormStore) GetJob(id int64) (*types.Job, error) {
	var job types.Job
	err := withRetry("get job", func() error {
		return s.db.First(&job, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, most recent first.
func (s *GormStore) ListJobs(filter JobFilter) ([]*types.Job, error) {
	var jobs []*types.Job
	err := withRetry("list jobs", func() error {
		q := s.db.Order("submit_time DESC, id DESC")
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		if filter.Account != "" {
			q = q.Where("account = ?", filter.Account)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q.Find(&jobs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// ListPendingJobs returns pending jobs in FIFO order: submit time
// ascending, ties broken by id ascending.
func (s *GormStore) ListPendingJobs() ([]*types.Job, error) {
	var jobs []*types.Job
	err := withRetry("list pending jobs", func() error {
		return s.db.
			Where("state = ?", types.JobStatePending).
			Order("submit_time ASC, id ASC").
			Find(&jobs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob saves the full job row.
func (s *GormStore) UpdateJob(job *types.Job) error {
	return withRetry("update job", func() error {
		return s.db.Save(job).Error
	})
}

// MarkJobTerminal moves a job into a terminal state with its exit code,
// error message and end time. The first terminal writer wins: if the job
// is already terminal the call is a no-op, which keeps cancel, cleanup
// and the worker's own finish path idempotent against each other.
func (s *GormStore) MarkJobTerminal(id int64, state types.JobState, exitCode, errorMsg string, endTime time.Time) error {
	if !state.IsTerminal() {
		return fmt.Errorf("%w: %s is not a terminal state", ErrInvalidTransition, state)
	}
	return withRetry("mark job terminal", func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			var job types.Job
			if err := tx.First(&job, id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: %d", ErrJobNotFound, id)
				}
				return err
			}
			if job.State.IsTerminal() {
				return nil
			}
			res := tx.Model(&types.Job{}).
				Where("id = ? AND state = ?", id, job.State).
				Updates(map[string]interface{}{
					"state":     state,
					"exit_code": exitCode,
					"error_msg": errorMsg,
					"end_time":  endTime,
				})
			if res.Error != nil {
				return res.Error
			}
			// Zero rows affected means a concurrent writer moved the job
			// first; their terminal state stands.
			return nil
		})
	})
}

// CountJobsByState returns the number of jobs per state.
func (s *GormStore) CountJobsByState() (map[types.JobState]int64, error) {
	type stateCount struct {
		State types.JobState
		Count int64
	}
	var rows []stateCount
	err := withRetry("count jobs by state", func() error {
		return s.db.Model(&types.Job{}).
			Select("state, COUNT(*) AS count").
			Group("state").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by state: %w", err)
	}
	counts := make(map[types.JobState]int64, len(rows))
	for _, r := range rows {
		counts[r.State] = r.Count
	}
	return counts, nil
}

// FindRunningJobsOlderThan returns running jobs whose start time is older
// than the given age. Serves both the stuck-job cleanup and the startup
// timeout sweep, which differ only in threshold.
func (s *GormStore) FindRunningJobsOlderThan(age time.Duration) ([]*types.Job, error) {
	cutoff := time.Now().UTC().Add(-age)
	var jobs []*types.Job
	err := withRetry("find running jobs older than", func() error {
		return s.db.
			Where("state = ? AND start_time IS NOT NULL AND start_time < ?", types.JobStateRunning, cutoff).
			Order("start_time ASC").
			Find(&jobs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find long-running jobs: %w", err)
	}
	return jobs, nil
}

// DeleteOldJobs removes terminal jobs whose end time is older than the
// retention window. Returns the number of rows deleted.
func (s *GormStore) DeleteOldJobs(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	var deleted int64
	err := withRetry("delete old jobs", func() error {
		res := s.db.
			Where("state IN ? AND end_time IS NOT NULL AND end_time < ?", types.TerminalStates, cutoff).
			Delete(&types.Job{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old jobs: %w", err)
	}
	return deleted, nil
}

// --- Allocation operations ---

// AdmitJob performs the scheduler's admission transaction: insert a
// reserved allocation and flip the pending job to running with its start
// time, node name and cpu count. Either both writes commit or neither.
func (s *GormStore) AdmitJob(jobID int64, cpus int, nodeName string) (*types.ResourceAllocation, error) {
	var alloc *types.ResourceAllocation
	err := withRetry("admit job", func() error {
		a := &types.ResourceAllocation{
			JobID:          jobID,
			AllocatedCPUs:  cpus,
			NodeName:       nodeName,
			Status:         types.AllocationReserved,
			AllocationTime: time.Now().UTC(),
		}
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(a).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: job %d", ErrDuplicateAllocation, jobID)
				}
				return err
			}
			res := tx.Model(&types.Job{}).
				Where("id = ? AND state = ?", jobID, types.JobStatePending).
				Updates(map[string]interface{}{
					"state":          types.JobStateRunning,
					"start_time":     a.AllocationTime,
					"node_list":      nodeName,
					"allocated_cpus": cpus,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: job %d is not pending", ErrInvalidTransition, jobID)
			}
			alloc = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

// CreateReserved inserts a reserved allocation for a job without touching
// the job row. The unique index on job_id enforces one allocation per job.
func (s *GormStore) CreateReserved(jobID int64, cpus int, nodeName string) (*types.ResourceAllocation, error) {
	var alloc *types.ResourceAllocation
	err := withRetry("create reserved allocation", func() error {
		a := &types.ResourceAllocation{
			JobID:          jobID,
			AllocatedCPUs:  cpus,
			NodeName:       nodeName,
			Status:         types.AllocationReserved,
			AllocationTime: time.Now().UTC(),
		}
		if err := s.db.Create(a).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: job %d", ErrDuplicateAllocation, jobID)
			}
			return err
		}
		alloc = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return alloc, nil
}

// TransitionToAllocated moves a job's allocation from reserved to
// allocated and reports the prior status. Only the reserved->allocated
// transition should increment the capacity cache, so callers check the
// prior status. Calling on an already-allocated row is a no-op that
// reports allocated, which makes redelivered queue items harmless.
func (s *GormStore) TransitionToAllocated(jobID int64) (*types.ResourceAllocation, types.AllocationStatus, error) {
	var alloc types.ResourceAllocation
	var prior types.AllocationStatus
	err := withRetry("transition to allocated", func() error {
		prior = ""
		return s.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&types.ResourceAllocation{}).
				Where("job_id = ? AND status = ?", jobID, types.AllocationReserved).
				Update("status", types.AllocationAllocated)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				prior = types.AllocationReserved
			}
			if err := tx.Where("job_id = ?", jobID).First(&alloc).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: job %d", ErrAllocationNotFound, jobID)
				}
				return err
			}
			if prior != "" {
				return nil
			}
			if alloc.Status == types.AllocationAllocated {
				prior = types.AllocationAllocated
				return nil
			}
			return fmt.Errorf("%w: job %d allocation is %s", ErrInvalidTransition, jobID, alloc.Status)
		})
	})
	if err != nil {
		return nil, "", err
	}
	return &alloc, prior, nil
}

// Release moves a job's allocation to released and records the release
// time, reporting the prior status so callers can decrement the capacity
// cache when it was allocated. Releasing an absent or already-released
// allocation is a no-op returning nil.
func (s *GormStore) Release(jobID int64) (*types.ResourceAllocation, types.AllocationStatus, error) {
	var alloc *types.ResourceAllocation
	var prior types.AllocationStatus
	err := withRetry("release allocation", func() error {
		alloc, prior = nil, ""
		return s.db.Transaction(func(tx *gorm.DB) error {
			var row types.ResourceAllocation
			err := tx.
				Where("job_id = ? AND status <> ?", jobID, types.AllocationReleased).
				First(&row).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			}
			now := time.Now().UTC()
			res := tx.Model(&types.ResourceAllocation{}).
				Where("id = ? AND status = ?", row.ID, row.Status).
				Updates(map[string]interface{}{
					"status":        types.AllocationReleased,
					"released_time": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// A concurrent releaser won; it owns the cache decrement.
				return nil
			}
			prior = row.Status
			row.Status = types.AllocationReleased
			row.ReleasedTime = &now
			alloc = &row
			return nil
		})
	})
	if err != nil {
		return nil, "", err
	}
	return alloc, prior, nil
}

// RecordPID stores the supervised child's process id on the job's active
// allocation row.
func (s *GormStore) RecordPID(jobID int64, pid int) error {
	return withRetry("record pid", func() error {
		res := s.db.Model(&types.ResourceAllocation{}).
			Where("job_id = ? AND status <> ?", jobID, types.AllocationReleased).
			Update("process_id", pid)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: no active allocation for job %d", ErrAllocationNotFound, jobID)
		}
		return nil
	})
}

// GetAllocation loads a job's allocation row regardless of status.
func (s *GormStore) GetAllocation(jobID int64) (*types.ResourceAllocation, error) {
	var alloc types.ResourceAllocation
	err := withRetry("get allocation", func() error {
		return s.db.Where("job_id = ?", jobID).First(&alloc).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %d", ErrAllocationNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get allocation for job %d: %w", jobID, err)
	}
	return &alloc, nil
}

// SumAllocatedCPUs returns the authoritative count of consumed cpus:
// the sum over rows in allocated status. Sole caller is the periodic
// cache sync.
func (s *GormStore) SumAllocatedCPUs() (int, error) {
	var total int64
	err := withRetry("sum allocated cpus", func() error {
		return s.db.Model(&types.ResourceAllocation{}).
			Where("status = ?", types.AllocationAllocated).
			Select("COALESCE(SUM(allocated_cpus), 0)").
			Scan(&total).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sum allocated cpus: %w", err)
	}
	return int(total), nil
}

// AllocatedCPUsByNode breaks the allocated sum down per node for the
// dashboard's node listing.
func (s *GormStore) AllocatedCPUsByNode() (map[string]int, error) {
	type nodeSum struct {
		NodeName string
		Total    int64
	}
	var rows []nodeSum
	err := withRetry("sum allocated cpus by node", func() error {
		return s.db.Model(&types.ResourceAllocation{}).
			Where("status = ?", types.AllocationAllocated).
			Select("node_name, COALESCE(SUM(allocated_cpus), 0) AS total").
			Group("node_name").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sum allocated cpus by node: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.NodeName] = int(r.Total)
	}
	return out, nil
}

// FindCompletedJobsWithLiveAllocations returns allocations not yet
// released whose job has reached a terminal state. These are the rows the
// completed-job cleanup reconciles.
func (s *GormStore) FindCompletedJobsWithLiveAllocations() ([]*types.ResourceAllocation, error) {
	var allocs []*types.ResourceAllocation
	err := withRetry("find live allocations of finished jobs", func() error {
		return s.db.
			Joins("JOIN jobs ON jobs.id = resource_allocations.job_id").
			Where("resource_allocations.status <> ?", types.AllocationReleased).
			Where("jobs.state IN ?", types.TerminalStates).
			Find(&allocs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find live allocations of finished jobs: %w", err)
	}
	return allocs, nil
}

// FindStaleReservations returns reservations older than maxAge whose job
// is still marked running. A reservation this old means the queue item
// was lost or the worker died before the allocated transition.
func (s *GormStore) FindStaleReservations(maxAge time.Duration) ([]*types.ResourceAllocation, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var allocs []*types.ResourceAllocation
	err := withRetry("find stale reservations", func() error {
		return s.db.
			Joins("JOIN jobs ON jobs.id = resource_allocations.job_id").
			Where("resource_allocations.status = ?", types.AllocationReserved).
			Where("resource_allocations.allocation_time < ?", cutoff).
			Where("jobs.state = ?", types.JobStateRunning).
			Find(&allocs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find stale reservations: %w", err)
	}
	return allocs, nil
}

// FindRunningAllocationsWithPID returns active allocations of running
// jobs that have a recorded process id. The startup orphan probe checks
// each pid against the OS.
func (s *GormStore) FindRunningAllocationsWithPID() ([]*types.ResourceAllocation, error) {
	var allocs []*types.ResourceAllocation
	err := withRetry("find running allocations with pid", func() error {
		return s.db.
			Joins("JOIN jobs ON jobs.id = resource_allocations.job_id").
			Where("resource_allocations.status <> ?", types.AllocationReleased).
			Where("resource_allocations.process_id IS NOT NULL").
			Where("jobs.state = ?", types.JobStateRunning).
			Find(&allocs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find running allocations with pid: %w", err)
	}
	return allocs, nil
}

// --- System resource operations ---

// UpsertSystemResource inserts or updates a node inventory row keyed by
// node name.
func (s *GormStore) UpsertSystemResource(res *types.SystemResource) error {
	return withRetry("upsert system resource", func() error {
		return s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_cpus", "partition", "available"}),
		}).Create(res).Error
	})
}

// ListSystemResources returns all node inventory rows.
func (s *GormStore) ListSystemResources() ([]*types.SystemResource, error) {
	var resources []*types.SystemResource
	err := withRetry("list system resources", func() error {
		return s.db.Order("node_name ASC").Find(&resources).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list system resources: %w", err)
	}
	return resources, nil
}

// --- Transactions ---

// Transaction runs fn against a store bound to one database transaction.
// Store methods called inside fn open savepoints rather than new
// transactions, so the whole body commits or rolls back as a unit.
func (s *GormStore) Transaction(fn func(tx Store) error) error {
	return s.db.Transaction(func(txdb *gorm.DB) error {
		return fn(&GormStore{db: txdb})
	})
}
