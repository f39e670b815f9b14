package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drover-io/drover/pkg/config"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/types"
)

// CompletedJobCleanup releases allocations left live by terminal jobs.
// The worker releases before marking terminal, so a live allocation
// under a terminal job means the worker died between the two writes or
// never got that far.
type CompletedJobCleanup struct {
	BaseStrategy
	resources *resource.Manager

	// cpus released from allocated rows this run, applied to the
	// capacity counter only after the commit they belong to.
	releasedCPUs int
}

func NewCompletedJobCleanup(resources *resource.Manager) *CompletedJobCleanup {
	return &CompletedJobCleanup{
		BaseStrategy: BaseStrategy{
			name:        "completed_job_cleanup",
			description: "releases allocations still live under terminal jobs",
			interval:    5 * time.Second,
			priority:    1,
			tags:        []string{"critical", "resource"},
			enabled:     true,
		},
		resources: resources,
	}
}

func (s *CompletedJobCleanup) DoCleanup(tx storage.Store) (int, error) {
	s.releasedCPUs = 0

	allocs, err := tx.FindCompletedJobsWithLiveAllocations()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, alloc := range allocs {
		released, prior, err := tx.Release(alloc.JobID)
		if err != nil {
			return 0, err
		}
		if released == nil {
			// A concurrent releaser won; it owns the accounting.
			continue
		}
		if prior == types.AllocationAllocated {
			s.releasedCPUs += released.AllocatedCPUs
		}
		jobLog := log.WithJob(alloc.JobID)
		jobLog.Warn().
			Int("cpus", released.AllocatedCPUs).
			Msg("Released allocation left live by terminal job")
		count++
	}
	return count, nil
}

func (s *CompletedJobCleanup) AfterExecute(result Result) {
	if s.releasedCPUs > 0 {
		s.resources.OnReleaseFromAllocated(context.Background(), s.releasedCPUs)
	}
}

// StaleReservationCleanup repairs reservations that aged out without
// ever executing: the queue item was lost or no worker picked it up.
// The release and the job's failure commit together.
type StaleReservationCleanup struct {
	BaseStrategy
	maxAge       time.Duration
	resources    *resource.Manager
	releasedCPUs int
}

func NewStaleReservationCleanup(maxAge time.Duration, resources *resource.Manager) *StaleReservationCleanup {
	return &StaleReservationCleanup{
		BaseStrategy: BaseStrategy{
			name:        "stale_reservation_cleanup",
			description: fmt.Sprintf("fails jobs whose reservation aged past %s without executing", maxAge),
			interval:    120 * time.Second,
			priority:    2,
			dependsOn:   []string{"completed_job_cleanup"},
			tags:        []string{"critical", "resource"},
			enabled:     true,
		},
		maxAge:    maxAge,
		resources: resources,
	}
}

func (s *StaleReservationCleanup) DoCleanup(tx storage.Store) (int, error) {
	s.releasedCPUs = 0

	stale, err := tx.FindStaleReservations(s.maxAge)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	count := 0
	for _, alloc := range stale {
		released, prior, err := tx.Release(alloc.JobID)
		if err != nil {
			return 0, err
		}
		if released == nil {
			continue
		}
		// The query saw reserved; allocated here means a worker won the
		// race at the staleness boundary and its cpus were counted.
		if prior == types.AllocationAllocated {
			s.releasedCPUs += released.AllocatedCPUs
		}
		err = tx.MarkJobTerminal(alloc.JobID, types.JobStateFailed, types.ExitStaleReservation,
			fmt.Sprintf("reservation not executed within %s; queue item lost or worker never started", s.maxAge), now)
		if err != nil {
			return 0, err
		}
		jobLog := log.WithJob(alloc.JobID)
		jobLog.Warn().
			Dur("age", now.Sub(alloc.AllocationTime)).
			Msg("Failed job with stale reservation")
		count++
	}
	return count, nil
}

func (s *StaleReservationCleanup) AfterExecute(result Result) {
	if s.releasedCPUs > 0 {
		s.resources.OnReleaseFromAllocated(context.Background(), s.releasedCPUs)
	}
	if result.Count > 10 {
		log.Logger.Warn().
			Int("count", result.Count).
			Msg("Unusually many stale reservations cleaned, check queue and workers")
	}
}

// PendingJobRecovery re-enqueues every pending job once at startup.
// The deterministic queue id makes this safe against jobs that are
// still queued; only genuinely lost items get a new queue entry.
type PendingJobRecovery struct {
	BaseStrategy
	queue queue.Queue
}

func NewPendingJobRecovery(q queue.Queue) *PendingJobRecovery {
	return &PendingJobRecovery{
		BaseStrategy: BaseStrategy{
			name:        "pending_job_recovery",
			description: "re-enqueues pending jobs whose queue items were lost",
			priority:    0,
			tags:        []string{"startup"},
			enabled:     true,
		},
		queue: q,
	}
}

// ShouldRun fires exactly once, on the first tick after startup.
func (s *PendingJobRecovery) ShouldRun(now time.Time) bool {
	return s.enabled && s.lastRun.IsZero()
}

func (s *PendingJobRecovery) DoCleanup(tx storage.Store) (int, error) {
	jobs, err := tx.ListPendingJobs()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, job := range jobs {
		err := s.queue.EnqueueJob(context.Background(), job.ID)
		switch {
		case errors.Is(err, queue.ErrDuplicate):
			// Still queued; nothing was lost.
		case err != nil:
			// Leave the job pending, the next startup pass retries.
			jobLog := log.WithJob(job.ID)
			jobLog.Warn().Err(err).Msg("Failed to re-enqueue pending job")
		default:
			jobLog := log.WithJob(job.ID)
			jobLog.Info().Msg("Re-enqueued pending job")
			count++
		}
	}
	return count, nil
}

// StuckJobCleanup promotes jobs that have been running far beyond any
// plausible runtime to failed, releasing whatever allocation remains.
type StuckJobCleanup struct {
	BaseStrategy
	maxAge       time.Duration
	resources    *resource.Manager
	releasedCPUs int
}

func NewStuckJobCleanup(maxAge time.Duration, resources *resource.Manager) *StuckJobCleanup {
	return &StuckJobCleanup{
		BaseStrategy: BaseStrategy{
			name:        "stuck_job_cleanup",
			description: fmt.Sprintf("fails jobs running longer than %s", maxAge),
			interval:    3600 * time.Second,
			priority:    3,
			tags:        []string{"maintenance"},
			enabled:     true,
		},
		maxAge:    maxAge,
		resources: resources,
	}
}

func (s *StuckJobCleanup) DoCleanup(tx storage.Store) (int, error) {
	s.releasedCPUs = 0

	jobs, err := tx.FindRunningJobsOlderThan(s.maxAge)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	count := 0
	for _, job := range jobs {
		released, prior, err := tx.Release(job.ID)
		if err != nil {
			return 0, err
		}
		if released != nil && prior == types.AllocationAllocated {
			s.releasedCPUs += released.AllocatedCPUs
		}
		err = tx.MarkJobTerminal(job.ID, types.JobStateFailed, types.ExitStuck,
			fmt.Sprintf("running longer than %s, marked failed by cleanup", s.maxAge), now)
		if err != nil {
			return 0, err
		}
		jobLog := log.WithJob(job.ID)
		jobLog.Warn().Str("job", job.Name).Msg("Failed stuck job")
		count++
	}
	return count, nil
}

func (s *StuckJobCleanup) AfterExecute(result Result) {
	if s.releasedCPUs > 0 {
		s.resources.OnReleaseFromAllocated(context.Background(), s.releasedCPUs)
	}
}

// OldJobCleanup purges terminal jobs past the retention window. Off by
// default; deployments that need the history keep it that way.
type OldJobCleanup struct {
	BaseStrategy
	retention time.Duration
}

func NewOldJobCleanup(retention time.Duration) *OldJobCleanup {
	return &OldJobCleanup{
		BaseStrategy: BaseStrategy{
			name:        "old_job_cleanup",
			description: fmt.Sprintf("deletes terminal jobs older than %s", retention),
			interval:    86400 * time.Second,
			priority:    4,
			tags:        []string{"maintenance", "optional"},
			enabled:     false,
		},
		retention: retention,
	}
}

func (s *OldJobCleanup) DoCleanup(tx storage.Store) (int, error) {
	deleted, err := tx.DeleteOldJobs(s.retention)
	if err != nil {
		return 0, err
	}
	return int(deleted), nil
}

// RegisterDefaults builds the standard strategy set from config and
// registers it with the manager. Enable flags in the config override
// each strategy's default.
func RegisterDefaults(m *Manager, cfg config.CleanupConfig, q queue.Queue, resources *resource.Manager) {
	strategies := []Strategy{
		NewCompletedJobCleanup(resources),
		NewStaleReservationCleanup(cfg.StaleReservationMaxAge(), resources),
		NewPendingJobRecovery(q),
		NewStuckJobCleanup(cfg.StuckJobMaxAge(), resources),
		NewOldJobCleanup(cfg.OldJobRetention()),
	}
	for _, s := range strategies {
		if enabled, ok := cfg.StrategiesEnabled[s.Name()]; ok {
			s.SetEnabled(enabled)
		}
		m.Register(s)
	}
}
