package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/supervisor"
	"github.com/drover-io/drover/pkg/types"
)

// pendingRecovery re-enqueues every pending job. The deterministic
// queue id makes this safe to do unconditionally; items that survived
// the restart reject the duplicate.
type pendingRecovery struct {
	store storage.Store
	queue queue.Queue
}

func (s *pendingRecovery) Name() string { return "pending_recovery" }

func (s *pendingRecovery) Run(ctx context.Context) (int, int, error) {
	jobs, err := s.store.ListPendingJobs()
	if err != nil {
		return 0, 0, err
	}

	recovered, skipped := 0, 0
	for _, job := range jobs {
		err := s.queue.EnqueueJob(ctx, job.ID)
		switch {
		case errors.Is(err, queue.ErrDuplicate):
			// The work item survived the restart.
			skipped++
		case err != nil:
			// Leave the job pending; the next startup tries again.
			jobLog := log.WithJob(job.ID)
			jobLog.Warn().Err(err).Msg("Failed to re-enqueue pending job")
			skipped++
		default:
			jobLog := log.WithJob(job.ID)
			jobLog.Info().Msg("Re-enqueued pending job lost from queue")
			recovered++
		}
	}
	return recovered, skipped, nil
}

// orphanRecovery probes the recorded pid of every running job. A pid
// that no longer exists means the previous worker died mid-run without
// releasing; the job is failed and its allocation released together.
type orphanRecovery struct {
	store     storage.Store
	resources *resource.Manager
}

func (s *orphanRecovery) Name() string { return "orphan_recovery" }

func (s *orphanRecovery) Run(ctx context.Context) (int, int, error) {
	allocs, err := s.store.FindRunningAllocationsWithPID()
	if err != nil {
		return 0, 0, err
	}

	recovered, skipped := 0, 0
	releasedCPUs := 0
	for _, alloc := range allocs {
		pid := *alloc.ProcessID
		if supervisor.Alive(pid) {
			skipped++
			continue
		}

		var prior types.AllocationStatus
		err := s.store.Transaction(func(tx storage.Store) error {
			_, p, err := tx.Release(alloc.JobID)
			if err != nil {
				return err
			}
			prior = p
			return tx.MarkJobTerminal(alloc.JobID, types.JobStateFailed, types.ExitOrphaned,
				fmt.Sprintf("worker exited unexpectedly; process %d disappeared without releasing", pid),
				time.Now().UTC())
		})
		if err != nil {
			jobLog := log.WithJob(alloc.JobID)
			jobLog.Error().Err(err).Msg("Failed to reconcile orphaned job")
			skipped++
			continue
		}
		if prior == types.AllocationAllocated {
			releasedCPUs += alloc.AllocatedCPUs
		}

		jobLog := log.WithJob(alloc.JobID)
		jobLog.Warn().
			Int("pid", pid).
			Int("cpus", alloc.AllocatedCPUs).
			Msg("Failed orphaned job whose process is gone")
		recovered++
	}

	if releasedCPUs > 0 {
		s.resources.OnReleaseFromAllocated(ctx, releasedCPUs)
	}
	return recovered, skipped, nil
}

// timeoutRecovery fails running jobs older than the runtime bound.
// Orphans were already handled; whatever is left here is either alive
// past its welcome or pid-less and unaccounted for.
type timeoutRecovery struct {
	store      storage.Store
	resources  *resource.Manager
	maxRuntime time.Duration
}

func (s *timeoutRecovery) Name() string { return "timeout_recovery" }

func (s *timeoutRecovery) Run(ctx context.Context) (int, int, error) {
	jobs, err := s.store.FindRunningJobsOlderThan(s.maxRuntime)
	if err != nil {
		return 0, 0, err
	}

	recovered, skipped := 0, 0
	releasedCPUs := 0
	for _, job := range jobs {
		var prior types.AllocationStatus
		var cpus int
		err := s.store.Transaction(func(tx storage.Store) error {
			alloc, p, err := tx.Release(job.ID)
			if err != nil {
				return err
			}
			prior = p
			if alloc != nil {
				cpus = alloc.AllocatedCPUs
			}
			return tx.MarkJobTerminal(job.ID, types.JobStateFailed, types.ExitTimeout,
				fmt.Sprintf("running longer than the %s maximum runtime", s.maxRuntime),
				time.Now().UTC())
		})
		if err != nil {
			jobLog := log.WithJob(job.ID)
			jobLog.Error().Err(err).Msg("Failed to reconcile timed-out job")
			skipped++
			continue
		}
		if prior == types.AllocationAllocated {
			releasedCPUs += cpus
		}

		jobLog := log.WithJob(job.ID)
		jobLog.Warn().
			Dur("max_runtime", s.maxRuntime).
			Msg("Failed job running past the maximum runtime")
		recovered++
	}

	if releasedCPUs > 0 {
		s.resources.OnReleaseFromAllocated(ctx, releasedCPUs)
	}
	return recovered, skipped, nil
}

// staleAllocationRecovery releases allocations still live under
// terminal jobs. The completed-job strategy does the same on its 5s
// interval; running it here reclaims capacity before the first
// scheduling tick sees this worker.
type staleAllocationRecovery struct {
	store     storage.Store
	resources *resource.Manager
}

func (s *staleAllocationRecovery) Name() string { return "stale_allocation_recovery" }

func (s *staleAllocationRecovery) Run(ctx context.Context) (int, int, error) {
	allocs, err := s.store.FindCompletedJobsWithLiveAllocations()
	if err != nil {
		return 0, 0, err
	}

	recovered, skipped := 0, 0
	releasedCPUs := 0
	for _, alloc := range allocs {
		released, prior, err := s.store.Release(alloc.JobID)
		if err != nil {
			jobLog := log.WithJob(alloc.JobID)
			jobLog.Error().Err(err).Msg("Failed to release stale allocation")
			skipped++
			continue
		}
		if released == nil {
			// A concurrent releaser won; it owns the accounting.
			skipped++
			continue
		}
		if prior == types.AllocationAllocated {
			releasedCPUs += alloc.AllocatedCPUs
		}

		jobLog := log.WithJob(alloc.JobID)
		jobLog.Info().
			Int("cpus", alloc.AllocatedCPUs).
			Msg("Released allocation left live by terminal job")
		recovered++
	}

	if releasedCPUs > 0 {
		s.resources.OnReleaseFromAllocated(ctx, releasedCPUs)
	}
	return recovered, skipped, nil
}
