package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/types"
)

// Scheduler converts admissible pending jobs into reservations and
// queue entries. One pass walks the pending list in submit order and
// admits every job that fits the capacity left, first-fit past jobs
// that do not.
type Scheduler struct {
	store     storage.Store
	queue     queue.Queue
	resources *resource.Manager
	broker    *events.Broker
	nodeName  string
}

// New creates a scheduler admitting jobs onto the named node
func New(store storage.Store, q queue.Queue, resources *resource.Manager, broker *events.Broker, nodeName string) *Scheduler {
	return &Scheduler{
		store:     store,
		queue:     q,
		resources: resources,
		broker:    broker,
		nodeName:  nodeName,
	}
}

// Schedule performs one admission pass and returns the number of jobs
// admitted. Capacity is tracked in a local counter for the duration of
// the pass; the cached allocated counter is only touched by workers.
func (s *Scheduler) Schedule(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(metrics.SchedulerTickDuration)
	defer timer.ObserveDuration()

	total := s.resources.TotalCPUs(ctx)
	if total == 0 {
		// No live workers. Admitting now would only strand reservations.
		metrics.SchedulerTicksSkipped.Inc()
		log.Logger.Debug().Msg("No live worker capacity, skipping admission pass")
		return 0, nil
	}

	allocated, err := s.resources.AllocatedCPUs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read allocated cpus: %w", err)
	}
	available := total - allocated
	if available < 0 {
		available = 0
	}

	pending, err := s.store.ListPendingJobs()
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	admitted := 0
	for _, job := range pending {
		required := job.TotalCPUsRequired()
		if required > available {
			// First-fit: a job too big for the remaining capacity does
			// not block smaller jobs behind it.
			continue
		}

		ok, err := s.admit(ctx, job, required)
		if err != nil {
			jobLog := log.WithJob(job.ID)
			jobLog.Error().Err(err).Msg("Failed to admit job")
			continue
		}
		if !ok {
			continue
		}

		available -= required
		admitted++
	}

	if admitted > 0 {
		log.Logger.Info().
			Int("admitted", admitted).
			Int("pending", len(pending)).
			Int("available_cpus", available).
			Msg("Admission pass complete")
	}
	return admitted, nil
}

// admit reserves capacity for one job and queues it for execution.
// Returns false without error when the job turns out not to be
// admissible anymore; the pass moves on without charging capacity.
func (s *Scheduler) admit(ctx context.Context, job *types.Job, cpus int) (bool, error) {
	_, err := s.store.AdmitJob(job.ID, cpus, s.nodeName)
	switch {
	case errors.Is(err, storage.ErrDuplicateAllocation):
		// An earlier pass already reserved this job. Its queue item
		// either exists or stale-reservation cleanup will repair it.
		jobLog := log.WithJob(job.ID)
		jobLog.Debug().Msg("Job already reserved, skipping")
		return false, nil
	case errors.Is(err, storage.ErrInvalidTransition):
		// The job left pending between the listing and now, most
		// likely cancelled.
		jobLog := log.WithJob(job.ID)
		jobLog.Debug().Msg("Job no longer pending, skipping")
		return false, nil
	case err != nil:
		return false, err
	}

	// The reservation is durable, enqueue outside the transaction. A
	// failure here leaves a reservation with no queue item, which the
	// stale-reservation strategy eventually releases.
	if err := s.queue.EnqueueJob(ctx, job.ID); err != nil && !errors.Is(err, queue.ErrDuplicate) {
		jobLog := log.WithJob(job.ID)
		jobLog.Warn().Err(err).Msg("Failed to enqueue admitted job, cleanup will repair")
	}

	metrics.JobsAdmitted.Inc()
	s.broker.Publish(events.JobEvent(events.EventJobAdmitted, job.ID,
		"job %d admitted on %s with %d cpus", job.ID, s.nodeName, cpus))
	jobLog := log.WithJob(job.ID)
	jobLog.Info().
		Str("name", job.Name).
		Str("account", job.Account).
		Int("cpus", cpus).
		Str("node", s.nodeName).
		Msg("Job admitted")
	return true, nil
}
