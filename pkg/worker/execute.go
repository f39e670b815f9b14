package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/supervisor"
	"github.com/drover-io/drover/pkg/types"
)

// handleTask adapts the queue's work item to Execute. Undecodable
// payloads are dropped; retrying cannot fix them.
func (w *Worker) handleTask(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodePayload(task.Payload())
	if err != nil {
		log.WithWorker(w.cfg.ID).Error().Err(err).Msg("Dropping undecodable work item")
		return nil
	}
	return w.Execute(ctx, payload.JobID)
}

// Execute runs one job end to end: load, wait out the admission commit,
// move the allocation to allocated, supervise the process, then release
// and record the terminal state. Job outcomes, including script
// failures, are recorded in the store and return nil; only
// infrastructure failures surface as errors.
func (w *Worker) Execute(ctx context.Context, jobID int64) error {
	job, err := w.store.GetJob(jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			log.WithJob(jobID).Debug().Msg("Dropping work item for unknown job")
			return nil
		}
		return err
	}
	if job.State.IsTerminal() {
		log.WithJob(jobID).Debug().Str("state", string(job.State)).
			Msg("Dropping work item for terminal job")
		return nil
	}

	if job.State == types.JobStatePending {
		job, err = w.waitForRunning(ctx, jobID)
		if err != nil {
			return err
		}
		if job.State.IsTerminal() {
			log.WithJob(jobID).Debug().Str("state", string(job.State)).
				Msg("Job went terminal while waiting for admission")
			return nil
		}
	}

	alloc, prior, err := w.store.TransitionToAllocated(jobID)
	if err != nil {
		if errors.Is(err, storage.ErrAllocationNotFound) || errors.Is(err, storage.ErrInvalidTransition) {
			// A released or missing allocation means cleanup or a
			// cancel got here first; the job is not ours to run.
			log.WithJob(jobID).Warn().Err(err).Msg("Dropping work item without a reserved allocation")
			return nil
		}
		return err
	}
	if prior == types.AllocationReserved {
		w.resources.OnTransitionToAllocated(ctx, alloc.AllocatedCPUs)
	}

	w.runJob(ctx, job)
	return nil
}

// waitForRunning polls until the scheduler's admission commit becomes
// visible. The queue can deliver an item moments before the admitting
// transaction commits, so a pending job here normally resolves within
// a poll or two.
func (w *Worker) waitForRunning(ctx context.Context, jobID int64) (*types.Job, error) {
	deadline := time.Now().Add(w.pendingWait)
	ticker := time.NewTicker(w.pendingPoll)
	defer ticker.Stop()

	for {
		job, err := w.store.GetJob(jobID)
		if err != nil {
			return nil, err
		}
		if job.State != types.JobStatePending {
			return job, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("job %d still pending after %s", jobID, w.pendingWait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runJob supervises the job's process. finish runs from a defer so the
// allocation is released and the job finalized even if the supervisor
// panics.
func (w *Worker) runJob(ctx context.Context, job *types.Job) {
	w.markBusy(ctx)
	defer w.markReady(ctx)

	start := time.Now()
	var res supervisor.Result
	var runErr error
	defer func() {
		w.finish(job, res, runErr, time.Since(start))
	}()

	log.WithJob(job.ID).Info().
		Str("name", job.Name).
		Str("worker", w.cfg.ID).
		Int("cpus", job.TotalCPUsRequired()).
		Msg("Job execution starting")
	w.broker.Publish(events.JobEvent(events.EventJobStarted, job.ID,
		"job %d started on %s", job.ID, w.cfg.ID))

	res, runErr = w.supervisor.Run(job, func(pid int) error {
		return w.store.RecordPID(job.ID, pid)
	})
}

// finish releases the allocation and writes the terminal job state, in
// that order. Releasing after the terminal write would let the
// completed-job cleanup observe a terminal job with a live allocation
// and release it a second time.
//
// It runs on a fresh context: a shutdown-cancelled handler context must
// not stop the release from landing.
func (w *Worker) finish(job *types.Job, res supervisor.Result, runErr error, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	released, prior, err := w.store.Release(job.ID)
	if err != nil {
		log.WithJob(job.ID).Error().Err(err).
			Msg("Failed to release allocation, cleanup will repair it")
	} else if released != nil && prior == types.AllocationAllocated {
		w.resources.OnReleaseFromAllocated(ctx, released.AllocatedCPUs)
	}

	state := types.JobStateCompleted
	exitCode := res.String()
	errorMsg := ""
	switch {
	case runErr != nil:
		state = types.JobStateFailed
		errorMsg = runErr.Error()
	case res.TimedOut:
		state = types.JobStateFailed
		errorMsg = fmt.Sprintf("job exceeded its declared time limit of %d minutes", job.TimeLimitMinutes)
	case !res.Success():
		state = types.JobStateFailed
		errorMsg = fmt.Sprintf("script exited with %s", exitCode)
	}

	if err := w.store.MarkJobTerminal(job.ID, state, exitCode, errorMsg, time.Now().UTC()); err != nil {
		log.WithJob(job.ID).Error().Err(err).Msg("Failed to record terminal job state")
		return
	}

	metrics.JobRunDuration.Observe(elapsed.Seconds())

	// The terminal write is first-writer-wins; reload to learn whether
	// ours landed. A concurrent cancel keeps the job cancelled and owns
	// its own event.
	final, err := w.store.GetJob(job.ID)
	if err == nil && final.State != state {
		log.WithJob(job.ID).Info().
			Str("state", string(final.State)).
			Str("exit", exitCode).
			Msg("Job was finalized concurrently, keeping its state")
		return
	}

	metrics.JobsFinished.WithLabelValues(string(state)).Inc()

	if state == types.JobStateCompleted {
		log.WithJob(job.ID).Info().
			Str("exit", exitCode).
			Dur("elapsed", elapsed).
			Msg("Job completed")
		w.broker.Publish(events.JobEvent(events.EventJobCompleted, job.ID,
			"job %d completed in %s", job.ID, elapsed.Round(time.Second)))
		return
	}

	log.WithJob(job.ID).Warn().
		Str("exit", exitCode).
		Str("error", errorMsg).
		Dur("elapsed", elapsed).
		Msg("Job failed")
	w.broker.Publish(events.JobEvent(events.EventJobFailed, job.ID,
		"job %d failed with exit %s", job.ID, exitCode))
}
