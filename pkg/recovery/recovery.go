package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/storage"
)

// Result aggregates one startup reconciliation. Total counts every job
// and allocation a step examined; Recovered the ones it repaired.
type Result struct {
	Recovered int
	Skipped   int
	Total     int
	Duration  time.Duration
	Err       error
}

// SuccessRate is the share of examined items that were repaired. An
// empty run counts as fully successful.
func (r Result) SuccessRate() float64 {
	if r.Total == 0 {
		return 100.0
	}
	return float64(r.Recovered) / float64(r.Total) * 100.0
}

// String renders the one-line summary logged after every startup
func (r Result) String() string {
	return fmt.Sprintf("Recovery: %d/%d jobs recovered (%.1f%% success) in %.2fs",
		r.Recovered, r.Total, r.SuccessRate(), r.Duration.Seconds())
}

// Step is one startup reconciliation pass. Steps run sequentially and
// report how many items they repaired and how many they examined but
// left alone.
type Step interface {
	Name() string
	Run(ctx context.Context) (recovered, skipped int, err error)
}

// Recovery reconciles divergences left by the previous run's exit,
// clean or crashed. It runs once, at worker startup, before the worker
// starts consuming the queue.
type Recovery struct {
	steps []Step
}

// New assembles the standard step sequence: pending re-enqueue, orphan
// detection, the runtime-bound sweep, then stale allocations. Order
// matters; the orphan probe must fail dead jobs before the timeout
// sweep considers what is left.
func New(store storage.Store, q queue.Queue, resources *resource.Manager, maxRuntime time.Duration) *Recovery {
	return &Recovery{
		steps: []Step{
			&pendingRecovery{store: store, queue: q},
			&orphanRecovery{store: store, resources: resources},
			&timeoutRecovery{store: store, resources: resources, maxRuntime: maxRuntime},
			&staleAllocationRecovery{store: store, resources: resources},
		},
	}
}

// RunOnStartup executes every step and aggregates their outcomes. Step
// failures are collected, never fatal; the worker must come up even
// when part of the repair cannot.
func (r *Recovery) RunOnStartup(ctx context.Context) Result {
	start := time.Now()
	log.Logger.Info().Msg("Running startup recovery")

	var result Result
	var errs *multierror.Error
	for _, step := range r.steps {
		recovered, skipped, err := step.Run(ctx)
		if err != nil {
			log.Logger.Error().Str("step", step.Name()).Err(err).Msg("Recovery step failed")
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", step.Name(), err))
		}
		if recovered > 0 {
			metrics.RecoveryJobsRecovered.WithLabelValues(step.Name()).Add(float64(recovered))
		}
		result.Recovered += recovered
		result.Skipped += skipped

		log.Logger.Debug().
			Str("step", step.Name()).
			Int("recovered", recovered).
			Int("skipped", skipped).
			Msg("Recovery step finished")
	}

	result.Total = result.Recovered + result.Skipped
	result.Duration = time.Since(start)
	result.Err = errs.ErrorOrNil()

	log.Logger.Info().
		Int("recovered", result.Recovered).
		Int("total", result.Total).
		Dur("duration", result.Duration).
		Msg(result.String())

	return result
}
