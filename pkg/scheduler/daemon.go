package scheduler

import (
	"context"
	"time"

	"github.com/drover-io/drover/pkg/cleanup"
	"github.com/drover-io/drover/pkg/config"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/types"
)

// statsInterval paces the periodic utilization log line
const statsInterval = 60 * time.Second

// staleAfter is how long a background loop may go without a successful
// pass before the stats line flags it
const staleAfter = 5 * time.Minute

// Daemon owns the periodic loops of the scheduler process: the
// admission tick, the counter resync, the stats line, and the cleanup
// manager. One daemon per deployment; multiple schedulers would race
// each other's reservations.
type Daemon struct {
	scheduler    *Scheduler
	resources    *resource.Manager
	cleanup      *cleanup.Manager
	interval     time.Duration
	syncInterval time.Duration
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewDaemon assembles the scheduler process loops
func NewDaemon(s *Scheduler, resources *resource.Manager, cleanupMgr *cleanup.Manager, cfg config.SchedulerConfig) *Daemon {
	return &Daemon{
		scheduler:    s,
		resources:    resources,
		cleanup:      cleanupMgr,
		interval:     cfg.Interval(),
		syncInterval: cfg.ResourceSyncInterval(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the daemon loops
func (d *Daemon) Start() {
	d.cleanup.Start()
	go d.run()
	log.Logger.Info().
		Dur("interval", d.interval).
		Dur("sync_interval", d.syncInterval).
		Msg("Scheduler daemon started")
}

// Stop halts the loops. A tick in flight finishes before Stop returns.
func (d *Daemon) Stop() {
	close(d.stopCh)
	<-d.doneCh
	d.cleanup.Stop()
	log.Logger.Info().Msg("Scheduler daemon stopped")
}

func (d *Daemon) run() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	syncTicker := time.NewTicker(d.syncInterval)
	defer syncTicker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ticker.C:
			d.tick()
		case <-syncTicker.C:
			d.sync()
		case <-statsTicker.C:
			d.logStats()
		case <-d.stopCh:
			return
		}
	}
}

// tick runs one admission pass. A failed pass ends here; the next tick
// starts clean.
func (d *Daemon) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), d.interval)
	defer cancel()

	if _, err := d.scheduler.Schedule(ctx); err != nil {
		metrics.MarkDown(metrics.ComponentScheduler, err.Error())
		log.Logger.Error().Err(err).Msg("Admission pass failed")
		return
	}
	metrics.Beat(metrics.ComponentScheduler)
}

// sync overwrites the cached counter with the authoritative sum,
// bounding how long worker crashes can skew admission.
func (d *Daemon) sync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.resources.SyncFromStore(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("Allocated-cpus counter resync failed")
	}
}

func (d *Daemon) logStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stats := d.resources.Stats(ctx)
	counts, err := d.scheduler.store.CountJobsByState()
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to count jobs for stats")
		return
	}

	log.Logger.Info().
		Int("total_cpus", stats.TotalCPUs).
		Int("allocated_cpus", stats.AllocatedCPUs).
		Int("available_cpus", stats.AvailableCPUs).
		Float64("utilization", stats.Utilization).
		Int("workers", stats.ActiveWorkers).
		Int64("pending", counts[types.JobStatePending]).
		Int64("running", counts[types.JobStateRunning]).
		Msg("Scheduler stats")

	if stale := metrics.StaleComponents(staleAfter); len(stale) > 0 {
		log.Logger.Warn().Strs("components", stale).Msg("Background loops missing heartbeats")
	}
}
