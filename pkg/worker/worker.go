package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/recovery"
	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/supervisor"
	"github.com/drover-io/drover/pkg/types"
)

// Defaults for the admission-visibility wait in Execute. A queue item
// can be dequeued before the transaction that admitted its job commits;
// the worker polls until the commit becomes visible.
const (
	defaultPendingPoll = 1 * time.Second
	defaultPendingWait = 1 * time.Hour
)

// Config holds worker identity and tuning
type Config struct {
	ID                string // presence-record name, stable across restarts
	Hostname          string
	CPUs              int // capacity this worker advertises
	Concurrency       int // parallel executions within this process
	QueueName         string
	HeartbeatInterval time.Duration
}

// Worker consumes execution work items from the queue, supervises job
// processes and drives the allocation machine from reserved through
// allocated to released. One Worker maps to one presence record; the
// configured concurrency bounds how many jobs it supervises at once.
type Worker struct {
	cfg      Config
	redisOpt asynq.RedisClientOpt

	store      storage.Store
	registry   *registry.Registry
	resources  *resource.Manager
	supervisor *supervisor.Supervisor
	broker     *events.Broker
	recovery   *recovery.Recovery

	server *asynq.Server

	// mu guards presence and active; handler goroutines and the
	// heartbeat loop all touch the presence record.
	mu       sync.Mutex
	presence *types.WorkerPresence
	active   int

	// pendingPoll and pendingWait bound the wait for the scheduler's
	// admission commit to become visible.
	pendingPoll time.Duration
	pendingWait time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a worker. It does not touch the registry or the queue
// until Start.
func New(
	cfg Config,
	store storage.Store,
	reg *registry.Registry,
	resources *resource.Manager,
	sup *supervisor.Supervisor,
	broker *events.Broker,
	recov *recovery.Recovery,
	redisOpt asynq.RedisClientOpt,
) *Worker {
	return &Worker{
		cfg:         cfg,
		redisOpt:    redisOpt,
		store:       store,
		registry:    reg,
		resources:   resources,
		supervisor:  sup,
		broker:      broker,
		recovery:    recov,
		pendingPoll: defaultPendingPoll,
		pendingWait: defaultPendingWait,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start registers the worker, runs startup recovery, starts the
// heartbeat loop and begins consuming the execution queue.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return err
	}

	result := w.recovery.RunOnStartup(ctx)
	w.broker.Publish(events.WorkerEvent(events.EventRecoveryCompleted, w.cfg.ID, result.String()))

	go w.heartbeatLoop()

	w.server = queue.NewServer(w.redisOpt, w.cfg.QueueName, w.cfg.Concurrency)
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeJobExecute, w.handleTask)
	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	workerLog := log.WithWorker(w.cfg.ID)
	workerLog.Info().
		Int("cpus", w.cfg.CPUs).
		Int("concurrency", w.cfg.Concurrency).
		Str("queue", w.cfg.QueueName).
		Msg("Worker started")

	return nil
}

// register writes this worker's presence record. A crashed predecessor
// of the same name leaves a record behind whose TTL has not expired
// yet; it is removed first so RegisteredAt reflects this incarnation.
func (w *Worker) register(ctx context.Context) error {
	exists, err := w.registry.Exists(ctx, w.cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to probe for stale presence: %w", err)
	}
	if exists {
		workerLog := log.WithWorker(w.cfg.ID)
		workerLog.Warn().
			Msg("Replacing presence record left by a previous incarnation")
		if err := w.registry.Unregister(ctx, w.cfg.ID); err != nil {
			return err
		}
	}

	p := &types.WorkerPresence{
		WorkerID: w.cfg.ID,
		CPUs:     w.cfg.CPUs,
		Hostname: w.cfg.Hostname,
	}
	if err := w.registry.Register(ctx, p); err != nil {
		return fmt.Errorf("failed to register worker %s: %w", w.cfg.ID, err)
	}

	w.mu.Lock()
	w.presence = p
	w.mu.Unlock()

	w.broker.Publish(events.WorkerEvent(events.EventWorkerRegistered, w.cfg.ID,
		fmt.Sprintf("worker %s registered with %d cpus", w.cfg.ID, w.cfg.CPUs)))

	return nil
}

// Stop winds the worker down: advertise stopping, drain in-flight
// executions up to the queue consumer's shutdown grace, then drop the
// presence record so the scheduler stops counting this capacity.
// Children that outlive the grace keep running in their own sessions;
// startup recovery reconciles their rows later.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		w.setStatus(ctx, types.WorkerStatusStopping)

		if w.server != nil {
			w.server.Shutdown()
		}

		close(w.stopCh)
		<-w.doneCh

		if err := w.registry.Unregister(ctx, w.cfg.ID); err != nil {
			workerLog := log.WithWorker(w.cfg.ID)
			workerLog.Warn().Err(err).
				Msg("Failed to unregister, presence will expire with its TTL")
		}
		w.broker.Publish(events.WorkerEvent(events.EventWorkerUnregistered, w.cfg.ID,
			fmt.Sprintf("worker %s unregistered", w.cfg.ID)))

		workerLog := log.WithWorker(w.cfg.ID)
		workerLog.Info().Msg("Worker stopped")
	})
}

// heartbeatLoop refreshes the presence record until Stop. A failed
// beat only degrades presence toward its TTL; the next successful one
// heals it, so failures log at warn and the loop keeps going.
func (w *Worker) heartbeatLoop() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.mu.Lock()
			err := w.registry.Heartbeat(ctx, w.presence)
			w.mu.Unlock()
			cancel()
			if err != nil {
				metrics.MarkDown(metrics.ComponentWorker, err.Error())
				workerLog := log.WithWorker(w.cfg.ID)
				workerLog.Warn().Err(err).Msg("Heartbeat failed")
			} else {
				metrics.Beat(metrics.ComponentWorker)
			}
		case <-w.stopCh:
			return
		}
	}
}

// markBusy counts an execution in and flips the advertised status to
// busy on the first one.
func (w *Worker) markBusy(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.active++
	if w.active == 1 && w.presence != nil {
		if err := w.registry.UpdateStatus(ctx, w.presence, types.WorkerStatusBusy); err != nil {
			workerLog := log.WithWorker(w.cfg.ID)
			workerLog.Debug().Err(err).Msg("Failed to advertise busy status")
		}
	}
}

// markReady counts an execution out and flips the status back to ready
// when none remain.
func (w *Worker) markReady(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.active--
	if w.active == 0 && w.presence != nil {
		if err := w.registry.UpdateStatus(ctx, w.presence, types.WorkerStatusReady); err != nil {
			log.WithWorker(w.cfg.ID).Debug().Err(err).Msg("Failed to advertise ready status")
		}
	}
}

func (w *Worker) setStatus(ctx context.Context, status string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.presence == nil {
		return
	}
	if err := w.registry.UpdateStatus(ctx, w.presence, status); err != nil {
		log.WithWorker(w.cfg.ID).Debug().Err(err).Str("status", status).
			Msg("Failed to update worker status")
	}
}
