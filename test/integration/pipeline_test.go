// Package integration exercises the whole pipeline through the public
// surfaces: jobs go in through the REST client, the scheduler admits
// them, a worker runs real bash processes, and the results come back
// out through the client. Postgres is stood in for by SQLite and Redis
// by miniredis; everything else is the production wiring.
package integration

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-io/drover/pkg/api"
	"github.com/drover-io/drover/pkg/client"
	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/queue"
	"github.com/drover-io/drover/pkg/recovery"
	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/scheduler"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/supervisor"
	"github.com/drover-io/drover/pkg/types"
	"github.com/drover-io/drover/pkg/worker"
)

const counterKey = "resource:allocated_cpus"

type env struct {
	store     *storage.GormStore
	mr        *miniredis.Miniredis
	registry  *registry.Registry
	resources *resource.Manager
	queue     *queue.MemoryQueue
	broker    *events.Broker
	scheduler *scheduler.Scheduler
	worker    *worker.Worker
	client    *client.Client
	workDir   string

	// queued ids already handed to runQueued
	drained int
}

// newEnv stands up the full stack with one live worker advertising
// totalCPUs. The worker consumes via direct Execute calls instead of a
// queue server; the MemoryQueue records what the scheduler enqueued.
func newEnv(t *testing.T, totalCPUs int) *env {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := registry.New(rdb, time.Minute)
	require.NoError(t, reg.Register(context.Background(), &types.WorkerPresence{
		WorkerID: "worker-1",
		CPUs:     totalCPUs,
		Hostname: "node-1",
	}))

	resources := resource.NewManager(store, reg, resource.NewCache(rdb))
	require.NoError(t, resources.InitCache(context.Background()))

	q := queue.NewMemoryQueue()

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	workDir := t.TempDir()
	w := worker.New(worker.Config{
		ID:                "worker-1",
		Hostname:          "node-1",
		CPUs:              totalCPUs,
		Concurrency:       2,
		QueueName:         "drover",
		HeartbeatInterval: time.Second,
	},
		store, reg, resources,
		supervisor.New(filepath.Join(workDir, "scripts")),
		broker,
		recovery.New(store, q, resources, 72*time.Hour),
		asynq.RedisClientOpt{Addr: mr.Addr()},
	)

	srv := api.NewServer(store, reg, resources, broker)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &env{
		store:     store,
		mr:        mr,
		registry:  reg,
		resources: resources,
		queue:     q,
		broker:    broker,
		scheduler: scheduler.New(store, q, resources, broker, "node-1"),
		worker:    w,
		client:    client.New(ts.URL),
		workDir:   workDir,
	}
}

// runQueued executes every job the scheduler enqueued since the last
// call, the way the queue consumer would deliver them.
func (e *env) runQueued(t *testing.T) {
	t.Helper()
	ids := e.queue.Queued()
	for _, id := range ids[e.drained:] {
		require.NoError(t, e.worker.Execute(context.Background(), id))
	}
	e.drained = len(ids)
}

func (e *env) counter(t *testing.T) string {
	t.Helper()
	v, err := e.mr.Get(counterKey)
	require.NoError(t, err)
	return v
}

func TestJobPipelineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	env := newEnv(t, 8)
	ctx := context.Background()

	resp, err := env.client.SubmitJob(ctx, &api.SubmitRequest{
		Name:        "roundup",
		Account:     "research",
		Script:      "#!/bin/bash\necho the cattle are through\n",
		WorkDir:     env.workDir,
		StdoutPath:  "out.log",
		CPUsPerTask: 2,
	})
	require.NoError(t, err)
	require.Equal(t, types.JobStatePending, resp.State)
	jobID := resp.JobID

	pending, err := env.client.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "0-00:00:00", pending.Time.Elapsed)
	assert.Nil(t, pending.Allocation)

	admitted, err := env.scheduler.Schedule(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, admitted)

	running, err := env.client.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateRunning, running.State)
	require.NotNil(t, running.Allocation)
	assert.Equal(t, types.AllocationReserved, running.Allocation.Status)
	assert.Equal(t, 2, running.Allocation.AllocatedCPUs)
	assert.Equal(t, "node-1", running.NodeList)

	env.runQueued(t)
	t.Logf("✓ job %d executed", jobID)

	done, err := env.client.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCompleted, done.State)
	assert.Equal(t, "0:0", done.ExitCode)
	require.NotNil(t, done.Logs)
	assert.Contains(t, done.Logs.Stdout, "the cattle are through")
	require.NotNil(t, done.Allocation)
	assert.Equal(t, types.AllocationReleased, done.Allocation.Status)
	assert.NotNil(t, done.Allocation.ReleasedTime)

	assert.Equal(t, "0", env.counter(t), "released cpus must return to the pool")

	dash, err := env.client.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dash.Jobs.Total)
	assert.Equal(t, int64(1), dash.Jobs.Completed)
	assert.Equal(t, 8, dash.Resources.TotalCPUs)
	assert.Equal(t, 0, dash.Resources.AllocatedCPUs)

	// Broker fan-out is asynchronous; the full lifecycle trail appears
	// shortly after the last transition.
	require.Eventually(t, func() bool {
		evs, err := env.client.Events(ctx)
		if err != nil {
			return false
		}
		seen := map[events.EventType]bool{}
		for _, ev := range evs.Events {
			seen[ev.Type] = true
		}
		return seen[events.EventJobSubmitted] && seen[events.EventJobAdmitted] &&
			seen[events.EventJobStarted] && seen[events.EventJobCompleted]
	}, 5*time.Second, 50*time.Millisecond)
}

func TestCancelReturnsCapacityToPool(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	env := newEnv(t, 4)
	ctx := context.Background()

	hog, err := env.client.SubmitJob(ctx, &api.SubmitRequest{
		Name:        "hog",
		Account:     "research",
		Script:      "#!/bin/bash\nsleep 60\n",
		WorkDir:     env.workDir,
		CPUsPerTask: 3,
	})
	require.NoError(t, err)

	follower, err := env.client.SubmitJob(ctx, &api.SubmitRequest{
		Name:        "follower",
		Account:     "research",
		Script:      "#!/bin/bash\ntrue\n",
		WorkDir:     env.workDir,
		CPUsPerTask: 3,
	})
	require.NoError(t, err)

	admitted, err := env.scheduler.Schedule(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, admitted, "only the first 3-cpu job fits in 4 cpus")

	errCh := make(chan error, 1)
	go func() { errCh <- env.worker.Execute(context.Background(), hog.JobID) }()

	// Wait for the worker to take the allocation; only then is the
	// capacity charge visible to the next pass.
	require.Eventually(t, func() bool {
		job, err := env.client.GetJob(ctx, hog.JobID)
		if err != nil || job.Allocation == nil {
			return false
		}
		return job.Allocation.Status == types.AllocationAllocated && job.Allocation.ProcessID != nil
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, "3", env.counter(t))

	admitted, err = env.scheduler.Schedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, admitted, "follower must wait while the hog holds 3 of 4 cpus")

	cancelled, err := env.client.CancelJob(ctx, hog.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCancelled, cancelled.State)
	assert.Equal(t, "0", env.counter(t), "cancel returns the cpus synchronously")

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not observe the cancellation")
	}

	hogView, err := env.client.GetJob(ctx, hog.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCancelled, hogView.State)
	assert.Equal(t, types.ExitCancelled, hogView.ExitCode)
	t.Logf("✓ job %d cancelled and reclaimed", hog.JobID)

	admitted, err = env.scheduler.Schedule(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, admitted, "freed capacity admits the follower")

	env.drained = 1 // skip the hog's item, it was executed directly above
	env.runQueued(t)

	followerView, err := env.client.GetJob(ctx, follower.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCompleted, followerView.State)
	assert.Equal(t, "0", env.counter(t))
}

func TestSubmitValidationThroughStack(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	env := newEnv(t, 4)

	_, err := env.client.SubmitJob(context.Background(), &api.SubmitRequest{
		Name:   "incomplete",
		Script: "#!/bin/bash\ntrue\n",
	})
	require.Error(t, err)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "account")
}
