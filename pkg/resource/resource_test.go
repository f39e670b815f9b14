package resource

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, storage.Store, *registry.Registry, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(client, 60*time.Second)
	mgr := NewManager(store, reg, NewCache(client))
	return mgr, store, reg, mr
}

// allocateJob walks a job through submit, admission, and the worker's
// transition to allocated, returning its id.
func allocateJob(t *testing.T, store storage.Store, cpus int) int64 {
	t.Helper()

	job := &types.Job{Name: "burn", CPUsPerTask: cpus}
	require.NoError(t, store.CreateJob(job))
	_, err := store.AdmitJob(job.ID, cpus, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(job.ID)
	require.NoError(t, err)
	return job.ID
}

func TestCacheMissFallsBackToStore(t *testing.T) {
	mgr, store, _, mr := newTestManager(t)
	ctx := context.Background()

	allocateJob(t, store, 4)

	// Nothing cached yet: the read comes from the store and seeds the cache
	allocated, err := mgr.AllocatedCPUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, allocated)

	cached, err := mr.Get("resource:allocated_cpus")
	require.NoError(t, err)
	assert.Equal(t, "4", cached)
}

func TestCacheHitSkipsStore(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	ctx := context.Background()

	allocateJob(t, store, 4)
	require.NoError(t, mgr.cache.SetAllocatedCPUs(ctx, 7))

	// Between syncs the counter is the answer, even when it has drifted
	allocated, err := mgr.AllocatedCPUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, allocated)
}

func TestDecrementFloorsAtZero(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	ctx := context.Background()

	val, err := mgr.cache.Increment(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, val)

	// A release larger than the counter clamps to zero instead of going
	// negative
	val, err = mgr.cache.Decrement(ctx, 6)
	require.NoError(t, err)
	assert.Zero(t, val)

	allocated, hit, err := mgr.cache.AllocatedCPUs(ctx)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Zero(t, allocated)
}

func TestAllocationAccounting(t *testing.T) {
	mgr, _, _, mr := newTestManager(t)
	ctx := context.Background()

	mgr.OnTransitionToAllocated(ctx, 4)
	mgr.OnTransitionToAllocated(ctx, 2)

	cached, err := mr.Get("resource:allocated_cpus")
	require.NoError(t, err)
	assert.Equal(t, "6", cached)

	mgr.OnReleaseFromAllocated(ctx, 4)

	cached, err = mr.Get("resource:allocated_cpus")
	require.NoError(t, err)
	assert.Equal(t, "2", cached)
}

func TestSyncFromStoreOverwritesDrift(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	ctx := context.Background()

	allocateJob(t, store, 3)
	require.NoError(t, mgr.cache.SetAllocatedCPUs(ctx, 99))

	// The periodic sync restores the store's truth over any drift
	require.NoError(t, mgr.SyncFromStore(ctx))

	allocated, err := mgr.AllocatedCPUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, allocated)
}

func TestAvailableCPUs(t *testing.T) {
	mgr, store, reg, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &types.WorkerPresence{WorkerID: "worker-1", CPUs: 8}))
	allocateJob(t, store, 3)

	available, err := mgr.AvailableCPUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestNoWorkersMeansNoCapacity(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	ctx := context.Background()

	// Allocations without live workers still mean zero admissible capacity
	allocateJob(t, store, 3)

	assert.Zero(t, mgr.TotalCPUs(ctx))

	available, err := mgr.AvailableCPUs(ctx)
	require.NoError(t, err)
	assert.Zero(t, available)
}

func TestOverAllocationFloorsAvailable(t *testing.T) {
	mgr, store, reg, _ := newTestManager(t)
	ctx := context.Background()

	// Workers shrank after admission: allocated exceeds advertised capacity
	require.NoError(t, reg.Register(ctx, &types.WorkerPresence{WorkerID: "worker-1", CPUs: 2}))
	allocateJob(t, store, 4)

	available, err := mgr.AvailableCPUs(ctx)
	require.NoError(t, err)
	assert.Zero(t, available)
}

func TestStats(t *testing.T) {
	mgr, store, reg, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &types.WorkerPresence{WorkerID: "worker-1", CPUs: 8}))
	allocateJob(t, store, 4)

	stats := mgr.Stats(ctx)
	assert.Equal(t, 8, stats.TotalCPUs)
	assert.Equal(t, 4, stats.AllocatedCPUs)
	assert.Equal(t, 4, stats.AvailableCPUs)
	assert.InDelta(t, 50.0, stats.Utilization, 0.01)
	assert.Equal(t, 1, stats.ActiveWorkers)
}

func TestCounterOutageNeverFatal(t *testing.T) {
	mgr, store, _, mr := newTestManager(t)
	ctx := context.Background()

	allocateJob(t, store, 4)
	mr.Close()

	// With the fast store down, reads fall through to the authoritative
	// store and mutations degrade to warnings
	allocated, err := mgr.AllocatedCPUs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, allocated)

	mgr.OnTransitionToAllocated(ctx, 2)
	mgr.OnReleaseFromAllocated(ctx, 2)
}
