package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-io/drover/pkg/types"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func submitJob(t *testing.T, store *GormStore, name string, cpus int) *types.Job {
	t.Helper()
	job := &types.Job{
		Name:          name,
		Account:       "research",
		NTasksPerNode: 1,
		CPUsPerTask:   cpus,
		Script:        "#!/bin/bash\necho hello\n",
	}
	require.NoError(t, store.CreateJob(job))
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)

	job := submitJob(t, store, "hello", 2)
	assert.NotZero(t, job.ID)
	assert.Equal(t, types.JobStatePending, job.State)
	assert.False(t, job.SubmitTime.IsZero())

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", loaded.Name)
	assert.Equal(t, "research", loaded.Account)
	assert.Equal(t, 2, loaded.CPUsPerTask)

	_, err = store.GetJob(99999)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListPendingJobsFIFO(t *testing.T) {
	store := newTestStore(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	third := &types.Job{Name: "third", SubmitTime: base.Add(2 * time.Minute)}
	first := &types.Job{Name: "first", SubmitTime: base}
	second := &types.Job{Name: "second", SubmitTime: base.Add(time.Minute)}
	require.NoError(t, store.CreateJob(third))
	require.NoError(t, store.CreateJob(first))
	require.NoError(t, store.CreateJob(second))

	// A tie on submit time breaks by id, i.e. insertion order.
	tieA := &types.Job{Name: "tie-a", SubmitTime: base.Add(3 * time.Minute)}
	tieB := &types.Job{Name: "tie-b", SubmitTime: base.Add(3 * time.Minute)}
	require.NoError(t, store.CreateJob(tieA))
	require.NoError(t, store.CreateJob(tieB))

	pending, err := store.ListPendingJobs()
	require.NoError(t, err)
	require.Len(t, pending, 5)
	assert.Equal(t, "first", pending[0].Name)
	assert.Equal(t, "second", pending[1].Name)
	assert.Equal(t, "third", pending[2].Name)
	assert.Equal(t, "tie-a", pending[3].Name)
	assert.Equal(t, "tie-b", pending[4].Name)

	// Admitted jobs leave the pending list.
	_, err = store.AdmitJob(first.ID, 1, "node-1")
	require.NoError(t, err)
	pending, err = store.ListPendingJobs()
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}

func TestListJobsFilters(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		submitJob(t, store, "research-job", 1)
	}
	other := &types.Job{Name: "other", Account: "ops"}
	require.NoError(t, store.CreateJob(other))
	require.NoError(t, store.MarkJobTerminal(other.ID, types.JobStateCompleted, "0:0", "", time.Now().UTC()))

	byAccount, err := store.ListJobs(JobFilter{Account: "research"})
	require.NoError(t, err)
	assert.Len(t, byAccount, 3)

	byState, err := store.ListJobs(JobFilter{State: types.JobStateCompleted})
	require.NoError(t, err)
	require.Len(t, byState, 1)
	assert.Equal(t, "other", byState[0].Name)

	limited, err := store.ListJobs(JobFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMarkJobTerminal(t *testing.T) {
	store := newTestStore(t)
	job := submitJob(t, store, "doomed", 1)

	end := time.Now().UTC()
	require.NoError(t, store.MarkJobTerminal(job.ID, types.JobStateFailed, "1:0", "script exited 1", end))

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, loaded.State)
	assert.Equal(t, "1:0", loaded.ExitCode)
	assert.Equal(t, "script exited 1", loaded.ErrorMsg)
	require.NotNil(t, loaded.EndTime)

	// The first terminal writer wins; a later completed write is a no-op.
	require.NoError(t, store.MarkJobTerminal(job.ID, types.JobStateCompleted, "0:0", "", time.Now().UTC()))
	loaded, err = store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, loaded.State)
	assert.Equal(t, "1:0", loaded.ExitCode)

	err = store.MarkJobTerminal(job.ID, types.JobStateRunning, "", "", end)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = store.MarkJobTerminal(99999, types.JobStateFailed, "1:0", "", end)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestAdmitJob(t *testing.T) {
	store := newTestStore(t)
	job := submitJob(t, store, "admitted", 4)

	alloc, err := store.AdmitJob(job.ID, 4, "node-1")
	require.NoError(t, err)
	assert.Equal(t, types.AllocationReserved, alloc.Status)
	assert.Equal(t, 4, alloc.AllocatedCPUs)
	assert.Equal(t, "node-1", alloc.NodeName)

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateRunning, loaded.State)
	assert.Equal(t, "node-1", loaded.NodeList)
	assert.Equal(t, 4, loaded.AllocatedCPUs)
	require.NotNil(t, loaded.StartTime)

	// Admission is once per job: the unique allocation row rejects a second.
	_, err = store.AdmitJob(job.ID, 4, "node-1")
	assert.ErrorIs(t, err, ErrDuplicateAllocation)
}

func TestAdmitJobRollsBackWhenNotPending(t *testing.T) {
	store := newTestStore(t)
	job := submitJob(t, store, "finished-early", 1)
	require.NoError(t, store.MarkJobTerminal(job.ID, types.JobStateCancelled, types.ExitCancelled, "cancelled", time.Now().UTC()))

	_, err := store.AdmitJob(job.ID, 1, "node-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The reservation insert must not survive the rollback.
	_, err = store.GetAllocation(job.ID)
	assert.ErrorIs(t, err, ErrAllocationNotFound)
}

func TestAllocationLifecycle(t *testing.T) {
	store := newTestStore(t)
	job := submitJob(t, store, "lifecycle", 2)

	_, err := store.CreateReserved(job.ID, 2, "node-1")
	require.NoError(t, err)

	_, err = store.CreateReserved(job.ID, 2, "node-1")
	assert.ErrorIs(t, err, ErrDuplicateAllocation)

	alloc, prior, err := store.TransitionToAllocated(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationReserved, prior)
	assert.Equal(t, types.AllocationAllocated, alloc.Status)

	// A redelivered work item transitions again; prior status tells the
	// caller not to count the cpus twice.
	alloc, prior, err = store.TransitionToAllocated(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationAllocated, prior)
	assert.Equal(t, types.AllocationAllocated, alloc.Status)

	released, prior, err := store.Release(job.ID)
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.Equal(t, types.AllocationAllocated, prior)
	assert.Equal(t, types.AllocationReleased, released.Status)
	require.NotNil(t, released.ReleasedTime)

	// Releasing again is a no-op returning nil.
	released, prior, err = store.Release(job.ID)
	require.NoError(t, err)
	assert.Nil(t, released)
	assert.Empty(t, prior)

	// A released allocation never comes back.
	_, _, err = store.TransitionToAllocated(job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReleaseReservedNeverCounted(t *testing.T) {
	store := newTestStore(t)
	job := submitJob(t, store, "reserved-only", 3)

	_, err := store.CreateReserved(job.ID, 3, "node-1")
	require.NoError(t, err)

	released, prior, err := store.Release(job.ID)
	require.NoError(t, err)
	require.NotNil(t, released)
	assert.Equal(t, types.AllocationReserved, prior)
}

func TestReleaseMissingAllocation(t *testing.T) {
	store := newTestStore(t)

	released, prior, err := store.Release(12345)
	require.NoError(t, err)
	assert.Nil(t, released)
	assert.Empty(t, prior)
}

func TestTransitionToAllocatedMissing(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.TransitionToAllocated(12345)
	assert.ErrorIs(t, err, ErrAllocationNotFound)
}

func TestRecordPID(t *testing.T) {
	store := newTestStore(t)
	job := submitJob(t, store, "with-pid", 1)

	_, err := store.CreateReserved(job.ID, 1, "node-1")
	require.NoError(t, err)
	require.NoError(t, store.RecordPID(job.ID, 4242))

	alloc, err := store.GetAllocation(job.ID)
	require.NoError(t, err)
	require.NotNil(t, alloc.ProcessID)
	assert.Equal(t, 4242, *alloc.ProcessID)

	// The pid belongs to the active row only.
	_, _, err = store.Release(job.ID)
	require.NoError(t, err)
	err = store.RecordPID(job.ID, 4343)
	assert.ErrorIs(t, err, ErrAllocationNotFound)
}

func TestSumAllocatedCPUs(t *testing.T) {
	store := newTestStore(t)

	reserved := submitJob(t, store, "reserved", 2)
	_, err := store.CreateReserved(reserved.ID, 2, "node-1")
	require.NoError(t, err)

	allocatedA := submitJob(t, store, "allocated-a", 4)
	_, err = store.CreateReserved(allocatedA.ID, 4, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(allocatedA.ID)
	require.NoError(t, err)

	allocatedB := submitJob(t, store, "allocated-b", 3)
	_, err = store.CreateReserved(allocatedB.ID, 3, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(allocatedB.ID)
	require.NoError(t, err)

	finished := submitJob(t, store, "finished", 8)
	_, err = store.CreateReserved(finished.ID, 8, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(finished.ID)
	require.NoError(t, err)
	_, _, err = store.Release(finished.ID)
	require.NoError(t, err)

	// Only rows in allocated status count: 4 + 3.
	total, err := store.SumAllocatedCPUs()
	require.NoError(t, err)
	assert.Equal(t, 7, total)
}

func TestFindCompletedJobsWithLiveAllocations(t *testing.T) {
	store := newTestStore(t)

	// A finished job whose worker died before releasing.
	leaked := submitJob(t, store, "leaked", 2)
	_, err := store.AdmitJob(leaked.ID, 2, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(leaked.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkJobTerminal(leaked.ID, types.JobStateCompleted, "0:0", "", time.Now().UTC()))

	// A healthy running job must not show up.
	running := submitJob(t, store, "running", 2)
	_, err = store.AdmitJob(running.ID, 2, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(running.ID)
	require.NoError(t, err)

	// A cleanly finished job must not show up either.
	clean := submitJob(t, store, "clean", 2)
	_, err = store.AdmitJob(clean.ID, 2, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(clean.ID)
	require.NoError(t, err)
	_, _, err = store.Release(clean.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkJobTerminal(clean.ID, types.JobStateCompleted, "0:0", "", time.Now().UTC()))

	rows, err := store.FindCompletedJobsWithLiveAllocations()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, leaked.ID, rows[0].JobID)
}

func TestFindStaleReservations(t *testing.T) {
	store := newTestStore(t)

	// Admitted but the queue item was lost; the reservation has aged out.
	stale := submitJob(t, store, "stale", 2)
	_, err := store.AdmitJob(stale.ID, 2, "node-1")
	require.NoError(t, err)
	backdate := time.Now().UTC().Add(-30 * time.Minute)
	require.NoError(t, store.db.Model(&types.ResourceAllocation{}).
		Where("job_id = ?", stale.ID).
		Update("allocation_time", backdate).Error)

	// A fresh reservation is left alone.
	fresh := submitJob(t, store, "fresh", 2)
	_, err = store.AdmitJob(fresh.ID, 2, "node-1")
	require.NoError(t, err)

	// An old but already-allocated row is the worker's business, not ours.
	working := submitJob(t, store, "working", 2)
	_, err = store.AdmitJob(working.ID, 2, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(working.ID)
	require.NoError(t, err)
	require.NoError(t, store.db.Model(&types.ResourceAllocation{}).
		Where("job_id = ?", working.ID).
		Update("allocation_time", backdate).Error)

	rows, err := store.FindStaleReservations(10 * time.Minute)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale.ID, rows[0].JobID)
}

func TestFindRunningAllocationsWithPID(t *testing.T) {
	store := newTestStore(t)

	withPID := submitJob(t, store, "with-pid", 1)
	_, err := store.AdmitJob(withPID.ID, 1, "node-1")
	require.NoError(t, err)
	_, _, err = store.TransitionToAllocated(withPID.ID)
	require.NoError(t, err)
	require.NoError(t, store.RecordPID(withPID.ID, 777))

	// Reserved with no pid yet: nothing to probe.
	noPID := submitJob(t, store, "no-pid", 1)
	_, err = store.AdmitJob(noPID.ID, 1, "node-1")
	require.NoError(t, err)

	rows, err := store.FindRunningAllocationsWithPID()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, withPID.ID, rows[0].JobID)
	require.NotNil(t, rows[0].ProcessID)
	assert.Equal(t, 777, *rows[0].ProcessID)
}

func TestFindRunningJobsOlderThan(t *testing.T) {
	store := newTestStore(t)

	old := submitJob(t, store, "old", 1)
	_, err := store.AdmitJob(old.ID, 1, "node-1")
	require.NoError(t, err)
	backdate := time.Now().UTC().Add(-72 * time.Hour)
	require.NoError(t, store.db.Model(&types.Job{}).
		Where("id = ?", old.ID).
		Update("start_time", backdate).Error)

	recent := submitJob(t, store, "recent", 1)
	_, err = store.AdmitJob(recent.ID, 1, "node-1")
	require.NoError(t, err)

	jobs, err := store.FindRunningJobsOlderThan(48 * time.Hour)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, old.ID, jobs[0].ID)
}

func TestDeleteOldJobs(t *testing.T) {
	store := newTestStore(t)

	ancient := submitJob(t, store, "ancient", 1)
	require.NoError(t, store.MarkJobTerminal(ancient.ID, types.JobStateCompleted, "0:0", "", time.Now().UTC()))
	backdate := time.Now().UTC().Add(-60 * 24 * time.Hour)
	require.NoError(t, store.db.Model(&types.Job{}).
		Where("id = ?", ancient.ID).
		Update("end_time", backdate).Error)

	recent := submitJob(t, store, "recent", 1)
	require.NoError(t, store.MarkJobTerminal(recent.ID, types.JobStateCompleted, "0:0", "", time.Now().UTC()))

	stillRunning := submitJob(t, store, "still-running", 1)
	_, err := store.AdmitJob(stillRunning.ID, 1, "node-1")
	require.NoError(t, err)

	deleted, err := store.DeleteOldJobs(30 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetJob(ancient.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = store.GetJob(recent.ID)
	assert.NoError(t, err)
	_, err = store.GetJob(stillRunning.ID)
	assert.NoError(t, err)
}

func TestCountJobsByState(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		submitJob(t, store, "pending", 1)
	}
	running := submitJob(t, store, "running", 1)
	_, err := store.AdmitJob(running.ID, 1, "node-1")
	require.NoError(t, err)
	failed := submitJob(t, store, "failed", 1)
	require.NoError(t, store.MarkJobTerminal(failed.ID, types.JobStateFailed, "1:0", "boom", time.Now().UTC()))

	counts, err := store.CountJobsByState()
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[types.JobStatePending])
	assert.Equal(t, int64(1), counts[types.JobStateRunning])
	assert.Equal(t, int64(1), counts[types.JobStateFailed])
	assert.Zero(t, counts[types.JobStateCompleted])
}

func TestUpsertSystemResource(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.UpsertSystemResource(&types.SystemResource{
		NodeName:  "node-1",
		TotalCPUs: 16,
		Partition: "normal",
		Available: true,
	}))

	// Second upsert for the same node updates in place.
	require.NoError(t, store.UpsertSystemResource(&types.SystemResource{
		NodeName:  "node-1",
		TotalCPUs: 32,
		Partition: "normal",
		Available: true,
	}))
	require.NoError(t, store.UpsertSystemResource(&types.SystemResource{
		NodeName:  "node-2",
		TotalCPUs: 8,
		Partition: "debug",
		Available: false,
	}))

	resources, err := store.ListSystemResources()
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "node-1", resources[0].NodeName)
	assert.Equal(t, 32, resources[0].TotalCPUs)
	assert.Equal(t, "node-2", resources[1].NodeName)
	assert.False(t, resources[1].Available)
}

func TestTransactionCommitsAsUnit(t *testing.T) {
	store := newTestStore(t)
	job := submitJob(t, store, "atomic", 2)
	_, err := store.AdmitJob(job.ID, 2, "node-1")
	require.NoError(t, err)

	var prior types.AllocationStatus
	err = store.Transaction(func(tx Store) error {
		_, p, err := tx.Release(job.ID)
		if err != nil {
			return err
		}
		prior = p
		return tx.MarkJobTerminal(job.ID, types.JobStateFailed,
			types.ExitStaleReservation, "reservation never executed", time.Now().UTC())
	})
	require.NoError(t, err)
	assert.Equal(t, types.AllocationReserved, prior)

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, loaded.State)
	alloc, err := store.GetAllocation(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationReleased, alloc.Status)
}

func TestTransactionRollsBackAsUnit(t *testing.T) {
	store := newTestStore(t)
	job := submitJob(t, store, "rollback", 2)
	_, err := store.AdmitJob(job.ID, 2, "node-1")
	require.NoError(t, err)

	boom := errors.New("strategy failed")
	err = store.Transaction(func(tx Store) error {
		if _, _, err := tx.Release(job.ID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The release inside the failed transaction must not be visible.
	alloc, err := store.GetAllocation(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationReserved, alloc.Status)
}

func TestEnvironmentRoundTrip(t *testing.T) {
	store := newTestStore(t)

	job := &types.Job{
		Name: "env-job",
		Environment: types.EnvMap{
			"OMP_NUM_THREADS": "4",
			"MY_FLAG":         "on",
		},
	}
	require.NoError(t, store.CreateJob(job))

	loaded, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "4", loaded.Environment["OMP_NUM_THREADS"])
	assert.Equal(t, "on", loaded.Environment["MY_FLAG"])
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"job not found", ErrJobNotFound, false},
		{"invalid transition", ErrInvalidTransition, false},
		{"duplicate allocation", ErrDuplicateAllocation, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"deadlock", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), true},
		{"syntax error", errors.New("ERROR: syntax error at or near"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, isTransient(tt.err))
		})
	}
}
