package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/registry"
	"github.com/drover-io/drover/pkg/resource"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/types"
)

const counterKey = "resource:allocated_cpus"

type testEnv struct {
	store     *storage.GormStore
	mr        *miniredis.Miniredis
	registry  *registry.Registry
	resources *resource.Manager
	broker    *events.Broker
	server    *Server
	workDir   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	reg := registry.New(client, time.Minute)
	resources := resource.NewManager(store, reg, resource.NewCache(client))

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return &testEnv{
		store:     store,
		mr:        mr,
		registry:  reg,
		resources: resources,
		broker:    broker,
		server:    NewServer(store, reg, resources, broker),
		workDir:   t.TempDir(),
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func (env *testEnv) submit(t *testing.T, req SubmitRequest) SubmitResponse {
	t.Helper()

	w := env.do(t, http.MethodPost, "/api/v1/jobs", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp SubmitResponse
	decodeJSON(t, w, &resp)
	return resp
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	env := newTestEnv(t)

	resp := env.submit(t, SubmitRequest{
		Name:          "train",
		Account:       "alice",
		Script:        "#!/bin/bash\necho hello\n",
		WorkDir:       env.workDir,
		NTasksPerNode: 2,
		CPUsPerTask:   2,
	})

	assert.Greater(t, resp.JobID, int64(0))
	assert.Equal(t, types.JobStatePending, resp.State)
	assert.False(t, resp.SubmitTime.IsZero())

	job, err := env.store.GetJob(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatePending, job.State)
	assert.Equal(t, "normal", job.Partition)
	assert.Equal(t, 4, job.AllocatedCPUs)
	assert.NotNil(t, job.EligibleTime)
	assert.Nil(t, job.StartTime)

	require.Eventually(t, func() bool {
		for _, ev := range env.broker.Recent() {
			if ev.Type == events.EventJobSubmitted && ev.JobID == resp.JobID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		req     SubmitRequest
		wantErr string
	}{
		{
			name:    "missing name",
			req:     SubmitRequest{Account: "alice", Script: "echo hi"},
			wantErr: "name is required",
		},
		{
			name:    "missing account",
			req:     SubmitRequest{Name: "j", Script: "echo hi"},
			wantErr: "account is required",
		},
		{
			name:    "missing script",
			req:     SubmitRequest{Name: "j", Account: "alice"},
			wantErr: "script is required",
		},
		{
			name:    "negative cpus",
			req:     SubmitRequest{Name: "j", Account: "alice", Script: "echo hi", CPUsPerTask: -1},
			wantErr: "cpus_per_task",
		},
		{
			name:    "negative time limit",
			req:     SubmitRequest{Name: "j", Account: "alice", Script: "echo hi", TimeLimitMinutes: -5},
			wantErr: "time_limit_minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/jobs", tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp errorResponse
			decodeJSON(t, w, &resp)
			assert.Contains(t, resp.Error, tt.wantErr)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestGetJobDetail(t *testing.T) {
	env := newTestEnv(t)

	resp := env.submit(t, SubmitRequest{
		Name:             "analyze",
		Account:          "alice",
		Script:           "echo done",
		WorkDir:          env.workDir,
		StdoutPath:       "out.log",
		CPUsPerTask:      3,
		TimeLimitMinutes: 90,
	})

	require.NoError(t, os.WriteFile(filepath.Join(env.workDir, "out.log"), []byte("all done\n"), 0o644))

	_, err := env.store.AdmitJob(resp.JobID, 3, "node-1")
	require.NoError(t, err)

	job, err := env.store.GetJob(resp.JobID)
	require.NoError(t, err)
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(95 * time.Second)
	job.StartTime = &start
	job.EndTime = &end
	job.State = types.JobStateCompleted
	job.ExitCode = "0:0"
	require.NoError(t, env.store.UpdateJob(job))

	w := env.do(t, http.MethodGet, "/api/v1/jobs/"+itoa(resp.JobID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view JobView
	decodeJSON(t, w, &view)
	assert.Equal(t, resp.JobID, view.JobID)
	assert.Equal(t, "analyze", view.Name)
	assert.Equal(t, types.JobStateCompleted, view.State)
	assert.Equal(t, "0:0", view.ExitCode)
	assert.Equal(t, 3, view.CPUsPerTask)
	assert.Equal(t, "0-00:01:35", view.Time.Elapsed)
	assert.Equal(t, "1:30:00", view.Time.Limit)
	require.NotNil(t, view.Logs)
	assert.Equal(t, "all done\n", view.Logs.Stdout)
	assert.Empty(t, view.Logs.Stderr)
	require.NotNil(t, view.Allocation)
	assert.Equal(t, "node-1", view.Allocation.NodeName)
	assert.Equal(t, types.AllocationReserved, view.Allocation.Status)
}

func TestGetJobDefaults(t *testing.T) {
	env := newTestEnv(t)

	resp := env.submit(t, SubmitRequest{Name: "idle", Account: "bob", Script: "true"})

	w := env.do(t, http.MethodGet, "/api/v1/jobs/"+itoa(resp.JobID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view JobView
	decodeJSON(t, w, &view)
	assert.Equal(t, ":", view.ExitCode)
	assert.Equal(t, "0-00:00:00", view.Time.Elapsed)
	assert.Equal(t, "UNLIMITED", view.Time.Limit)
	assert.Nil(t, view.Allocation)
	require.NotNil(t, view.Logs)
	assert.Empty(t, view.Logs.Stdout)
}

func TestGetJobNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/jobs/424242", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp errorResponse
	decodeJSON(t, w, &resp)
	assert.Equal(t, "job not found", resp.Error)
}

func TestListJobsFilters(t *testing.T) {
	env := newTestEnv(t)

	a := env.submit(t, SubmitRequest{Name: "first", Account: "alice", Script: "true"})
	b := env.submit(t, SubmitRequest{Name: "second", Account: "alice", Script: "true"})
	c := env.submit(t, SubmitRequest{Name: "third", Account: "bob", Script: "true"})

	_, err := env.store.AdmitJob(b.JobID, 1, "node-1")
	require.NoError(t, err)

	t.Run("all most recent first", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp ListJobsResponse
		decodeJSON(t, w, &resp)
		require.Equal(t, 3, resp.Count)
		assert.Equal(t, c.JobID, resp.Jobs[0].JobID)
		assert.Equal(t, a.JobID, resp.Jobs[2].JobID)
	})

	t.Run("by state", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs?state=running", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp ListJobsResponse
		decodeJSON(t, w, &resp)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, b.JobID, resp.Jobs[0].JobID)
	})

	t.Run("by account", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs?account=alice", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp ListJobsResponse
		decodeJSON(t, w, &resp)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("with limit", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs?limit=1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp ListJobsResponse
		decodeJSON(t, w, &resp)
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("invalid state", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs?state=stuck", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/jobs?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCancelPendingJob(t *testing.T) {
	env := newTestEnv(t)

	resp := env.submit(t, SubmitRequest{Name: "doomed", Account: "alice", Script: "sleep 60"})

	w := env.do(t, http.MethodDelete, "/api/v1/jobs/"+itoa(resp.JobID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var cancel CancelResponse
	decodeJSON(t, w, &cancel)
	assert.Equal(t, types.JobStateCancelled, cancel.State)

	job, err := env.store.GetJob(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCancelled, job.State)
	assert.Equal(t, types.ExitCancelled, job.ExitCode)
	assert.NotNil(t, job.EndTime)

	require.Eventually(t, func() bool {
		for _, ev := range env.broker.Recent() {
			if ev.Type == events.EventJobCancelled && ev.JobID == resp.JobID {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelRunningJobSignalsProcess(t *testing.T) {
	env := newTestEnv(t)

	resp := env.submit(t, SubmitRequest{Name: "long", Account: "alice", Script: "sleep 60", CPUsPerTask: 4})

	_, err := env.store.AdmitJob(resp.JobID, 4, "node-1")
	require.NoError(t, err)
	_, prior, err := env.store.TransitionToAllocated(resp.JobID)
	require.NoError(t, err)
	require.Equal(t, types.AllocationReserved, prior)
	env.resources.OnTransitionToAllocated(context.Background(), 4)

	// A real process group stands in for the supervised script
	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	require.NoError(t, env.store.RecordPID(resp.JobID, cmd.Process.Pid))

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	w := env.do(t, http.MethodDelete, "/api/v1/jobs/"+itoa(resp.JobID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var cancel CancelResponse
	decodeJSON(t, w, &cancel)
	assert.Equal(t, types.JobStateCancelled, cancel.State)

	select {
	case err := <-waitErr:
		require.Error(t, err, "sleep should die to the signal")
	case <-time.After(5 * time.Second):
		t.Fatal("process survived cancellation")
	}

	job, err := env.store.GetJob(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCancelled, job.State)
	assert.Equal(t, types.ExitCancelled, job.ExitCode)

	alloc, err := env.store.GetAllocation(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.AllocationReleased, alloc.Status)
	assert.NotNil(t, alloc.ReleasedTime)

	counter, err := env.mr.Get(counterKey)
	require.NoError(t, err)
	assert.Equal(t, "0", counter)
}

func TestCancelTerminalJobIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	resp := env.submit(t, SubmitRequest{Name: "done", Account: "alice", Script: "true"})
	end := time.Now().UTC()
	require.NoError(t, env.store.MarkJobTerminal(resp.JobID, types.JobStateCompleted, "0:0", "", end))

	w := env.do(t, http.MethodDelete, "/api/v1/jobs/"+itoa(resp.JobID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var cancel CancelResponse
	decodeJSON(t, w, &cancel)
	assert.Equal(t, types.JobStateCompleted, cancel.State)

	job, err := env.store.GetJob(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCompleted, job.State)
	assert.Equal(t, "0:0", job.ExitCode)
}

func TestCancelUnknownJob(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodDelete, "/api/v1/jobs/424242", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.UpsertSystemResource(&types.SystemResource{
		NodeName:  "node-1",
		TotalCPUs: 8,
		Partition: "normal",
		Available: true,
	}))
	require.NoError(t, env.registry.Register(ctx, &types.WorkerPresence{
		WorkerID: "worker-1",
		CPUs:     8,
		Hostname: "testhost",
	}))

	pending := env.submit(t, SubmitRequest{Name: "queued", Account: "alice", Script: "true"})
	running := env.submit(t, SubmitRequest{Name: "active", Account: "alice", Script: "true", CPUsPerTask: 3})
	finished := env.submit(t, SubmitRequest{Name: "past", Account: "bob", Script: "true"})

	_, err := env.store.AdmitJob(running.JobID, 3, "node-1")
	require.NoError(t, err)
	_, _, err = env.store.TransitionToAllocated(running.JobID)
	require.NoError(t, err)
	require.NoError(t, env.store.MarkJobTerminal(finished.JobID, types.JobStateCompleted, "0:0", "", time.Now().UTC()))

	w := env.do(t, http.MethodGet, "/api/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view DashboardView
	decodeJSON(t, w, &view)

	assert.Equal(t, int64(3), view.Jobs.Total)
	assert.Equal(t, int64(1), view.Jobs.Pending)
	assert.Equal(t, int64(1), view.Jobs.Running)
	assert.Equal(t, int64(1), view.Jobs.Completed)

	assert.Equal(t, 8, view.Resources.TotalCPUs)
	assert.Equal(t, 3, view.Resources.AllocatedCPUs)
	assert.Equal(t, 5, view.Resources.AvailableCPUs)
	assert.InDelta(t, 37.5, view.Resources.UtilizationRate, 0.001)

	require.Len(t, view.Nodes, 1)
	assert.Equal(t, "node-1", view.Nodes[0].NodeName)
	assert.Equal(t, 3, view.Nodes[0].AllocatedCPUs)
	assert.Equal(t, 5, view.Nodes[0].AvailableCPUs)
	assert.InDelta(t, 37.5, view.Nodes[0].UtilizationRate, 0.001)
	assert.True(t, view.Nodes[0].Available)

	require.Len(t, view.Workers, 1)
	assert.Equal(t, "worker-1", view.Workers[0].WorkerID)

	require.Len(t, view.RunningJobs, 1)
	assert.Equal(t, running.JobID, view.RunningJobs[0].JobID)
	assert.NotNil(t, view.RunningJobs[0].StartTime)

	require.Len(t, view.PendingJobs, 1)
	assert.Equal(t, pending.JobID, view.PendingJobs[0].JobID)
}

func TestDashboardCapsPendingList(t *testing.T) {
	env := newTestEnv(t)

	var first int64
	for i := 0; i < 25; i++ {
		resp := env.submit(t, SubmitRequest{Name: "bulk", Account: "alice", Script: "true"})
		if i == 0 {
			first = resp.JobID
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view DashboardView
	decodeJSON(t, w, &view)
	require.Len(t, view.PendingJobs, 20)
	// Oldest submissions first, matching scheduler order
	assert.Equal(t, first, view.PendingJobs[0].JobID)
}

func TestEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.broker.Publish(events.JobEvent(events.EventJobAdmitted, 7, "job 7 admitted on node-1 with 2 cpus"))
	env.broker.Publish(events.WorkerEvent(events.EventWorkerRegistered, "worker-1", "registered"))

	require.Eventually(t, func() bool {
		w := env.do(t, http.MethodGet, "/api/v1/events", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var resp EventsResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			return false
		}
		if resp.Count < 2 {
			return false
		}
		var sawJob, sawWorker bool
		for _, ev := range resp.Events {
			if ev.Type == events.EventJobAdmitted && ev.JobID == 7 {
				sawJob = true
			}
			if ev.Type == events.EventWorkerRegistered && ev.Worker == "worker-1" {
				sawWorker = true
			}
		}
		return sawJob && sawWorker
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))

	w = env.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/health", nil)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "drover_jobs_submitted_total")
	assert.Contains(t, body, "drover_api_requests_total")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
