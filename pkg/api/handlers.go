package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/metrics"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/supervisor"
	"github.com/drover-io/drover/pkg/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	dashboardJobLimit = 20
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Logger.Debug().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// jobIDFrom parses the {id} path variable.
func jobIDFrom(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

// handleSubmit creates the pending job row. Nothing is enqueued here;
// the scheduler discovers the job on its next tick and decides when it
// runs.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := req.Job()
	if err := s.store.CreateJob(job); err != nil {
		log.Logger.Error().Err(err).Str("name", job.Name).Msg("Failed to create job")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	metrics.JobsSubmitted.Inc()
	s.broker.Publish(events.JobEvent(events.EventJobSubmitted, job.ID,
		"job %d (%s) submitted by %s", job.ID, job.Name, job.Account))

	jobLog := log.WithJob(job.ID)
	jobLog.Info().
		Str("name", job.Name).
		Str("account", job.Account).
		Int("cpus", job.TotalCPUsRequired()).
		Msg("Job submitted")

	writeJSON(w, http.StatusCreated, SubmitResponse{
		JobID:      job.ID,
		State:      job.State,
		SubmitTime: job.SubmitTime,
	})
}

// handleGetJob renders one job with its allocation and log tails.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.store.GetJob(id)
	if errors.Is(err, storage.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		jobLog := log.WithJob(id)
		jobLog.Error().Err(err).Msg("Failed to load job")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	alloc, err := s.store.GetAllocation(id)
	if err != nil && !errors.Is(err, storage.ErrAllocationNotFound) {
		jobLog := log.WithJob(id)
		jobLog.Error().Err(err).Msg("Failed to load allocation")
		writeError(w, http.StatusInternalServerError, "failed to load allocation")
		return
	}

	view := buildJobView(job, alloc)
	view.Logs = &JobLogs{
		Stdout: readLogTail(job.StdoutPath, job.WorkDir),
		Stderr: readLogTail(job.StderrPath, job.WorkDir),
	}

	writeJSON(w, http.StatusOK, view)
}

// handleListJobs returns jobs most recent first, optionally narrowed
// by state and account. Log tails are omitted; they are per-job file
// reads the listing should not pay for.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := storage.JobFilter{Limit: defaultListLimit}

	if raw := r.URL.Query().Get("state"); raw != "" {
		state := types.JobState(raw)
		switch state {
		case types.JobStatePending, types.JobStateRunning, types.JobStateCompleted,
			types.JobStateFailed, types.JobStateCancelled:
			filter.State = state
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid state %q", raw))
			return
		}
	}
	filter.Account = r.URL.Query().Get("account")
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	jobs, err := s.store.ListJobs(filter)
	if err != nil {
		log.Logger.Error().Err(err).Msg("Failed to list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	views := make([]*JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, buildJobView(job, nil))
	}

	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: views, Count: len(views)})
}

// handleCancelJob cancels a job. Cancelling a terminal job is an
// idempotent no-op reporting the state the job already reached. For a
// live job the allocation release and the terminal write commit
// together, then the process group is signalled; a worker mid-exit can
// still win the terminal write, in which case its state stands and
// nothing here is counted.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFrom(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.store.GetJob(id)
	if errors.Is(err, storage.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		jobLog := log.WithJob(id)
		jobLog.Error().Err(err).Msg("Failed to load job")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	if job.State.IsTerminal() {
		writeJSON(w, http.StatusOK, CancelResponse{JobID: id, State: job.State})
		return
	}

	var (
		pid   int
		cpus  int
		prior types.AllocationStatus
	)
	err = s.store.Transaction(func(tx storage.Store) error {
		alloc, p, err := tx.Release(id)
		if err != nil {
			return err
		}
		prior = p
		if alloc != nil {
			cpus = alloc.AllocatedCPUs
			if alloc.ProcessID != nil {
				pid = *alloc.ProcessID
			}
		}
		return tx.MarkJobTerminal(id, types.JobStateCancelled, types.ExitCancelled,
			"cancelled by user", time.Now().UTC())
	})
	if err != nil {
		jobLog := log.WithJob(id)
		jobLog.Error().Err(err).Msg("Failed to cancel job")
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	// This request performed the allocated to released transition, so it
	// owns the counter decrement regardless of who wrote the terminal
	// state.
	if prior == types.AllocationAllocated {
		s.resources.OnReleaseFromAllocated(r.Context(), cpus)
	}

	final, err := s.store.GetJob(id)
	if err == nil && final.State != types.JobStateCancelled {
		writeJSON(w, http.StatusOK, CancelResponse{JobID: id, State: final.State})
		return
	}

	if pid > 0 {
		if err := supervisor.Cancel(pid); err != nil {
			jobLog := log.WithJob(id)
			jobLog.Warn().Err(err).Int("pid", pid).Msg("Failed to signal cancelled job")
		}
	}

	metrics.JobsFinished.WithLabelValues(string(types.JobStateCancelled)).Inc()
	s.broker.Publish(events.JobEvent(events.EventJobCancelled, id, "job %d cancelled", id))
	jobLog := log.WithJob(id)
	jobLog.Info().Msg("Job cancelled")

	writeJSON(w, http.StatusOK, CancelResponse{JobID: id, State: types.JobStateCancelled})
}

// handleDashboard assembles the cluster overview. Store failures are
// errors; a dead fast store only degrades the worker listing, the same
// posture the resource manager takes.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.store.CountJobsByState()
	if err != nil {
		log.Logger.Error().Err(err).Msg("Failed to count jobs")
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	stats := JobStats{
		Running:   counts[types.JobStateRunning],
		Pending:   counts[types.JobStatePending],
		Completed: counts[types.JobStateCompleted],
		Failed:    counts[types.JobStateFailed],
		Cancelled: counts[types.JobStateCancelled],
	}
	for _, n := range counts {
		stats.Total += n
	}

	res := s.resources.Stats(ctx)
	resources := ResourceStats{
		TotalCPUs:       res.TotalCPUs,
		AllocatedCPUs:   res.AllocatedCPUs,
		AvailableCPUs:   res.AvailableCPUs,
		UtilizationRate: round2(res.Utilization),
	}

	nodes, err := s.nodeViews()
	if err != nil {
		log.Logger.Error().Err(err).Msg("Failed to load node inventory")
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	workers, err := s.registry.ListAlive(ctx)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Worker registry unreachable, dashboard omits workers")
		workers = nil
	}

	running, err := s.store.ListJobs(storage.JobFilter{
		State: types.JobStateRunning,
		Limit: dashboardJobLimit,
	})
	if err != nil {
		log.Logger.Error().Err(err).Msg("Failed to list running jobs")
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}

	pending, err := s.store.ListPendingJobs()
	if err != nil {
		log.Logger.Error().Err(err).Msg("Failed to list pending jobs")
		writeError(w, http.StatusInternalServerError, "failed to load dashboard")
		return
	}
	if len(pending) > dashboardJobLimit {
		pending = pending[:dashboardJobLimit]
	}

	view := DashboardView{
		Jobs:        stats,
		Resources:   resources,
		Nodes:       nodes,
		Workers:     workers,
		RunningJobs: make([]JobSummary, 0, len(running)),
		PendingJobs: make([]JobSummary, 0, len(pending)),
	}
	for _, job := range running {
		view.RunningJobs = append(view.RunningJobs, buildJobSummary(job))
	}
	for _, job := range pending {
		view.PendingJobs = append(view.PendingJobs, buildJobSummary(job))
	}

	writeJSON(w, http.StatusOK, view)
}

// nodeViews joins the node inventory with per-node consumption.
func (s *Server) nodeViews() ([]NodeView, error) {
	rows, err := s.store.ListSystemResources()
	if err != nil {
		return nil, err
	}
	perNode, err := s.store.AllocatedCPUsByNode()
	if err != nil {
		return nil, err
	}

	views := make([]NodeView, 0, len(rows))
	for _, row := range rows {
		allocated := perNode[row.NodeName]
		available := row.TotalCPUs - allocated
		if available < 0 {
			available = 0
		}
		utilization := 0.0
		if row.TotalCPUs > 0 {
			utilization = round2(float64(allocated) / float64(row.TotalCPUs) * 100.0)
		}
		views = append(views, NodeView{
			NodeName:        row.NodeName,
			Partition:       row.Partition,
			TotalCPUs:       row.TotalCPUs,
			AllocatedCPUs:   allocated,
			AvailableCPUs:   available,
			Available:       row.Available,
			UtilizationRate: utilization,
		})
	}
	return views, nil
}

// handleEvents returns the broker's recent-events ring, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	recent := s.broker.Recent()
	writeJSON(w, http.StatusOK, EventsResponse{Events: recent, Count: len(recent)})
}
