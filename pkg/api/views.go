package api

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/drover-io/drover/pkg/events"
	"github.com/drover-io/drover/pkg/types"
)

// SubmitRequest is the POST /api/v1/jobs payload.
type SubmitRequest struct {
	Name             string            `json:"name"`
	Account          string            `json:"account"`
	Partition        string            `json:"partition,omitempty"`
	Script           string            `json:"script"`
	WorkDir          string            `json:"work_dir,omitempty"`
	StdoutPath       string            `json:"stdout_path,omitempty"`
	StderrPath       string            `json:"stderr_path,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	NTasksPerNode    int               `json:"ntasks_per_node,omitempty"`
	CPUsPerTask      int               `json:"cpus_per_task,omitempty"`
	MemoryPerNode    int               `json:"memory_per_node,omitempty"`
	TimeLimitMinutes int               `json:"time_limit_minutes,omitempty"`
	Exclusive        bool              `json:"exclusive,omitempty"`
}

// Validate rejects requests that can never become a runnable job.
func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(r.Account) == "" {
		return fmt.Errorf("account is required")
	}
	if strings.TrimSpace(r.Script) == "" {
		return fmt.Errorf("script is required")
	}
	if r.NTasksPerNode < 0 {
		return fmt.Errorf("ntasks_per_node must not be negative")
	}
	if r.CPUsPerTask < 0 {
		return fmt.Errorf("cpus_per_task must not be negative")
	}
	if r.MemoryPerNode < 0 {
		return fmt.Errorf("memory_per_node must not be negative")
	}
	if r.TimeLimitMinutes < 0 {
		return fmt.Errorf("time_limit_minutes must not be negative")
	}
	return nil
}

// Job builds the pending row for a validated request. Zero task and cpu
// counts default to one, the partition defaults to normal, and the
// admission cost is precomputed so listings show it before scheduling.
func (r *SubmitRequest) Job() *types.Job {
	now := time.Now().UTC()

	job := &types.Job{
		Name:             r.Name,
		Account:          r.Account,
		Partition:        r.Partition,
		State:            types.JobStatePending,
		NTasksPerNode:    r.NTasksPerNode,
		CPUsPerTask:      r.CPUsPerTask,
		MemoryPerNode:    r.MemoryPerNode,
		TimeLimitMinutes: r.TimeLimitMinutes,
		Exclusive:        r.Exclusive,
		AllocatedNodes:   1,
		Script:           r.Script,
		WorkDir:          r.WorkDir,
		StdoutPath:       r.StdoutPath,
		StderrPath:       r.StderrPath,
		Environment:      r.Environment,
		SubmitTime:       now,
		EligibleTime:     &now,
	}
	if job.Partition == "" {
		job.Partition = "normal"
	}
	if job.NTasksPerNode < 1 {
		job.NTasksPerNode = 1
	}
	if job.CPUsPerTask < 1 {
		job.CPUsPerTask = 1
	}
	job.AllocatedCPUs = job.TotalCPUsRequired()

	return job
}

// SubmitResponse acknowledges a created job.
type SubmitResponse struct {
	JobID      int64          `json:"job_id"`
	State      types.JobState `json:"state"`
	SubmitTime time.Time      `json:"submit_time"`
}

// CancelResponse reports the job's state after a cancel request. The
// state is cancelled when this request won the terminal write and the
// earlier terminal state when it arrived late.
type CancelResponse struct {
	JobID int64          `json:"job_id"`
	State types.JobState `json:"state"`
}

// TimeInfo groups a job's timestamps with their display forms.
type TimeInfo struct {
	SubmitTime   time.Time  `json:"submit_time"`
	EligibleTime *time.Time `json:"eligible_time,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Elapsed      string     `json:"elapsed"`
	Limit        string     `json:"limit"`
}

// JobLogs carries the stdout and stderr tails of a job.
type JobLogs struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// AllocationView is the allocation subset shown on a job detail.
type AllocationView struct {
	AllocatedCPUs  int                    `json:"allocated_cpus"`
	NodeName       string                 `json:"node_name"`
	ProcessID      *int                   `json:"process_id,omitempty"`
	Status         types.AllocationStatus `json:"status"`
	AllocationTime time.Time              `json:"allocation_time"`
	ReleasedTime   *time.Time             `json:"released_time,omitempty"`
}

// JobView is the API's rendering of one job.
type JobView struct {
	JobID     int64          `json:"job_id"`
	Name      string         `json:"name"`
	Account   string         `json:"account"`
	Partition string         `json:"partition"`
	State     types.JobState `json:"state"`
	ExitCode  string         `json:"exit_code"`
	ErrorMsg  string         `json:"error_msg,omitempty"`

	NTasksPerNode    int    `json:"ntasks_per_node"`
	CPUsPerTask      int    `json:"cpus_per_task"`
	MemoryPerNode    int    `json:"memory_per_node,omitempty"`
	TimeLimitMinutes int    `json:"time_limit_minutes,omitempty"`
	Exclusive        bool   `json:"exclusive,omitempty"`
	AllocatedCPUs    int    `json:"allocated_cpus"`
	AllocatedNodes   int    `json:"allocated_nodes"`
	NodeList         string `json:"node_list,omitempty"`

	WorkDir string `json:"work_dir,omitempty"`

	Time       TimeInfo        `json:"time"`
	Logs       *JobLogs        `json:"logs,omitempty"`
	Allocation *AllocationView `json:"allocation,omitempty"`
}

// ListJobsResponse wraps a filtered job listing.
type ListJobsResponse struct {
	Jobs  []*JobView `json:"jobs"`
	Count int        `json:"count"`
}

// JobStats are the per-state counts on the dashboard.
type JobStats struct {
	Total     int64 `json:"total"`
	Running   int64 `json:"running"`
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// ResourceStats summarize cluster capacity on the dashboard.
type ResourceStats struct {
	TotalCPUs       int     `json:"total_cpus"`
	AllocatedCPUs   int     `json:"allocated_cpus"`
	AvailableCPUs   int     `json:"available_cpus"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// NodeView joins a node inventory row with its current consumption.
type NodeView struct {
	NodeName        string  `json:"node_name"`
	Partition       string  `json:"partition"`
	TotalCPUs       int     `json:"total_cpus"`
	AllocatedCPUs   int     `json:"allocated_cpus"`
	AvailableCPUs   int     `json:"available_cpus"`
	Available       bool    `json:"available"`
	UtilizationRate float64 `json:"utilization_rate"`
}

// JobSummary is the short job form on the dashboard listings.
type JobSummary struct {
	JobID         int64          `json:"job_id"`
	Name          string         `json:"name"`
	Account       string         `json:"account"`
	State         types.JobState `json:"state"`
	AllocatedCPUs int            `json:"allocated_cpus"`
	SubmitTime    time.Time      `json:"submit_time"`
	StartTime     *time.Time     `json:"start_time,omitempty"`
}

// DashboardView is the GET /api/v1/dashboard response.
type DashboardView struct {
	Jobs        JobStats                `json:"job_stats"`
	Resources   ResourceStats           `json:"resource_stats"`
	Nodes       []NodeView              `json:"node_info"`
	Workers     []*types.WorkerPresence `json:"workers"`
	RunningJobs []JobSummary            `json:"running_jobs"`
	PendingJobs []JobSummary            `json:"pending_jobs"`
}

// EventsResponse wraps the recent-events ring.
type EventsResponse struct {
	Events []*events.Event `json:"events"`
	Count  int             `json:"count"`
}

// buildJobView renders a job and its allocation, if any. Log tails are
// attached separately because only the detail endpoint pays for them.
func buildJobView(job *types.Job, alloc *types.ResourceAllocation) *JobView {
	view := &JobView{
		JobID:            job.ID,
		Name:             job.Name,
		Account:          job.Account,
		Partition:        job.Partition,
		State:            job.State,
		ExitCode:         displayExitCode(job.ExitCode),
		ErrorMsg:         job.ErrorMsg,
		NTasksPerNode:    job.NTasksPerNode,
		CPUsPerTask:      job.CPUsPerTask,
		MemoryPerNode:    job.MemoryPerNode,
		TimeLimitMinutes: job.TimeLimitMinutes,
		Exclusive:        job.Exclusive,
		AllocatedCPUs:    job.AllocatedCPUs,
		AllocatedNodes:   job.AllocatedNodes,
		NodeList:         job.NodeList,
		WorkDir:          job.WorkDir,
		Time: TimeInfo{
			SubmitTime:   job.SubmitTime,
			EligibleTime: job.EligibleTime,
			StartTime:    job.StartTime,
			EndTime:      job.EndTime,
			Elapsed:      formatElapsed(job.StartTime, job.EndTime),
			Limit:        formatLimit(job.TimeLimitMinutes),
		},
	}

	if alloc != nil {
		view.Allocation = &AllocationView{
			AllocatedCPUs:  alloc.AllocatedCPUs,
			NodeName:       alloc.NodeName,
			ProcessID:      alloc.ProcessID,
			Status:         alloc.Status,
			AllocationTime: alloc.AllocationTime,
			ReleasedTime:   alloc.ReleasedTime,
		}
	}

	return view
}

func buildJobSummary(job *types.Job) JobSummary {
	return JobSummary{
		JobID:         job.ID,
		Name:          job.Name,
		Account:       job.Account,
		State:         job.State,
		AllocatedCPUs: job.AllocatedCPUs,
		SubmitTime:    job.SubmitTime,
		StartTime:     job.StartTime,
	}
}

// displayExitCode substitutes the ":" placeholder for jobs that never
// produced an exit code.
func displayExitCode(code string) string {
	if code == "" {
		return ":"
	}
	return code
}

// formatElapsed renders the wall time between start and end, or start
// and now for a job still running. A job that never started shows
// "0-00:00:00".
func formatElapsed(start, end *time.Time) string {
	if start == nil {
		return "0-00:00:00"
	}
	until := time.Now()
	if end != nil {
		until = *end
	}
	return formatDuration(until.Sub(*start))
}

// formatDuration renders a duration as D-HH:MM:SS.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d.Seconds())
	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60
	return fmt.Sprintf("%d-%02d:%02d:%02d", days, hours, mins, secs%60)
}

// formatLimit renders a time limit in minutes. Zero means the job
// declared none. The day prefix appears only for limits of a day or
// more, matching the form batch schedulers print.
func formatLimit(minutes int) string {
	if minutes <= 0 {
		return "UNLIMITED"
	}
	days := minutes / (24 * 60)
	hours := (minutes % (24 * 60)) / 60
	mins := minutes % 60
	if days > 0 {
		return fmt.Sprintf("%d-%02d:%02d:00", days, hours, mins)
	}
	return fmt.Sprintf("%d:%02d:00", hours, mins)
}

// round2 keeps utilization figures at two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
