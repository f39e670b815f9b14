package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/drover-io/drover/pkg/log"
	"github.com/drover-io/drover/pkg/types"
)

// killGrace is how long a timed-out process group gets between
// SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

// Result is the outcome of one supervised run. A signal death reports
// ExitCode -1 with the terminating signal; TimedOut marks runs killed
// by the job's own declared time limit.
type Result struct {
	ExitCode int
	Signal   int
	TimedOut bool
}

// Success reports a clean zero exit
func (r Result) Success() bool {
	return r.ExitCode == 0 && r.Signal == 0
}

// String renders the stored exit-code form
func (r Result) String() string {
	return types.FormatExitCode(r.ExitCode, r.Signal)
}

// Supervisor launches one declared script as a process group, waits,
// and collects its outcome.
type Supervisor struct {
	scriptDir string
}

// New creates a supervisor writing generated scripts under scriptDir
func New(scriptDir string) *Supervisor {
	return &Supervisor{scriptDir: scriptDir}
}

// Run executes the job's script and blocks until the child exits. The
// child runs /bin/bash on a generated script file, in its own session,
// with stdout and stderr redirected to the job's declared paths and the
// job's environment layered over the daemon's.
//
// reportPID is called once, right after fork, with the child's pid; a
// failing report is logged and the run continues. Setup or launch
// failures return a synthetic -1 result with the error so the caller
// can mark the job failed.
//
// Run does not watch for shutdown: a supervised child belongs to its
// own session and outlives the daemon, and startup recovery reconciles
// whatever it left behind.
func (s *Supervisor) Run(job *types.Job, reportPID func(pid int) error) (Result, error) {
	scriptPath, err := s.writeScript(job)
	if err != nil {
		return Result{ExitCode: -1}, err
	}

	workDir := job.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to create work dir for job %d: %w", job.ID, err)
	}

	stdout, err := openOutput(workDir, job.StdoutPath)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to open stdout for job %d: %w", job.ID, err)
	}
	defer stdout.Close()

	stderr, err := openOutput(workDir, job.StderrPath)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to open stderr for job %d: %w", job.ID, err)
	}
	defer stderr.Close()

	cmd := exec.Command("/bin/bash", scriptPath)
	cmd.Dir = workDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = buildEnv(job.Environment)
	// New session: the script and everything it spawns form one
	// process group we can signal atomically.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to launch job %d: %w", job.ID, err)
	}

	pid := cmd.Process.Pid
	log.Logger.Info().Int64("job", job.ID).Int("pid", pid).Msg("Job process started")

	if reportPID != nil {
		if err := reportPID(pid); err != nil {
			log.Logger.Warn().Int64("job", job.ID).Int("pid", pid).Err(err).
				Msg("Failed to record job pid, orphan detection degraded")
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var limit <-chan time.Time
	if job.TimeLimitMinutes > 0 {
		timer := time.NewTimer(time.Duration(job.TimeLimitMinutes) * time.Minute)
		defer timer.Stop()
		limit = timer.C
	}

	var res Result
	select {
	case err = <-done:
	case <-limit:
		log.Logger.Warn().Int64("job", job.ID).Int("pid", pid).
			Int("limit_minutes", job.TimeLimitMinutes).
			Msg("Job exceeded its declared time limit, killing process group")
		res.TimedOut = true
		KillTree(pid, killGrace)
		err = <-done
	}

	switch {
	case err == nil:
		res.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{ExitCode: -1}, fmt.Errorf("failed to wait for job %d: %w", job.ID, err)
		}
		ws, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && ws.Signaled() {
			res.ExitCode = -1
			res.Signal = int(ws.Signal())
		} else {
			res.ExitCode = exitErr.ExitCode()
		}
	}

	log.Logger.Info().Int64("job", job.ID).Int("pid", pid).
		Str("exit", res.String()).Bool("timed_out", res.TimedOut).
		Msg("Job process exited")

	return res, nil
}

// writeScript persists the job's script text to its deterministic path
func (s *Supervisor) writeScript(job *types.Job) (string, error) {
	if err := os.MkdirAll(s.scriptDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create script dir: %w", err)
	}

	path := filepath.Join(s.scriptDir, fmt.Sprintf("job_%d.sh", job.ID))
	if err := os.WriteFile(path, []byte(job.Script), 0o700); err != nil {
		return "", fmt.Errorf("failed to write script for job %d: %w", job.ID, err)
	}

	return path, nil
}

// openOutput opens a declared output path for truncating write,
// resolving relative paths against the job's work dir. An empty path
// discards the stream.
func openOutput(workDir, path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// buildEnv layers the job's environment over the daemon's
func buildEnv(env types.EnvMap) []string {
	out := os.Environ()
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Cancel sends SIGTERM to the process group of the recorded pid. It
// does not wait; the supervisor already blocked in Run observes the
// exit. Signalling an already-gone process is a no-op.
func Cancel(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to signal process group %d: %w", pid, err)
	}
	return nil
}

// KillTree terminates a process group: SIGTERM, a bounded wait for the
// leader to disappear, then SIGKILL if it is still there.
func KillTree(pid int, grace time.Duration) {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	log.Logger.Warn().Int("pid", pid).Msg("Process group survived SIGTERM, sending SIGKILL")
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// Alive probes whether a process exists without signalling it
func Alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
