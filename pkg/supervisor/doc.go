/*
Package supervisor launches one declared script, supervises it, and
collects its outcome.

Run writes the job's script text to <script_dir>/job_<id>.sh (mode
0700), forks /bin/bash on it in a new session, redirects stdout and
stderr to the job's declared paths, reports the child's pid through a
callback, and blocks until exit. The result carries the exit code and
terminating signal, rendered in the stored "<code>:<signal>" form; a
signal death reads as -1:<signal>.

The new session matters: job scripts routinely spawn their own
children, and killing only the leader would leak grandchildren.
Because the script and its descendants share a process group, Cancel
and KillTree signal the whole subtree atomically. Cancel sends SIGTERM
and returns; the Run already blocked on the child observes the exit
and the caller's normal release-then-terminal path takes over.
KillTree escalates to SIGKILL after a grace period and backs the
declared per-job time limit.

Failure policy: setup and launch failures return a synthetic -1 result
plus the error, and the caller marks the job failed. A failing pid
report degrades orphan detection but never aborts a run. Shutdown is
ignored on purpose; a supervised child outlives the daemon and startup
recovery reconciles whatever remains.

# See Also

  - pkg/worker for the per-job lifecycle around Run
  - pkg/recovery for how orphaned children are found again
  - pkg/cleanup for the stuck-job and timeout backstops
*/
package supervisor
