/*
Package api implements the REST front end for job submission, queries,
cancellation, and the cluster dashboard.

The server shares its dependencies with the scheduler and workers and
owns no background work of its own. Submitting a job only creates the
pending row; the scheduler discovers it on its next tick. Cancelling
writes through the store the same way the cleanup strategies do, and
everything else is a read.

# Architecture

	┌──────────────────────── CLIENT ─────────────────────────────┐
	│       curl / dashboard / anything speaking JSON             │
	└──────────────────────────┬──────────────────────────────────┘
	                           │ HTTP (default :8088)
	┌──────────────────────────▼──────────────────────────────────┐
	│                     gorilla/mux router                      │
	│   middleware: request id → access log + metrics → recover   │
	├─────────────────────────────────────────────────────────────┤
	│  POST   /api/v1/jobs          create pending row            │
	│  GET    /api/v1/jobs          filtered listing              │
	│  GET    /api/v1/jobs/{id}     detail + allocation + logs    │
	│  DELETE /api/v1/jobs/{id}     cancel, signal process group  │
	│  GET    /api/v1/dashboard     counts, capacity, nodes       │
	│  GET    /api/v1/events        recent-events ring            │
	│  GET    /health /ready /metrics                             │
	└───────┬──────────────┬──────────────┬───────────────────────┘
	        │              │              │
	        ▼              ▼              ▼
	   storage.Store   registry +     events.Broker
	   (PostgreSQL)    resource mgr   (in process)
	                   (Redis)

# Core Components

Server: the route table and its dependencies.

	srv := api.NewServer(store, reg, resources, broker)
	go srv.Start(cfg.API.ListenAddr)
	defer srv.Stop(ctx)

Views: the JSON shapes. Job timestamps carry display forms alongside
the raw values: elapsed wall time renders as D-HH:MM:SS, a zero time
limit renders as UNLIMITED, and a job that never produced an exit code
shows ":".

Log reader: detail responses attach stdout and stderr tails. A missing
file reads as empty because output paths are declared at submit time
and may never exist. Files up to one megabyte return whole; larger
files return their last thousand lines behind a truncation marker.

# Cancellation

DELETE on a job follows the same write discipline as the worker's
finish path, in the opposite order:

 1. Terminal job: nothing to do, respond with the state it reached.
 2. One transaction releases the allocation and writes the cancelled
    state with exit code -1:15.
 3. If the release performed the allocated to released transition, this
    request owns the cached counter decrement.
 4. A recorded pid gets SIGTERM on its process group. A process that
    already exited is not an error.

The terminal write is first-writer-wins. A worker finishing at the same
moment may land completed or failed first; the cancel then reports that
state and counts nothing.

# Middleware

Every request carries an id, either the caller's X-Request-ID or a
generated one, and produces one access log line with method, path,
status, and duration. The same wrapper feeds the api_requests_total and
api_request_duration_seconds metrics. A handler panic becomes a 500
without taking the process down.

# Readiness

/health answers 200 whenever the process is alive. /ready probes both
stores: a cheap aggregate query against the database and a presence
scan against the fast store. Either failing turns /ready into a 503
with the failing check named, which is what a load balancer should act
on during a database failover.

# Integration Points

	pkg/storage ─── rows in, rows out; cancel's transaction
	pkg/registry ── live workers for the dashboard
	pkg/resource ── capacity stats, counter decrement on cancel
	pkg/events ──── submit/cancel publishes, recent ring for /events
	pkg/supervisor ─ process-group signal on cancel
	pkg/metrics ──── request metrics, /metrics handler

# Design Patterns

Thin Front End: handlers validate, call one or two store methods, and
render. Anything with a lifecycle of its own lives elsewhere.

Degrade Reads, Fail Writes: dashboard reads tolerate a dead fast store
by omitting what it would have answered; anything touching the
authoritative store surfaces a 500 instead of guessing.

Idempotent Cancel: cancelling a finished job reports the finished
state with a 200. Callers retry freely.

# Troubleshooting

Submit returns 201 but the job never runs: the scheduler is not
ticking, or capacity is zero because no worker presence is live. Check
/api/v1/dashboard for total_cpus and the scheduler log for skipped
ticks.

Cancel returns 200 but the process lingers: the job's pid was never
recorded, or the process ignores SIGTERM. The stuck-job strategy
eventually fails jobs running past the threshold.

Logs empty on the detail view: stdout_path is relative and the job
declared no work_dir, or the file was cleaned up out of band.

# See Also

  - pkg/scheduler: picks up submitted jobs
  - pkg/cleanup: repairs what cancels and crashes leave behind
  - pkg/events: the ring behind /api/v1/events
*/
package api
