/*
Package registry tracks worker liveness through TTL-bounded presence
records in the fast store.

Each worker announces itself under the key worker:<id> as a hash of
identity and capacity fields, with a TTL armed on every write. Workers
heartbeat on an interval well inside the TTL; a worker that dies or
partitions simply stops refreshing and its record expires. Liveness is
therefore defined by key existence, and no component ever maintains a
dead-worker list.

# Architecture

	┌────────────┐  Register / Heartbeat   ┌─────────────────────┐
	│   Worker   │ ───────────────────────▶│     Fast Store      │
	│  (daemon)  │    HSET + EXPIRE        │                     │
	└────────────┘                         │  worker:worker-1    │
	                                       │  worker:worker-2    │
	┌────────────┐  ListAlive / TotalCPUs  │  (TTL per key)      │
	│ Scheduler  │ ◀───────────────────────│                     │
	│ Dashboard  │      SCAN + HGETALL     └─────────────────────┘
	└────────────┘

The write side belongs to the worker daemon: it registers at startup,
heartbeats on a timer, and unregisters on clean shutdown. The read
side belongs to the scheduler and the API dashboard, which derive the
cluster's total capacity from whatever records are currently live.

# Core Components

Registry:
  - Register: write the full presence record and arm its TTL
  - Heartbeat: stamp last_heartbeat and rewrite the record
  - UpdateStatus: change the advertised status (ready, busy, stopping)
  - Unregister: delete the record on clean shutdown
  - Exists: probe for a leftover record of the worker's own name
  - Get / ListAlive: read one or all live presence records
  - TotalCPUs / Count: aggregate capacity and population

Record layout (hash fields):
  - worker_id, cpus, hostname, status
  - registered_at, last_heartbeat (RFC 3339 timestamps)

# Presence Lifecycle

	         Register                Heartbeat (interval < TTL)
	 (none) ──────────▶ live ◀──────────────────────────────┐
	                     │ │                                │
	                     │ └────────────────────────────────┘
	                     │
	                     │ TTL lapses, or Unregister
	                     ▼
	                   (none)

A record only exists while some worker keeps it alive. Expiry is the
sole failure detector: the scheduler never pings workers, it just sums
the cpus fields of the records that survived.

# Usage

Worker side:

	reg := registry.New(redisClient, cfg.Worker.PresenceTTL())

	p := &types.WorkerPresence{
		WorkerID: cfg.NodeName,
		CPUs:     cfg.TotalCPUs,
		Hostname: hostname,
	}
	if err := reg.Register(ctx, p); err != nil {
		return err
	}
	defer reg.Unregister(context.Background(), p.WorkerID)

	ticker := time.NewTicker(cfg.Worker.HeartbeatInterval())
	for range ticker.C {
		if err := reg.Heartbeat(ctx, p); err != nil {
			log.Logger.Warn().Err(err).Msg("Heartbeat failed")
		}
	}

Scheduler side:

	total, err := reg.TotalCPUs(ctx)
	if err != nil || total == 0 {
		// no live workers: skip this admission tick
	}

# Integration Points

This package integrates with:

  - pkg/worker: registers, heartbeats, and unregisters its own record
  - pkg/resource: derives cluster capacity from live records
  - pkg/scheduler: skips admission ticks when no capacity is advertised
  - pkg/api: lists live workers on the dashboard
  - pkg/types: WorkerPresence carries the record between packages

# Design Patterns

Full-Record Writes:

	Register, Heartbeat, and UpdateStatus all rewrite the complete
	hash and re-arm the TTL. A record that expired while the worker
	was stalled is recreated whole on the next beat; no code path can
	leave a partial hash behind.

TTL as Failure Detector:

	Liveness is key existence. There is no reaper, no tombstone, and
	no heartbeat table to scan; a dead worker's capacity leaves the
	cluster the moment its key expires.

Degrade to Zero:

	When the fast store is unreachable, TotalCPUs returns 0 with the
	error. Callers treat the cluster as having no capacity, which
	stops admission rather than admitting against stale numbers.

# Failure Modes

Fast store down:
  - Reads fail, capacity reads as zero, the scheduler idles
  - Workers keep running their current jobs; only admission stops
  - Heartbeats fail with warnings and resume when the store returns

Worker killed (no Unregister):
  - Record expires one TTL after the last heartbeat
  - Capacity stays overstated until then; admission may briefly queue
    jobs that no worker picks up, which recovery later reconciles

Restart under the same name:
  - Startup probes Exists and clears the stale record first, so the
    new process never heartbeats on top of its predecessor's state

# See Also

  - pkg/resource for the capacity math built on these records
  - pkg/worker for the registration and heartbeat loop
  - pkg/scheduler for how capacity gates admission
*/
package registry
