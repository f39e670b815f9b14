/*
Package config loads and validates Drover's service configuration.

Configuration is resolved in three layers: compiled-in defaults suitable
for a single-node deployment, an optional YAML file, and DROVER_*
environment variables for secrets and per-host identity. The resolved
Config is validated before any daemon starts.

# Resolution Order

	Default() ── YAML file ── environment ──▶ Validate()
	 (lowest)                    (highest)

Environment overrides:

	DROVER_DB_DSN          database.dsn
	DROVER_REDIS_ADDR      redis.addr
	DROVER_REDIS_PASSWORD  redis.password
	DROVER_NODE_NAME       node_name
	DROVER_TOTAL_CPUS      total_cpus
	DROVER_API_ADDR        api.listen_addr
	DROVER_LOG_LEVEL       log.level

# Example File

	node_name: compute-1
	total_cpus: 64

	database:
	  dsn: "host=db user=drover dbname=drover sslmode=disable"

	redis:
	  addr: "localhost:6379"

	scheduler:
	  interval_seconds: 5
	  resource_sync_interval_seconds: 300

	worker:
	  concurrency: 4
	  heartbeat_interval_seconds: 30
	  presence_ttl_seconds: 60
	  queue_name: drover_jobs

	cleanup:
	  stale_reservation_max_age_minutes: 10
	  stuck_job_max_age_hours: 48
	  max_job_runtime_hours: 72
	  strategies_enabled:
	    old_job_cleanup: false

	paths:
	  script_dir: /var/lib/drover/scripts
	  work_base_dir: /var/lib/drover/jobs

# Validation

Validate enforces positive intervals and counts, a presence TTL strictly
greater than the heartbeat interval (a TTL at or below the heartbeat
would expire live workers), non-empty queue and path settings, and a
non-empty node name. Load fails fast so a bad file never reaches a
running daemon.

# Usage

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	interval := cfg.Scheduler.Interval()

# See Also

  - cmd/drover for flag wiring
  - pkg/cleanup for how strategies_enabled is consumed
*/
package config
