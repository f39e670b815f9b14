/*
Package log provides structured logging for Drover using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with configurable log levels and context loggers for the identities that recur
across the codebase (component, job, worker, cleanup strategy). All logs
include timestamps and support filtering by severity level for production
debugging.

# Architecture

Drover's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("scheduler")               │          │
	│  │  - WithJob(42)                              │          │
	│  │  - WithWorker("node-1-a3f9")                │          │
	│  │  - WithStrategy("stale_reservation_cleanup")│          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                             │          │
	│  │  JSON Format:                               │          │
	│  │  {                                          │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "scheduler",                │          │
	│  │    "job_id": 42,                            │          │
	│  │    "time": "2026-02-10T10:30:00Z",          │          │
	│  │    "message": "job admitted"                │          │
	│  │  }                                          │          │
	│  │                                             │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF job admitted component=scheduler │        │
	│  └────────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Zero value discards events, so tests run quiet without Init
  - Accessible from all Drover packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - ParseLevel maps config strings onto levels, unknown names become info

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithJob: Add job id context
  - WithWorker: Add worker id context
  - WithStrategy: Add cleanup strategy context

# Usage

Initializing the Logger:

	import "github.com/drover-io/drover/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// From configuration
	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.Format == "json",
	})

Structured Logging:

	log.Logger.Info().
		Int64("job_id", job.ID).
		Int("cpus", job.TotalCPUsRequired()).
		Msg("job admitted")

	log.Logger.Error().
		Err(err).
		Str("strategy", s.Name()).
		Msg("cleanup strategy failed")

Component Loggers:

	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("starting admission loop")
	schedulerLog.Debug().Int64("job_id", 42).Msg("job does not fit, skipping")

	jobLog := log.WithJob(42)
	jobLog.Info().Int("pid", pid).Msg("job process started")

# Integration Points

This package integrates with:

  - pkg/scheduler: Logs admission decisions
  - pkg/worker: Logs execution lifecycle and process supervision
  - pkg/cleanup: Logs strategy runs and reconciliation results
  - pkg/recovery: Logs startup reconciliation
  - pkg/api: Logs requests via middleware
  - pkg/resource: Logs cache syncs and divergence

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with context fields
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Consistent error format across the codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include context (job id, worker id, strategy name)

Don't:
  - Log job script contents or environment values (may carry secrets)
  - Use Debug level in production
  - Log inside the scheduler's per-job loop at Info level
  - Concatenate strings (use .Str, .Int64)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
