package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration. Defaults cover a
// single-node deployment; a YAML file and DROVER_* environment
// variables override them.
type Config struct {
	NodeName  string `yaml:"node_name"`
	TotalCPUs int    `yaml:"total_cpus"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	API       APIConfig       `yaml:"api"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Paths     PathsConfig     `yaml:"paths"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig configures the authoritative relational store
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig configures the fast store (presence, counters, queue)
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// APIConfig configures the REST server
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SchedulerConfig configures the admission daemon
type SchedulerConfig struct {
	IntervalSeconds             int `yaml:"interval_seconds"`
	ResourceSyncIntervalSeconds int `yaml:"resource_sync_interval_seconds"`
}

// Interval returns the admission tick period
func (s SchedulerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// ResourceSyncInterval returns the cache-to-store resync period
func (s SchedulerConfig) ResourceSyncInterval() time.Duration {
	return time.Duration(s.ResourceSyncIntervalSeconds) * time.Second
}

// WorkerConfig configures the worker pool
type WorkerConfig struct {
	Concurrency              int    `yaml:"concurrency"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
	PresenceTTLSeconds       int    `yaml:"presence_ttl_seconds"`
	QueueName                string `yaml:"queue_name"`
}

// HeartbeatInterval returns the presence refresh period
func (w WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatIntervalSeconds) * time.Second
}

// PresenceTTL returns the presence key lifetime
func (w WorkerConfig) PresenceTTL() time.Duration {
	return time.Duration(w.PresenceTTLSeconds) * time.Second
}

// CleanupConfig configures the reconciliation strategies
type CleanupConfig struct {
	StaleReservationMaxAgeMinutes int `yaml:"stale_reservation_max_age_minutes"`
	StuckJobMaxAgeHours           int `yaml:"stuck_job_max_age_hours"`
	MaxJobRuntimeHours            int `yaml:"max_job_runtime_hours"`
	OldJobRetentionDays           int `yaml:"old_job_retention_days"`

	// StrategiesEnabled overrides per-strategy defaults by name.
	StrategiesEnabled map[string]bool `yaml:"strategies_enabled"`
}

// StaleReservationMaxAge returns the reservation age threshold
func (c CleanupConfig) StaleReservationMaxAge() time.Duration {
	return time.Duration(c.StaleReservationMaxAgeMinutes) * time.Minute
}

// StuckJobMaxAge returns the running-job age threshold
func (c CleanupConfig) StuckJobMaxAge() time.Duration {
	return time.Duration(c.StuckJobMaxAgeHours) * time.Hour
}

// MaxJobRuntime returns the recovery timeout-sweep threshold
func (c CleanupConfig) MaxJobRuntime() time.Duration {
	return time.Duration(c.MaxJobRuntimeHours) * time.Hour
}

// OldJobRetention returns how long terminal jobs are kept
func (c CleanupConfig) OldJobRetention() time.Duration {
	return time.Duration(c.OldJobRetentionDays) * 24 * time.Hour
}

// PathsConfig configures local filesystem layout
type PathsConfig struct {
	ScriptDir   string `yaml:"script_dir"`
	WorkBaseDir string `yaml:"work_base_dir"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Default returns the configuration for a single-node deployment
func Default() *Config {
	return &Config{
		NodeName:  "default-node",
		TotalCPUs: 32,
		Database: DatabaseConfig{
			DSN:          "host=localhost user=drover password=drover dbname=drover port=5432 sslmode=disable",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		API: APIConfig{
			ListenAddr: ":8088",
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds:             5,
			ResourceSyncIntervalSeconds: 300,
		},
		Worker: WorkerConfig{
			Concurrency:              4,
			HeartbeatIntervalSeconds: 30,
			PresenceTTLSeconds:       60,
			QueueName:                "drover_jobs",
		},
		Cleanup: CleanupConfig{
			StaleReservationMaxAgeMinutes: 10,
			StuckJobMaxAgeHours:           48,
			MaxJobRuntimeHours:            72,
			OldJobRetentionDays:           30,
			StrategiesEnabled:             map[string]bool{},
		},
		Paths: PathsConfig{
			ScriptDir:   "/var/lib/drover/scripts",
			WorkBaseDir: "/var/lib/drover/jobs",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. An empty path skips the file and uses defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets and identity from the environment so
// deployments never need credentials in the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DROVER_DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DROVER_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("DROVER_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("DROVER_NODE_NAME"); v != "" {
		c.NodeName = v
	}
	if v := os.Getenv("DROVER_TOTAL_CPUS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TotalCPUs = n
		}
	}
	if v := os.Getenv("DROVER_API_ADDR"); v != "" {
		c.API.ListenAddr = v
	}
	if v := os.Getenv("DROVER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks ranges and relationships between settings
func (c *Config) Validate() error {
	if c.NodeName == "" {
		return fmt.Errorf("node_name must not be empty")
	}
	if c.TotalCPUs <= 0 {
		return fmt.Errorf("total_cpus must be positive, got %d", c.TotalCPUs)
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler interval_seconds must be positive, got %d", c.Scheduler.IntervalSeconds)
	}
	if c.Scheduler.ResourceSyncIntervalSeconds <= 0 {
		return fmt.Errorf("resource_sync_interval_seconds must be positive, got %d", c.Scheduler.ResourceSyncIntervalSeconds)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat_interval_seconds must be positive, got %d", c.Worker.HeartbeatIntervalSeconds)
	}
	// TTL must outlive at least one missed heartbeat
	if c.Worker.PresenceTTLSeconds <= c.Worker.HeartbeatIntervalSeconds {
		return fmt.Errorf("presence_ttl_seconds (%d) must exceed heartbeat_interval_seconds (%d)",
			c.Worker.PresenceTTLSeconds, c.Worker.HeartbeatIntervalSeconds)
	}
	if c.Worker.QueueName == "" {
		return fmt.Errorf("queue_name must not be empty")
	}
	if c.Cleanup.StaleReservationMaxAgeMinutes <= 0 {
		return fmt.Errorf("stale_reservation_max_age_minutes must be positive, got %d", c.Cleanup.StaleReservationMaxAgeMinutes)
	}
	if c.Cleanup.StuckJobMaxAgeHours <= 0 {
		return fmt.Errorf("stuck_job_max_age_hours must be positive, got %d", c.Cleanup.StuckJobMaxAgeHours)
	}
	if c.Cleanup.MaxJobRuntimeHours <= 0 {
		return fmt.Errorf("max_job_runtime_hours must be positive, got %d", c.Cleanup.MaxJobRuntimeHours)
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api listen_addr must not be empty")
	}
	if c.Paths.ScriptDir == "" || c.Paths.WorkBaseDir == "" {
		return fmt.Errorf("script_dir and work_base_dir must not be empty")
	}
	return nil
}

// EnsureDirectories creates the script and work directories
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ScriptDir, c.Paths.WorkBaseDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
