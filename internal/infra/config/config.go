// Package config loads the daemon configuration: YAML file, then defaults,
// then environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Tasks     []TaskConfig    `yaml:"tasks,omitempty"`
}

// LoggerConfig selects log format, level and destination.
type LoggerConfig struct {
	Level     string `yaml:"level"`      // debug|info|warn|error
	Format    string `yaml:"format"`     // json|text
	Output    string `yaml:"output"`     // stdout|stderr|discard|<path>
	AddSource bool   `yaml:"add_source"` // annotate records with file:line
}

// TracerConfig controls OpenTelemetry setup.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // stdout|noop
	SampleRatio float64 `yaml:"sample_ratio"`
}

// SchedulerConfig holds the engine and store settings. Duration-shaped
// fields are YAML strings ("60s") parsed through the accessor methods.
type SchedulerConfig struct {
	DBPath        string `yaml:"db_path"`
	LegacyJSON    string `yaml:"legacy_json"`
	Timezone      string `yaml:"timezone"`
	RetentionDays int    `yaml:"retention_days"`
	CleanupHour   int    `yaml:"cleanup_hour"`
	MaxInstances  int    `yaml:"max_instances"`
	MisfireGrace  string `yaml:"misfire_grace"`
}

// ExecutorConfig holds command runner and breaker settings.
type ExecutorConfig struct {
	CommandTimeout string        `yaml:"command_timeout"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the executor.
type BreakerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxFailures int    `yaml:"max_failures"`
	OpenTimeout string `yaml:"open_timeout"`
}

// TaskConfig seeds one registry entry at startup.
type TaskConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Command     string `yaml:"command"`
	Schedule    string `yaml:"schedule"` // optional trigger spec
}

// Defaults returns a fully-populated configuration. Path-shaped scheduler
// fields left empty are derived from DataDir at load time.
func Defaults() *Config {
	return &Config{
		DataDir: "./data",
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1.0,
		},
		Scheduler: SchedulerConfig{
			Timezone:      "UTC",
			RetentionDays: 30,
			CleanupHour:   0,
			MaxInstances:  3,
			MisfireGrace:  "60s",
		},
		Executor: ExecutorConfig{
			CommandTimeout: "10m",
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				OpenTimeout: "30s",
			},
		},
	}
}

// Load reads the configuration at path, applies defaults, environment
// overrides and validation. A missing file is not an error; the defaults
// plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	cfg.fillDerived()

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDerived resolves path fields left empty against DataDir.
func (c *Config) fillDerived() {
	if c.Scheduler.DBPath == "" {
		c.Scheduler.DBPath = filepath.Join(c.DataDir, "schedules.db")
	}
	if c.Scheduler.LegacyJSON == "" {
		c.Scheduler.LegacyJSON = filepath.Join(c.DataDir, "schedules.json")
	}
}

// ApplyEnvOverrides maps environment variables onto config fields. The
// legacy SCHEDULER_* names apply first, then the AGENTSCHED_* names win.
func ApplyEnvOverrides(cfg *Config) {
	// Names kept from the previous deployment tooling.
	if v := os.Getenv("SCHEDULER_TIMEZONE"); v != "" {
		cfg.Scheduler.Timezone = v
	}
	if v := os.Getenv("SCHEDULER_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.RetentionDays = n
		}
	}
	if v := os.Getenv("SCHEDULER_MAX_INSTANCES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.MaxInstances = n
		}
	}
	if v := os.Getenv("SCHEDULER_PERSISTENCE_PATH"); v != "" {
		cfg.Scheduler.DBPath = v
	}

	if v := os.Getenv("AGENTSCHED_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AGENTSCHED_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AGENTSCHED_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AGENTSCHED_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("AGENTSCHED_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AGENTSCHED_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("AGENTSCHED_SCHEDULER_DB_PATH"); v != "" {
		cfg.Scheduler.DBPath = v
	}
	if v := os.Getenv("AGENTSCHED_SCHEDULER_TIMEZONE"); v != "" {
		cfg.Scheduler.Timezone = v
	}
	if v := os.Getenv("AGENTSCHED_SCHEDULER_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.RetentionDays = n
		}
	}
	if v := os.Getenv("AGENTSCHED_EXECUTOR_COMMAND_TIMEOUT"); v != "" {
		cfg.Executor.CommandTimeout = v
	}
}

// Grace returns the parsed misfire grace window, falling back to the
// default on a blank or malformed value.
func (c SchedulerConfig) Grace() time.Duration {
	if d, err := time.ParseDuration(c.MisfireGrace); err == nil && d >= 0 {
		return d
	}
	return time.Minute
}

// Location resolves the configured timezone. Unknown names fall back to UTC.
func (c SchedulerConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// Timeout returns the parsed command timeout, falling back to the default
// on a blank or malformed value.
func (c ExecutorConfig) Timeout() time.Duration {
	if d, err := time.ParseDuration(c.CommandTimeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Minute
}

// OpenFor returns the parsed breaker open window.
func (c BreakerConfig) OpenFor() time.Duration {
	if d, err := time.ParseDuration(c.OpenTimeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}
