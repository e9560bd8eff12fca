package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError accumulates every problem found in a configuration so the
// operator sees them all at once.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(v.Errors, "\n  - "))
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks the configuration and returns a *ValidationError listing
// every violation, or nil.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateScheduler(cfg, ve)
	validateExecutor(cfg, ve)
	validateTasks(cfg, ve)

	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "json", "text":
	default:
		ve.Add("logger.format %q is not one of json, text", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "stdout", "noop":
	default:
		ve.Add("tracer.exporter %q is not one of stdout, noop", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio %v must be within [0, 1]", cfg.Tracer.SampleRatio)
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	s := cfg.Scheduler
	if s.RetentionDays < 1 {
		ve.Add("scheduler.retention_days %d must be at least 1", s.RetentionDays)
	}
	if s.CleanupHour < 0 || s.CleanupHour > 23 {
		ve.Add("scheduler.cleanup_hour %d must be within 0..23", s.CleanupHour)
	}
	if s.MaxInstances < 1 {
		ve.Add("scheduler.max_instances %d must be at least 1", s.MaxInstances)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			ve.Add("scheduler.timezone %q is not a valid IANA zone", s.Timezone)
		}
	}
	if s.MisfireGrace != "" {
		if _, err := time.ParseDuration(s.MisfireGrace); err != nil {
			ve.Add("scheduler.misfire_grace %q is not a duration", s.MisfireGrace)
		}
	}
}

func validateExecutor(cfg *Config, ve *ValidationError) {
	e := cfg.Executor
	if e.CommandTimeout != "" {
		if _, err := time.ParseDuration(e.CommandTimeout); err != nil {
			ve.Add("executor.command_timeout %q is not a duration", e.CommandTimeout)
		}
	}
	if e.Breaker.Enabled {
		if e.Breaker.MaxFailures < 1 {
			ve.Add("executor.breaker.max_failures %d must be at least 1", e.Breaker.MaxFailures)
		}
		if e.Breaker.OpenTimeout != "" {
			if _, err := time.ParseDuration(e.Breaker.OpenTimeout); err != nil {
				ve.Add("executor.breaker.open_timeout %q is not a duration", e.Breaker.OpenTimeout)
			}
		}
	}
}

func validateTasks(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.ID == "" {
			ve.Add("tasks[%d].id is required", i)
			continue
		}
		if seen[t.ID] {
			ve.Add("tasks[%d].id %q is duplicated", i, t.ID)
		}
		seen[t.ID] = true
		if t.Name == "" {
			ve.Add("tasks[%d].name is required", i)
		}
		if t.Command == "" && !strings.Contains(t.Description, "run:") {
			ve.Add("tasks[%d] has neither a command nor a run: directive", i)
		}
	}
}
