// Command agentsched runs the persistent task scheduler daemon: it loads
// configuration, opens the schedule store (migrating the legacy JSON file
// when present), seeds the task registry, restores persisted schedules, and
// fires tasks until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentsched/internal/adapter/executor"
	"agentsched/internal/adapter/registry"
	"agentsched/internal/adapter/store"
	"agentsched/internal/domain"
	"agentsched/internal/infra/config"
	"agentsched/internal/infra/logger"
	"agentsched/internal/infra/tracer"
	"agentsched/internal/usecase/scheduler"
	"agentsched/internal/usecase/timer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	validateOnly := flag.Bool("validate", false, "validate the configuration and exit")
	flag.Parse()

	if *validateOnly {
		if _, err := config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("configuration OK")
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.New(cfg.Scheduler.DBPath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if n, err := st.MigrateLegacyJSON(ctx, cfg.Scheduler.LegacyJSON); err != nil {
		// The legacy file is left in place for a retry on the next start.
		log.Error("legacy schedule migration failed", "error", err)
	} else if n > 0 {
		log.Info("migrated legacy schedules", "count", n)
	}

	reg := registry.NewMemory()
	for _, tc := range cfg.Tasks {
		reg.Add(&domain.Task{
			ID:          tc.ID,
			Name:        tc.Name,
			Description: tc.Description,
			Command:     tc.Command,
		})
	}
	log.Info("task registry seeded", "tasks", len(cfg.Tasks))

	var exec domain.Executor = executor.NewCommand(cfg.Executor.Timeout(), log)
	if cfg.Executor.Breaker.Enabled {
		exec = executor.NewBreaker(exec, executor.BreakerConfig{
			MaxFailures: uint32(cfg.Executor.Breaker.MaxFailures),
			Timeout:     cfg.Executor.Breaker.OpenFor(),
		}, log)
	}

	tm := timer.New(log,
		timer.WithLocation(cfg.Scheduler.Location()),
		timer.WithMaxConcurrent(cfg.Scheduler.MaxInstances),
		timer.WithMisfireGrace(cfg.Scheduler.Grace()),
	)

	sched := scheduler.New(reg, st, tm, exec, log, scheduler.Options{
		RetentionDays: cfg.Scheduler.RetentionDays,
		CleanupHour:   cfg.Scheduler.CleanupHour,
	})
	sched.AddListener(func(ev domain.Event) {
		log.Debug("scheduler event", "type", string(ev.Type), "task_id", ev.TaskID, "detail", ev.Detail)
	})

	if err := sched.Start(ctx); err != nil {
		return err
	}

	scheduleConfigTasks(ctx, cfg, sched, st, log)
	logUpcoming(ctx, sched, log)

	go func() {
		err := config.Watch(ctx, configPath, log, func(next *config.Config) {
			if err := sched.SetRetention(next.Scheduler.RetentionDays); err != nil {
				log.Warn("ignoring reloaded retention", "error", err)
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watcher stopped", "error", err)
		}
	}()

	log.Info("agentsched running", "config", configPath, "db", cfg.Scheduler.DBPath)
	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return sched.Shutdown(stopCtx)
}

// scheduleConfigTasks attaches the trigger of each seeded task that carries
// one, unless a restored schedule already covers it.
func scheduleConfigTasks(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, st *store.SQLiteStore, log *slog.Logger) {
	for _, tc := range cfg.Tasks {
		if tc.Schedule == "" {
			continue
		}
		if _, err := st.GetSchedule(ctx, tc.ID); err == nil {
			continue // restored from a previous run
		}
		if err := sched.ScheduleTask(ctx, tc.ID, tc.Schedule); err != nil {
			log.Error("failed to schedule config task",
				"task_id", tc.ID, "spec", tc.Schedule, "error", err)
		}
	}
}

// logUpcoming prints the next fire of every live schedule at startup.
func logUpcoming(ctx context.Context, sched *scheduler.Scheduler, log *slog.Logger) {
	upcoming, err := sched.UpcomingSchedules(ctx, 0)
	if err != nil {
		log.Warn("could not list upcoming schedules", "error", err)
		return
	}
	for _, st := range upcoming {
		log.Info("upcoming schedule",
			"task_id", st.TaskID, "trigger", st.Human, "next_run", st.NextRun)
	}
}
