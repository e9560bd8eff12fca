// Package scheduler is the coordination core: it attaches triggers to tasks,
// fires them through the executor, guards against overlapping runs of the
// same task, persists schedules across restarts, and keeps run history
// within a retention window.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"agentsched/internal/domain"
	"agentsched/internal/infra/tracer"
	"agentsched/internal/usecase/timer"
	"agentsched/internal/usecase/trigger"
)

const (
	defaultRetentionDays = 30
	defaultRunsLimit     = 10

	// cleanupJobID names the engine's own daily retention sweep entry.
	cleanupJobID = "task_history_cleanup"
)

// Options tune engine behavior beyond its collaborators.
type Options struct {
	// RetentionDays is how long task run history is kept. Default 30.
	RetentionDays int
	// CleanupHour is the wall-clock hour (0-23, engine location) of the
	// daily retention sweep. Default 0 (midnight).
	CleanupHour int
}

// Scheduler owns the task_id -> job mapping, the per-task mutual exclusion
// set, and the listener registry. API calls and timer callbacks touch all
// three concurrently; mu serializes that access and is never held across an
// executor invocation or a store call made from a fire.
type Scheduler struct {
	registry domain.Registry
	store    domain.ScheduleStore
	timer    *timer.Engine
	executor domain.Executor
	logger   *slog.Logger

	cleanupHour int
	retention   atomic.Int64 // days

	// admin serializes ScheduleTask/CancelTask with each other so a
	// reschedule's timer swap and row upsert change together. Fires never
	// take it; they only contend on mu, which is held for map access alone.
	admin sync.Mutex

	mu             sync.Mutex
	scheduledTasks map[string]string   // task_id -> job_id
	runningTasks   map[string]struct{} // mutual exclusion, one slot per task
	started        bool

	// Listeners live under their own lock so events can be delivered while
	// mu is free and a listener can call back into the scheduler.
	lmu          sync.Mutex
	listeners    map[int]domain.Listener
	nextListener int
}

// New wires a Scheduler to its collaborators. Call Start to reload persisted
// schedules and begin firing.
func New(registry domain.Registry, store domain.ScheduleStore, tm *timer.Engine, executor domain.Executor, logger *slog.Logger, opts Options) *Scheduler {
	s := &Scheduler{
		registry:       registry,
		store:          store,
		timer:          tm,
		executor:       executor,
		logger:         logger,
		cleanupHour:    opts.CleanupHour,
		scheduledTasks: make(map[string]string),
		runningTasks:   make(map[string]struct{}),
		listeners:      make(map[int]domain.Listener),
	}
	days := opts.RetentionDays
	if days < 1 {
		days = defaultRetentionDays
	}
	s.retention.Store(int64(days))
	return s
}

// Start reloads persisted schedules, installs the daily retention sweep, and
// starts the timer. Calling Start on a started engine is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return domain.WrapOp("scheduler.Start", fmt.Errorf("already started"))
	}
	s.started = true
	s.mu.Unlock()

	if err := s.reload(ctx); err != nil {
		return err
	}
	if err := s.scheduleCleanup(); err != nil {
		return err
	}
	s.timer.Start(ctx)
	s.logger.Info("scheduler started", "cleanup_hour", s.cleanupHour, "retention_days", s.retention.Load())
	return nil
}

// Shutdown stops the timer, waiting for in-flight runs until ctx expires.
// Executions already handed to the executor are not cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	err := s.timer.Stop(ctx)
	s.logger.Info("scheduler stopped")
	return err
}

// ScheduleTask attaches a trigger to a registered task, replacing any
// schedule the task already has. The schedule is persisted, the task's
// Schedule/NextRun mirrors are refreshed, and a schedule_update event is
// emitted. A parse failure or unknown task leaves no trace.
func (s *Scheduler) ScheduleTask(ctx context.Context, taskID, spec string) error {
	ctx, span := tracer.StartSpan(ctx, "scheduler.schedule",
		trace.WithAttributes(tracer.StringAttr("task_id", taskID)),
	)
	defer span.End()

	if !s.registry.Exists(ctx, taskID) {
		err := domain.NewDomainError("scheduler.ScheduleTask", domain.ErrTaskNotFound, taskID)
		s.logger.Error("cannot schedule unknown task", "task_id", taskID)
		tracer.RecordError(span, err)
		return err
	}

	now := s.timer.Now()
	trg, err := trigger.Parse(spec, now)
	if err != nil {
		s.logger.Error("invalid schedule spec", "task_id", taskID, "spec", spec, "error", err)
		tracer.RecordError(span, err)
		return err
	}

	sched, err := trigger.Build(trg, now)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}

	// admin is released before the mirrors and the event so listeners may
	// call back into the scheduler.
	s.admin.Lock()

	// Replace-on-reschedule: the old timer entry goes away before the new
	// one is registered under a fresh job id. The tracking map is updated
	// in two short critical sections so mu is never held across the timer
	// or the store.
	s.mu.Lock()
	oldJob, hadOld := s.scheduledTasks[taskID]
	delete(s.scheduledTasks, taskID)
	s.mu.Unlock()
	if hadOld {
		s.timer.Remove(oldJob)
	}

	jobID := s.newJobID(taskID)
	oneShot := trg.Kind == domain.TriggerDate
	if err := s.timer.Add(jobID, sched, func(fireCtx context.Context) {
		s.onFire(fireCtx, taskID)
	}, oneShot); err != nil {
		s.admin.Unlock()
		tracer.RecordError(span, err)
		return domain.WrapOp("scheduler.ScheduleTask", err)
	}

	var nextRun *time.Time
	if next := sched.Next(now); !next.IsZero() {
		nextRun = &next
	}

	row := &domain.Schedule{
		TaskID:  taskID,
		JobID:   jobID,
		Type:    trigger.TypeOf(trg),
		Value:   trg.Spec,
		NextRun: nextRun,
	}
	if err := s.store.SaveSchedule(ctx, row); err != nil {
		// Roll the timer entry back rather than leave an orphaned job that
		// would not survive a restart.
		s.timer.Remove(jobID)
		s.admin.Unlock()
		s.logger.Error("failed to persist schedule", "task_id", taskID, "error", err)
		tracer.RecordError(span, err)
		return err
	}

	s.mu.Lock()
	s.scheduledTasks[taskID] = jobID
	s.mu.Unlock()
	s.admin.Unlock()

	human := trigger.Describe(trg)
	if err := s.registry.Update(ctx, taskID, func(t *domain.Task) {
		t.Schedule = human
		t.NextRun = nextRun
	}); err != nil {
		s.logger.Warn("failed to mirror schedule onto task", "task_id", taskID, "error", err)
	}

	s.logger.Info("task scheduled",
		"task_id", taskID, "job_id", jobID, "spec", trg.Spec, "next_run", nextRun)
	s.notify(domain.Event{
		Type:     domain.EventScheduleUpdate,
		TaskID:   taskID,
		Task:     s.taskSnapshot(ctx, taskID),
		Schedule: row,
		Detail:   human,
	})
	return nil
}

// CancelTask removes a task's schedule: timer entry, persisted row, and the
// task's Schedule/NextRun mirrors. ErrScheduleNotFound when the task has no
// active schedule.
func (s *Scheduler) CancelTask(ctx context.Context, taskID string) error {
	ctx, span := tracer.StartSpan(ctx, "scheduler.cancel",
		trace.WithAttributes(tracer.StringAttr("task_id", taskID)),
	)
	defer span.End()

	s.admin.Lock()

	s.mu.Lock()
	jobID, ok := s.scheduledTasks[taskID]
	delete(s.scheduledTasks, taskID)
	s.mu.Unlock()
	if !ok {
		s.admin.Unlock()
		err := domain.NewDomainError("scheduler.CancelTask", domain.ErrScheduleNotFound, taskID)
		s.logger.Warn("cancel requested for unscheduled task", "task_id", taskID)
		tracer.RecordError(span, err)
		return err
	}

	// A fired one-shot removes its own entry; cancelling it afterwards is
	// still a successful cancel.
	if !s.timer.Remove(jobID) {
		s.logger.Warn("timer entry already gone", "task_id", taskID, "job_id", jobID)
	}

	if err := s.store.DeleteSchedule(ctx, taskID); err != nil {
		s.admin.Unlock()
		s.logger.Error("failed to delete persisted schedule", "task_id", taskID, "error", err)
		tracer.RecordError(span, err)
		return err
	}
	s.admin.Unlock()

	if err := s.registry.Update(ctx, taskID, func(t *domain.Task) {
		t.Schedule = ""
		t.NextRun = nil
	}); err != nil {
		s.logger.Warn("failed to clear task schedule mirror", "task_id", taskID, "error", err)
	}

	s.logger.Info("task schedule cancelled", "task_id", taskID, "job_id", jobID)
	s.notify(domain.Event{
		Type:   domain.EventScheduleRemoved,
		TaskID: taskID,
	})
	return nil
}

// reload re-registers persisted schedules at startup. Rows for unknown tasks
// are skipped and kept; expired one-shots are skipped and kept (creating a
// past-dated one-shot is allowed, re-registering one after a restart is
// not). Everything else goes through the normal ScheduleTask path.
func (s *Scheduler) reload(ctx context.Context) error {
	rows, err := s.store.ListSchedules(ctx)
	if err != nil {
		return domain.WrapOp("scheduler.reload", err)
	}

	now := s.timer.Now()
	restored, skipped := 0, 0
	for _, row := range rows {
		if !s.registry.Exists(ctx, row.TaskID) {
			s.logger.Warn("skipping schedule for unknown task", "task_id", row.TaskID)
			skipped++
			continue
		}
		if row.Type == domain.ScheduleTypeDate && isExpiredOneShot(row.Value, now) {
			s.logger.Warn("skipping expired one-shot schedule",
				"task_id", row.TaskID, "spec", row.Value)
			skipped++
			continue
		}
		if err := s.ScheduleTask(ctx, row.TaskID, row.Value); err != nil {
			s.logger.Warn("failed to restore schedule",
				"task_id", row.TaskID, "spec", row.Value, "error", err)
			skipped++
			continue
		}
		restored++
	}

	s.logger.Info("schedules reloaded", "restored", restored, "skipped", skipped)
	return nil
}

// isExpiredOneShot reports whether a date-type schedule value targets an
// instant that is no longer in the future. Relative "in" specs re-anchor at
// parse time and are never expired.
func isExpiredOneShot(value string, now time.Time) bool {
	trg, err := trigger.Parse(value, now)
	if err != nil {
		return false // let the schedule path surface the parse error
	}
	return trg.Kind == domain.TriggerDate && !trg.At.After(now)
}

// scheduleCleanup installs the daily run-history sweep as a timer entry of
// the engine's own.
func (s *Scheduler) scheduleCleanup() error {
	spec := fmt.Sprintf("cron:0 %d * * *", s.cleanupHour)
	trg, err := trigger.Parse(spec, s.timer.Now())
	if err != nil {
		return domain.WrapOp("scheduler.scheduleCleanup", err)
	}
	sched, err := trigger.Build(trg, s.timer.Now())
	if err != nil {
		return domain.WrapOp("scheduler.scheduleCleanup", err)
	}
	return s.timer.Add(cleanupJobID, sched, func(ctx context.Context) {
		if _, err := s.CleanupNow(ctx); err != nil {
			s.logger.Error("run history cleanup failed", "error", err)
		}
	}, false)
}

// CleanupNow deletes run history older than the retention window and
// returns the number of rows removed.
func (s *Scheduler) CleanupNow(ctx context.Context) (int64, error) {
	days := s.retention.Load()
	deleted, err := s.store.CleanupOldRuns(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return 0, err
	}
	s.logger.Info("cleaned up old task runs", "deleted", deleted, "retention_days", days)
	return deleted, nil
}

// SetRetention adjusts the run-history horizon at runtime. Days below 1 are
// rejected.
func (s *Scheduler) SetRetention(days int) error {
	if days < 1 {
		return domain.WrapOp("scheduler.SetRetention", fmt.Errorf("retention %d days out of range", days))
	}
	old := s.retention.Swap(int64(days))
	if old != int64(days) {
		s.logger.Info("retention window changed", "from_days", old, "to_days", days)
	}
	return nil
}

// newJobID builds a unique timer entry id for a registration. Uniqueness per
// registration (not per task) is what makes replace-on-reschedule safe.
func (s *Scheduler) newJobID(taskID string) string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return fmt.Sprintf("task_%s_%s", taskID, ulid.MustNew(ulid.Timestamp(t), entropy))
}

// taskSnapshot fetches a copy of the task for event payloads; nil when the
// task is gone.
func (s *Scheduler) taskSnapshot(ctx context.Context, taskID string) *domain.Task {
	task, err := s.registry.Get(ctx, taskID)
	if err != nil {
		return nil
	}
	return task
}
