package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"agentsched/internal/domain"
	"agentsched/internal/infra/tracer"
)

// onFire is the timer callback for a scheduled task. It acquires the task's
// mutual-exclusion slot, records the run, resets the task's execution
// fields, hands the task to the executor, and records the outcome. Every
// error here is contained: nothing propagates back into the timer.
func (s *Scheduler) onFire(ctx context.Context, taskID string) {
	ctx, span := tracer.StartSpan(ctx, "scheduler.fire",
		trace.WithAttributes(tracer.StringAttr("task_id", taskID)),
	)
	defer span.End()

	task, err := s.registry.Get(ctx, taskID)
	if err != nil {
		// Stale schedule: the task was deleted out from under it. The next
		// restart prunes the row; firing just logs.
		s.logger.Error("fired for unknown task", "task_id", taskID, "error", err)
		tracer.RecordError(span, err)
		return
	}

	s.mu.Lock()
	if _, busy := s.runningTasks[taskID]; busy {
		s.mu.Unlock()
		s.logger.Warn("task still running, skipping overlapping fire", "task_id", taskID)
		return
	}
	s.runningTasks[taskID] = struct{}{}
	s.mu.Unlock()

	// The slot is released on every path out, including a panicking
	// executor (the timer recovers the panic, this defer still runs).
	defer func() {
		s.mu.Lock()
		delete(s.runningTasks, taskID)
		s.mu.Unlock()
		s.refreshNextRun(context.WithoutCancel(ctx), taskID)
	}()

	start := s.timer.Now()
	run := &domain.TaskRun{TaskID: taskID, Status: domain.RunRunning, StartTime: start}
	if _, err := s.store.LogTaskRun(ctx, run); err != nil {
		// Degraded mode: the run proceeds but this attempt is missing from
		// history.
		s.logger.Error("failed to log task run", "task_id", taskID, "error", err)
	}

	if err := s.registry.Update(ctx, taskID, func(t *domain.Task) {
		t.Status = domain.TaskPending
		t.Progress = 0
		t.Result = ""
		t.Error = ""
	}); err != nil {
		s.logger.Warn("failed to reset task state", "task_id", taskID, "error", err)
	}

	s.logger.Info("task execution started", "task_id", taskID, "start_time", start)
	s.notify(domain.Event{
		Type:   domain.EventTaskStarted,
		TaskID: taskID,
		Task:   s.taskSnapshot(ctx, taskID),
		Run:    run,
	})

	if err := s.registry.Update(ctx, taskID, func(t *domain.Task) {
		t.Status = domain.TaskRunning
	}); err != nil {
		s.logger.Warn("failed to mark task running", "task_id", taskID, "error", err)
	}

	result, execErr := s.executor.Execute(ctx, task)
	end := s.timer.Now()

	// Terminal bookkeeping must land even when the fire context was
	// cancelled mid-run, or the row stays open as "running" forever.
	ctx = context.WithoutCancel(ctx)

	if execErr != nil {
		s.finishRun(ctx, run, domain.RunFailed, end, execErr.Error())
		if err := s.registry.Update(ctx, taskID, func(t *domain.Task) {
			t.Status = domain.TaskFailed
			t.Error = execErr.Error()
		}); err != nil {
			s.logger.Warn("failed to record task failure", "task_id", taskID, "error", err)
		}
		s.logger.Error("task execution failed",
			"task_id", taskID, "duration", end.Sub(start), "error", execErr)
		tracer.RecordError(span, execErr)
		s.notify(domain.Event{
			Type:   domain.EventTaskError,
			TaskID: taskID,
			Task:   s.taskSnapshot(ctx, taskID),
			Run:    run,
			Detail: execErr.Error(),
		})
		return
	}

	s.finishRun(ctx, run, domain.RunCompleted, end, "")
	if err := s.registry.Update(ctx, taskID, func(t *domain.Task) {
		t.Status = domain.TaskCompleted
		t.Progress = 100
		t.Result = result
	}); err != nil {
		s.logger.Warn("failed to record task result", "task_id", taskID, "error", err)
	}
	s.logger.Info("task execution completed", "task_id", taskID, "duration", end.Sub(start))
	s.notify(domain.Event{
		Type:   domain.EventTaskFinished,
		TaskID: taskID,
		Task:   s.taskSnapshot(ctx, taskID),
		Run:    run,
	})
}

// finishRun closes the run row opened at fire time and keeps the in-memory
// run value consistent with what was stored, so event payloads carry the
// terminal state.
func (s *Scheduler) finishRun(ctx context.Context, run *domain.TaskRun, status domain.RunStatus, end time.Time, errMsg string) {
	run.Status = status
	run.EndTime = &end
	run.Error = errMsg
	if run.ID == 0 {
		return // the opening insert already failed
	}
	if err := s.store.FinishTaskRun(ctx, run.ID, status, end, errMsg); err != nil {
		s.logger.Error("failed to finish task run",
			"task_id", run.TaskID, "run_id", run.ID, "error", err)
	}
}

// refreshNextRun re-mirrors the timer's next fire instant onto the task
// after a run. An exhausted one-shot clears the mirror; its schedule row
// stays until cancelled or pruned at restart.
func (s *Scheduler) refreshNextRun(ctx context.Context, taskID string) {
	s.mu.Lock()
	jobID, ok := s.scheduledTasks[taskID]
	s.mu.Unlock()
	if !ok {
		return
	}

	var nextRun *time.Time
	if next, ok := s.timer.NextRun(jobID); ok {
		nextRun = &next
	}
	if err := s.registry.Update(ctx, taskID, func(t *domain.Task) {
		t.NextRun = nextRun
	}); err != nil {
		s.logger.Debug("failed to refresh next run mirror", "task_id", taskID, "error", err)
	}
}
