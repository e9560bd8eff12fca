package scheduler

import (
	"context"
	"sort"
	"time"

	"agentsched/internal/domain"
	"agentsched/internal/usecase/trigger"
)

// GetTaskSchedule composes the live timer state with the persisted row for
// one task. ErrScheduleNotFound when the task is untracked, the timer entry
// is gone (a fired one-shot), or the row is missing.
func (s *Scheduler) GetTaskSchedule(ctx context.Context, taskID string) (*domain.ScheduleStatus, error) {
	s.mu.Lock()
	jobID, tracked := s.scheduledTasks[taskID]
	_, running := s.runningTasks[taskID]
	s.mu.Unlock()

	if !tracked {
		return nil, domain.NewDomainError("scheduler.GetTaskSchedule", domain.ErrScheduleNotFound, taskID)
	}

	next, alive := s.timer.NextRun(jobID)
	if !alive {
		return nil, domain.NewDomainError("scheduler.GetTaskSchedule", domain.ErrScheduleNotFound, taskID)
	}

	row, err := s.store.GetSchedule(ctx, taskID)
	if err != nil {
		return nil, err
	}

	status := &domain.ScheduleStatus{
		Schedule: *row,
		Running:  running,
		Human:    trigger.DescribeSpec(row.Value),
	}
	status.NextRun = &next
	if trg, err := trigger.Parse(row.Value, s.timer.Now()); err == nil {
		status.Info = trigger.Info(trg)
	}
	return status, nil
}

// GetAllSchedules composes the same view for every tracked task, silently
// omitting entries whose composition fails. Results are sorted by task id.
func (s *Scheduler) GetAllSchedules(ctx context.Context) ([]*domain.ScheduleStatus, error) {
	s.mu.Lock()
	taskIDs := make([]string, 0, len(s.scheduledTasks))
	for taskID := range s.scheduledTasks {
		taskIDs = append(taskIDs, taskID)
	}
	s.mu.Unlock()
	sort.Strings(taskIDs)

	out := make([]*domain.ScheduleStatus, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		status, err := s.GetTaskSchedule(ctx, taskID)
		if err != nil {
			s.logger.Debug("omitting schedule from listing", "task_id", taskID, "error", err)
			continue
		}
		out = append(out, status)
	}
	return out, nil
}

// UpcomingSchedules returns the tracked schedules that still have a next
// fire, soonest first, at most limit of them. limit <= 0 means all.
func (s *Scheduler) UpcomingSchedules(ctx context.Context, limit int) ([]*domain.ScheduleStatus, error) {
	all, err := s.GetAllSchedules(ctx)
	if err != nil {
		return nil, err
	}

	upcoming := all[:0]
	for _, st := range all {
		if st.NextRun != nil {
			upcoming = append(upcoming, st)
		}
	}
	sort.Slice(upcoming, func(i, j int) bool {
		return upcoming[i].NextRun.Before(*upcoming[j].NextRun)
	})
	if limit > 0 && len(upcoming) > limit {
		upcoming = upcoming[:limit]
	}
	return upcoming, nil
}

// TaskRuns returns the run history for one task, newest first. limit <= 0
// falls back to the default page size.
func (s *Scheduler) TaskRuns(ctx context.Context, taskID string, limit int) ([]*domain.TaskRun, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	return s.store.ListTaskRuns(ctx, taskID, limit)
}

// RecentRuns returns the latest runs across all tasks, newest first.
func (s *Scheduler) RecentRuns(ctx context.Context, limit int) ([]*domain.TaskRun, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	return s.store.ListRecentRuns(ctx, limit)
}

// IsRunning reports whether an execution of taskID is currently in flight.
func (s *Scheduler) IsRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runningTasks[taskID]
	return ok
}

// NextRun reports the live next fire instant for taskID's timer entry.
func (s *Scheduler) NextRun(taskID string) (time.Time, bool) {
	s.mu.Lock()
	jobID, ok := s.scheduledTasks[taskID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.timer.NextRun(jobID)
}
