package domain

import (
	"context"
	"time"
)

// Schedule type values stored in the schedule_type column.
const (
	ScheduleTypeCron     = "cron"
	ScheduleTypeInterval = "interval"
	ScheduleTypeDate     = "date"
	ScheduleTypeUnknown  = "unknown"
)

// Schedule is the persisted trigger attached to a task. TaskID is unique:
// rescheduling a task replaces its row in place.
type Schedule struct {
	ID        int64      `json:"id"`
	TaskID    string     `json:"task_id"`
	JobID     string     `json:"job_id"`
	Type      string     `json:"schedule_type"`
	Value     string     `json:"schedule_value"` // canonical trigger spec string
	CreatedAt time.Time  `json:"created_at"`
	NextRun   *time.Time `json:"next_run_time,omitempty"`
}

// RunStatus tracks the outcome of one task execution.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// TaskRun is one execution attempt in the append-only history.
type TaskRun struct {
	ID        int64      `json:"id"`
	TaskID    string     `json:"task_id"`
	Status    RunStatus  `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ScheduleStatus merges a persisted schedule with live engine state.
// NextRun reflects the timer's view, not the stored column.
type ScheduleStatus struct {
	Schedule
	Running bool           `json:"running"`
	Human   string         `json:"human_readable"`
	Info    map[string]any `json:"trigger_info,omitempty"`
}

// ScheduleStore persists schedules and run history across restarts.
// Implementations must be safe for concurrent use.
type ScheduleStore interface {
	// SaveSchedule upserts by TaskID, replacing the trigger and job id of an
	// existing row while keeping its id and created_at. On insert the
	// store-assigned fields are written back to s.
	SaveSchedule(ctx context.Context, s *Schedule) error
	// GetSchedule returns ErrScheduleNotFound when the task has no schedule.
	GetSchedule(ctx context.Context, taskID string) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]*Schedule, error)
	// DeleteSchedule is idempotent; deleting a missing row is not an error.
	DeleteSchedule(ctx context.Context, taskID string) error

	// LogTaskRun appends a run row and returns its id.
	LogTaskRun(ctx context.Context, run *TaskRun) (int64, error)
	// FinishTaskRun closes the row opened by LogTaskRun.
	FinishTaskRun(ctx context.Context, runID int64, status RunStatus, endTime time.Time, errMsg string) error
	// ListTaskRuns returns up to limit runs for one task, newest first.
	ListTaskRuns(ctx context.Context, taskID string, limit int) ([]*TaskRun, error)
	// ListRecentRuns returns up to limit runs across all tasks, newest first.
	ListRecentRuns(ctx context.Context, limit int) ([]*TaskRun, error)
	// CleanupOldRuns deletes runs started before now-olderThan and returns
	// the number deleted.
	CleanupOldRuns(ctx context.Context, olderThan time.Duration) (int64, error)

	Close() error
}
