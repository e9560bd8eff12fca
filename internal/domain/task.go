package domain

import (
	"context"
	"time"
)

// TaskStatus tracks where a task is in its execution lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is an agent task known to the registry. The scheduler never creates
// tasks; it attaches triggers to existing ones, runs them through the
// executor, and mirrors scheduling state onto Schedule and NextRun.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Command     string     `json:"command,omitempty"` // what the executor runs; opaque to the scheduler
	Status      TaskStatus `json:"status"`
	Progress    int        `json:"progress"` // 0..100
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Schedule    string     `json:"schedule,omitempty"`      // human-readable trigger description
	NextRun     *time.Time `json:"next_run_time,omitempty"` // nil when unscheduled or exhausted
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Registry is the task book the scheduler consults before scheduling and at
// fire time. Implementations must be safe for concurrent use.
type Registry interface {
	// Get returns a copy of the task. ErrTaskNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*Task, error)
	// Exists reports whether a task with the given id is registered.
	Exists(ctx context.Context, id string) bool
	// Update applies fn to the stored task atomically and bumps UpdatedAt.
	// ErrTaskNotFound when the id is unknown.
	Update(ctx context.Context, id string, fn func(*Task)) error
}
