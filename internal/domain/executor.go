package domain

import "context"

// Executor performs the actual work of a task when its trigger fires.
// Execute blocks until the run completes and returns the run's result text;
// the scheduler calls it from the timer's fire goroutine, never under its
// own lock.
type Executor interface {
	Execute(ctx context.Context, task *Task) (string, error)
}
