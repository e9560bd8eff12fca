package domain

import "time"

// EventType identifies the kind of scheduler event being delivered.
type EventType string

const (
	EventScheduleUpdate  EventType = "schedule_update"
	EventScheduleRemoved EventType = "schedule_removed"
	EventTaskStarted     EventType = "task_started"
	EventTaskFinished    EventType = "task_finished"
	EventTaskError       EventType = "task_error"
)

// Event is the envelope delivered to scheduler listeners. Type-specific
// payloads ride along: schedule_update and schedule_removed carry Schedule,
// task_started/task_finished/task_error carry Run.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	Task      *Task     `json:"task,omitempty"`     // snapshot at emission; nil when the task is gone
	Schedule  *Schedule `json:"schedule,omitempty"` // job id, type, raw spec, next run
	Run       *TaskRun  `json:"run,omitempty"`      // status, timestamps, error
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"` // human-readable text; error text for task_error
}

// Listener receives scheduler events. Listeners are invoked synchronously on
// the emitting goroutine; a panicking listener is logged and contained, it
// never aborts the operation that emitted the event.
type Listener func(Event)
