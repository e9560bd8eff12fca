package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the scheduler domain.
var (
	ErrTaskNotFound     = fmt.Errorf("task not found")
	ErrScheduleNotFound = fmt.Errorf("schedule not found")
	ErrInvalidTrigger   = fmt.Errorf("invalid trigger spec")
	ErrSchedulerStopped = fmt.Errorf("scheduler stopped")
	ErrExecutorBusy     = fmt.Errorf("executor unavailable")
	ErrStore            = fmt.Errorf("store operation failed")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrMigration        = fmt.Errorf("legacy migration failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Scheduler.ScheduleTask")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

// Every sentinel error maps to exactly one code.
const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeTaskNotFound     ErrorCode = "TASK_NOT_FOUND"
	CodeScheduleNotFound ErrorCode = "SCHEDULE_NOT_FOUND"
	CodeInvalidTrigger   ErrorCode = "INVALID_TRIGGER"
	CodeSchedulerStopped ErrorCode = "SCHEDULER_STOPPED"
	CodeExecutorBusy     ErrorCode = "EXECUTOR_BUSY"
	CodeStore            ErrorCode = "STORE"
	CodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	CodeMigration        ErrorCode = "MIGRATION"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrTaskNotFound:     CodeTaskNotFound,
	ErrScheduleNotFound: CodeScheduleNotFound,
	ErrInvalidTrigger:   CodeInvalidTrigger,
	ErrSchedulerStopped: CodeSchedulerStopped,
	ErrExecutorBusy:     CodeExecutorBusy,
	ErrStore:            CodeStore,
	ErrConfigLoad:       CodeConfigLoad,
	ErrMigration:        CodeMigration,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
