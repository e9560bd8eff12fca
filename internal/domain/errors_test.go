package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapOp(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}

	err := WrapOp("store.SaveSchedule", ErrStore)
	if !errors.Is(err, ErrStore) {
		t.Error("wrapped error lost its sentinel")
	}
	if got := err.Error(); got != "store.SaveSchedule: store operation failed" {
		t.Errorf("message = %q", got)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("scheduler.ScheduleTask", ErrTaskNotFound, "t1")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Error("DomainError does not unwrap to its sentinel")
	}
	if got := err.Error(); got != "scheduler.ScheduleTask: t1: task not found" {
		t.Errorf("message = %q", got)
	}

	bare := NewDomainError("op", ErrStore, "")
	if got := bare.Error(); got != "op: store operation failed" {
		t.Errorf("message without detail = %q", got)
	}
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{ErrTaskNotFound, CodeTaskNotFound},
		{ErrInvalidTrigger, CodeInvalidTrigger},
		{NewDomainError("op", ErrScheduleNotFound, "x"), CodeScheduleNotFound},
		{fmt.Errorf("outer: %w", ErrExecutorBusy), CodeExecutorBusy},
		{WrapOp("op", WrapOp("inner", ErrMigration)), CodeMigration},
		{errors.New("unrelated"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, tt := range tests {
		if got := ErrorCodeOf(tt.err); got != tt.want {
			t.Errorf("ErrorCodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestDomainErrorCode(t *testing.T) {
	de := NewDomainError("op", ErrSchedulerStopped, "")
	if got := de.Code(); got != CodeSchedulerStopped {
		t.Errorf("Code() = %q", got)
	}
	unknown := NewDomainError("op", errors.New("raw"), "")
	if got := unknown.Code(); got != CodeUnknown {
		t.Errorf("Code() for unmapped error = %q", got)
	}
}
