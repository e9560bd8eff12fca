package executor

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"agentsched/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecuteCapturesOutput(t *testing.T) {
	c := NewCommand(time.Minute, newTestLogger())
	out, err := c.Execute(context.Background(), &domain.Task{ID: "t1", Command: "echo hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "hello" {
		t.Errorf("output = %q, want %q", out, "hello")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	c := NewCommand(time.Minute, newTestLogger())
	out, err := c.Execute(context.Background(), &domain.Task{ID: "t1", Command: "echo oops >&2; exit 3"})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "code 3") {
		t.Errorf("error %q does not name the exit code", err)
	}
	if out != "oops" {
		t.Errorf("stderr not captured: %q", out)
	}
}

func TestExecuteRunDirective(t *testing.T) {
	c := NewCommand(time.Minute, newTestLogger())
	task := &domain.Task{
		ID:          "t1",
		Description: "Nightly report.\nrun: echo from-directive\nNotify on failure.",
	}
	out, err := c.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "from-directive" {
		t.Errorf("output = %q", out)
	}
}

func TestExecuteNoCommand(t *testing.T) {
	c := NewCommand(time.Minute, newTestLogger())
	if _, err := c.Execute(context.Background(), &domain.Task{ID: "t1", Description: "no directive here"}); err == nil {
		t.Fatal("expected error for a task without a command")
	}
}

func TestExecuteTimeout(t *testing.T) {
	c := NewCommand(100*time.Millisecond, newTestLogger())
	_, err := c.Execute(context.Background(), &domain.Task{ID: "t1", Command: "sleep 5"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error %q does not mention the timeout", err)
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 8}
	n, err := b.Write([]byte("0123456789"))
	if err != nil || n != 10 {
		t.Fatalf("Write = (%d, %v), want (10, nil)", n, err)
	}
	if got := b.String(); got != "01234567" {
		t.Errorf("buffer = %q, want capped head", got)
	}
	b.Write([]byte("more"))
	if got := b.String(); got != "01234567" {
		t.Errorf("buffer grew past its cap: %q", got)
	}
}
