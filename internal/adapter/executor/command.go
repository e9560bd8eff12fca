// Package executor runs scheduled tasks as host commands and provides a
// circuit-breaker decorator for flaky workloads.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"agentsched/internal/domain"
)

const (
	defaultCommandTimeout = 10 * time.Minute

	// maxOutputBytes caps captured command output so a chatty task cannot
	// balloon run records.
	maxOutputBytes = 64 * 1024

	// runDirective marks the command line inside a task description when
	// the task carries no explicit command.
	runDirective = "run:"
)

// Command executes a task's command line through the shell, bounded by a
// timeout. It implements domain.Executor.
type Command struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommand builds a command executor. A non-positive timeout falls back
// to the default.
func NewCommand(timeout time.Duration, logger *slog.Logger) *Command {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Command{timeout: timeout, logger: logger}
}

// Execute runs the task's command and returns its combined output. A task
// without a command fails the run; the scheduler records the failure and
// keeps going.
func (c *Command) Execute(ctx context.Context, task *domain.Task) (string, error) {
	cmdline := commandLine(task)
	if cmdline == "" {
		return "", fmt.Errorf("task %s has no command to run", task.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	out := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	c.logger.Debug("running task command", "task_id", task.ID, "command", cmdline)
	err := cmd.Run()

	output := strings.TrimSpace(out.String())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return output, fmt.Errorf("command timed out after %s", c.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, fmt.Errorf("command exited with code %d: %s",
				exitErr.ExitCode(), outputTail(output))
		}
		return output, fmt.Errorf("command failed to start: %w", err)
	}
	return output, nil
}

// commandLine picks the command for a task: the explicit Command field, or
// a "run:" directive line inside the description.
func commandLine(task *domain.Task) string {
	if task.Command != "" {
		return task.Command
	}
	for _, line := range strings.Split(task.Description, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, runDirective); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// outputTail keeps error messages readable when a command dumps a lot
// before failing.
func outputTail(out string) string {
	const tail = 256
	if len(out) <= tail {
		return out
	}
	return "... " + out[len(out)-tail:]
}

// cappedBuffer discards writes beyond its limit, keeping the head of the
// output.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	// Report the full length so the command never sees a short write.
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }

var _ domain.Executor = (*Command)(nil)
