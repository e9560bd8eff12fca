package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"agentsched/internal/domain"
)

// scriptedExecutor fails a fixed number of times, then succeeds.
type scriptedExecutor struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (e *scriptedExecutor) Execute(context.Context, *domain.Task) (string, error) {
	e.calls.Add(1)
	if e.failures.Add(-1) >= 0 {
		return "", fmt.Errorf("work failed")
	}
	return "ok", nil
}

func TestBreakerPassesThrough(t *testing.T) {
	inner := &scriptedExecutor{}
	b := NewBreaker(inner, BreakerConfig{MaxFailures: 2}, newTestLogger())

	out, err := b.Execute(context.Background(), &domain.Task{ID: "t1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "ok" {
		t.Errorf("result = %q", out)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &scriptedExecutor{}
	inner.failures.Store(100)
	b := NewBreaker(inner, BreakerConfig{MaxFailures: 2, Timeout: time.Minute}, newTestLogger())
	ctx := context.Background()
	task := &domain.Task{ID: "t1"}

	for i := 0; i < 2; i++ {
		if _, err := b.Execute(ctx, task); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}

	_, err := b.Execute(ctx, task)
	if !errors.Is(err, domain.ErrExecutorBusy) {
		t.Fatalf("want ErrExecutorBusy once open, got %v", err)
	}
	if calls := inner.calls.Load(); calls != 2 {
		t.Errorf("inner executor called %d times, want 2 (open circuit must not spawn work)", calls)
	}
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	inner := &scriptedExecutor{}
	inner.failures.Store(2)
	b := NewBreaker(inner, BreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond}, newTestLogger())
	ctx := context.Background()
	task := &domain.Task{ID: "t1"}

	b.Execute(ctx, task)
	b.Execute(ctx, task)
	if _, err := b.Execute(ctx, task); !errors.Is(err, domain.ErrExecutorBusy) {
		t.Fatalf("circuit should be open, got %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	out, err := b.Execute(ctx, task)
	if err != nil {
		t.Fatalf("half-open probe should succeed: %v", err)
	}
	if out != "ok" {
		t.Errorf("result = %q", out)
	}
}
