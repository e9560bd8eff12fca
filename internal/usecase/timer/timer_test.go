package timer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"agentsched/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedDelay fires repeatedly at a constant interval from the last fire.
type fixedDelay time.Duration

func (d fixedDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

// staleOnce reports a fixed instant exactly once, then goes quiet. With a
// past instant it makes the cron loop dispatch one immediate, late fire.
type staleOnce struct {
	at   time.Time
	done atomic.Bool
}

func (s *staleOnce) Next(time.Time) time.Time {
	if s.done.Swap(true) {
		return time.Time{}
	}
	return s.at
}

func TestEngineStartStop(t *testing.T) {
	e := New(newTestLogger())
	e.Start(context.Background())
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestEngineFires(t *testing.T) {
	var count atomic.Int32
	e := New(newTestLogger())
	if err := e.Add("job-1", fixedDelay(30*time.Millisecond), func(ctx context.Context) {
		count.Add(1)
	}, false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	e.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	e.Stop(context.Background())

	if c := count.Load(); c < 1 {
		t.Errorf("fired %d times, expected at least 1", c)
	}
}

func TestEngineOneShotRetires(t *testing.T) {
	var count atomic.Int32
	e := New(newTestLogger())
	if err := e.Add("once", fixedDelay(30*time.Millisecond), func(ctx context.Context) {
		count.Add(1)
	}, true); err != nil {
		t.Fatalf("Add: %v", err)
	}

	e.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	e.Stop(context.Background())

	if c := count.Load(); c != 1 {
		t.Errorf("one-shot fired %d times, want exactly 1", c)
	}
	if _, ok := e.NextRun("once"); ok {
		t.Error("retired one-shot still reports a next run")
	}
}

func TestEngineReplaceExisting(t *testing.T) {
	var first, second atomic.Int32
	e := New(newTestLogger())

	if err := e.Add("job", fixedDelay(30*time.Millisecond), func(ctx context.Context) {
		first.Add(1)
	}, false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := e.Add("job", fixedDelay(30*time.Millisecond), func(ctx context.Context) {
		second.Add(1)
	}, false); err != nil {
		t.Fatalf("Add replace: %v", err)
	}

	e.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	e.Stop(context.Background())

	if first.Load() != 0 {
		t.Errorf("replaced entry fired %d times", first.Load())
	}
	if second.Load() < 1 {
		t.Error("replacement entry never fired")
	}
}

func TestEngineRemove(t *testing.T) {
	var count atomic.Int32
	e := New(newTestLogger())
	e.Add("gone", fixedDelay(30*time.Millisecond), func(ctx context.Context) {
		count.Add(1)
	}, false)

	if !e.Remove("gone") {
		t.Fatal("Remove returned false for a known entry")
	}
	if e.Remove("gone") {
		t.Error("Remove returned true for an already-removed entry")
	}

	e.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	e.Stop(context.Background())

	if count.Load() != 0 {
		t.Errorf("removed entry fired %d times", count.Load())
	}
}

func TestEngineAddAfterStop(t *testing.T) {
	e := New(newTestLogger())
	e.Start(context.Background())
	e.Stop(context.Background())

	err := e.Add("late", fixedDelay(time.Hour), func(ctx context.Context) {}, false)
	if !errors.Is(err, domain.ErrSchedulerStopped) {
		t.Errorf("Add after Stop = %v, want ErrSchedulerStopped", err)
	}
}

func TestEngineNextRun(t *testing.T) {
	e := New(newTestLogger())
	e.Add("hourly", fixedDelay(time.Hour), func(ctx context.Context) {}, false)
	e.Start(context.Background())
	defer e.Stop(context.Background())

	next, ok := e.NextRun("hourly")
	if !ok {
		t.Fatal("NextRun not ok for live entry")
	}
	if until := time.Until(next); until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("next run %v away, want about an hour", until)
	}

	if _, ok := e.NextRun("unknown"); ok {
		t.Error("NextRun ok for unknown id")
	}
}

func TestEngineEntries(t *testing.T) {
	e := New(newTestLogger())
	e.Add("a", fixedDelay(time.Hour), func(ctx context.Context) {}, false)
	e.Add("b", fixedDelay(2*time.Hour), func(ctx context.Context) {}, false)
	e.Start(context.Background())
	defer e.Stop(context.Background())

	entries := e.Entries()
	if len(entries) != 2 {
		t.Fatalf("Entries returned %d, want 2", len(entries))
	}
	if _, ok := entries["a"]; !ok {
		t.Error("entry a missing from snapshot")
	}
}

func TestEngineMaxConcurrent(t *testing.T) {
	var inFlight, peak atomic.Int32
	e := New(newTestLogger(), WithMaxConcurrent(1))
	e.Add("slow", fixedDelay(20*time.Millisecond), func(ctx context.Context) {
		n := inFlight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(150 * time.Millisecond)
		inFlight.Add(-1)
	}, false)

	e.Start(context.Background())
	time.Sleep(250 * time.Millisecond)
	e.Stop(context.Background())

	if p := peak.Load(); p > 1 {
		t.Errorf("peak concurrency %d, want 1", p)
	}
}

func TestEngineMisfireDropped(t *testing.T) {
	var count atomic.Int32
	e := New(newTestLogger(), WithMisfireGrace(50*time.Millisecond))
	e.Add("stale", &staleOnce{at: time.Now().Add(-time.Second)}, func(ctx context.Context) {
		count.Add(1)
	}, false)

	e.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	e.Stop(context.Background())

	if c := count.Load(); c != 0 {
		t.Errorf("late fire ran %d times, want drop", c)
	}
}

func TestEngineFreshFireWithinGrace(t *testing.T) {
	var count atomic.Int32
	e := New(newTestLogger(), WithMisfireGrace(time.Minute))
	e.Add("fresh", &staleOnce{at: time.Now()}, func(ctx context.Context) {
		count.Add(1)
	}, false)

	e.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	e.Stop(context.Background())

	if c := count.Load(); c != 1 {
		t.Errorf("fresh fire ran %d times, want 1", c)
	}
}

func TestEnginePanicContained(t *testing.T) {
	var after atomic.Int32
	e := New(newTestLogger())
	e.Add("bad", fixedDelay(30*time.Millisecond), func(ctx context.Context) {
		panic("boom")
	}, false)
	e.Add("good", fixedDelay(30*time.Millisecond), func(ctx context.Context) {
		after.Add(1)
	}, false)

	e.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	e.Stop(context.Background())

	if after.Load() < 1 {
		t.Error("panicking sibling stopped other entries from firing")
	}
}

func TestEngineStopWaitsBeforeCancel(t *testing.T) {
	var sawCancel atomic.Bool
	e := New(newTestLogger())
	e.Add("slow", fixedDelay(20*time.Millisecond), func(ctx context.Context) {
		time.Sleep(100 * time.Millisecond)
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
	}, false)

	e.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if sawCancel.Load() {
		t.Error("callback saw a cancelled context while Stop was still waiting for it")
	}
}

func TestEngineFireContextOutlivesStartContext(t *testing.T) {
	var sawCancel, fired atomic.Bool
	e := New(newTestLogger())
	e.Add("job", fixedDelay(30*time.Millisecond), func(ctx context.Context) {
		fired.Store(true)
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
	}, false)

	parent, cancel := context.WithCancel(context.Background())
	e.Start(parent)
	cancel() // simulates the signal context firing at shutdown
	time.Sleep(120 * time.Millisecond)
	e.Stop(context.Background())

	if !fired.Load() {
		t.Fatal("entry never fired after the parent context was cancelled")
	}
	if sawCancel.Load() {
		t.Error("parent cancellation leaked into the fire context")
	}
}

func TestEngineStopContextHonored(t *testing.T) {
	e := New(newTestLogger())
	release := make(chan struct{})
	e.Add("hang", fixedDelay(20*time.Millisecond), func(ctx context.Context) {
		<-release
	}, false)

	e.Start(context.Background())
	time.Sleep(60 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.Stop(ctx)
	close(release)

	if err == nil {
		t.Error("Stop returned nil while a callback was still running")
	}
}
