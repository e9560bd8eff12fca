// Package timer wraps the cron runtime with named entries, a misfire grace
// window, and a per-entry concurrency ceiling. It knows nothing about tasks
// or persistence; callers hand it a schedule and a callback.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"agentsched/internal/domain"
)

const (
	defaultMaxConcurrent = 3
	defaultMisfireGrace  = time.Minute
)

// Engine runs schedules and dispatches their callbacks. Entries are keyed
// by caller-chosen job ids so they can be replaced and removed by name.
type Engine struct {
	cron    *cron.Cron
	entries map[string]*entry
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc

	maxConcurrent int
	misfireGrace  time.Duration
	location      *time.Location
}

type entry struct {
	id       cron.EntryID
	oneShot  bool
	inFlight atomic.Int32
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the timezone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.location = loc }
}

// WithMaxConcurrent caps how many fires of one entry may run at once.
func WithMaxConcurrent(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrent = n
		}
	}
}

// WithMisfireGrace sets how far behind its scheduled instant a fire may run
// before it is dropped. Zero disables the check.
func WithMisfireGrace(d time.Duration) Option {
	return func(e *Engine) { e.misfireGrace = d }
}

// New creates a stopped engine. Call Start before adding time-sensitive work.
func New(logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		entries:       make(map[string]*entry),
		logger:        logger,
		maxConcurrent: defaultMaxConcurrent,
		misfireGrace:  defaultMisfireGrace,
		location:      time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cron = cron.New(cron.WithLocation(e.location))
	return e
}

// Location returns the timezone the engine evaluates schedules in.
func (e *Engine) Location() *time.Location { return e.location }

// Now returns the current time in the engine's location.
func (e *Engine) Now() time.Time { return time.Now().In(e.location) }

// Start begins dispatching fires. The fire context is owned by the engine
// lifecycle, not by ctx: cancelling ctx (say, on SIGTERM) must not abort an
// execution that is already in flight, only Stop decides when fires are cut
// loose. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return
	}
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.cron.Start()
	e.started = true
	e.stopped = false
}

// Stop prevents new fires, then waits for in-flight callbacks, bounded by
// ctx. The fire context is cancelled only after the wait: callbacks that
// finish within the bound never see a cancellation, stragglers are cut
// loose when ctx expires. Entries stay registered but no longer fire.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.ctx = nil
	e.cancel = nil
	e.started = false
	e.stopped = true
	e.mu.Unlock()

	done := e.cron.Stop()
	select {
	case <-done.Done():
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		return domain.WrapOp("timer.Stop", ctx.Err())
	}
}

// Add registers a schedule under jobID. An existing entry with the same id
// is replaced. oneShot entries remove themselves after their single fire.
func (e *Engine) Add(jobID string, sched cron.Schedule, run func(ctx context.Context), oneShot bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return domain.WrapOp("timer.Add", domain.ErrSchedulerStopped)
	}
	if old, ok := e.entries[jobID]; ok {
		e.cron.Remove(old.id)
		delete(e.entries, jobID)
	}

	ent := &entry{oneShot: oneShot}
	ent.id = e.cron.Schedule(sched, e.wrap(jobID, ent, run))
	e.entries[jobID] = ent

	e.logger.Debug("timer entry added", "job_id", jobID, "one_shot", oneShot)
	return nil
}

// Remove drops the entry under jobID. Unknown ids are a no-op.
func (e *Engine) Remove(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[jobID]
	if !ok {
		return false
	}
	e.cron.Remove(ent.id)
	delete(e.entries, jobID)
	e.logger.Debug("timer entry removed", "job_id", jobID)
	return true
}

// NextRun reports the next fire instant for jobID. ok is false when the id
// is unknown or the entry is exhausted.
func (e *Engine) NextRun(jobID string) (time.Time, bool) {
	e.mu.Lock()
	ent, ok := e.entries[jobID]
	e.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	ce := e.cron.Entry(ent.id)
	if ce.ID == 0 || ce.Next.IsZero() {
		return time.Time{}, false
	}
	return ce.Next, true
}

// Entries snapshots the next fire instant of every live entry.
func (e *Engine) Entries() map[string]time.Time {
	e.mu.Lock()
	ids := make(map[string]cron.EntryID, len(e.entries))
	for jobID, ent := range e.entries {
		ids[jobID] = ent.id
	}
	e.mu.Unlock()

	out := make(map[string]time.Time, len(ids))
	for jobID, id := range ids {
		ce := e.cron.Entry(id)
		if ce.ID == 0 || ce.Next.IsZero() {
			continue
		}
		out[jobID] = ce.Next
	}
	return out
}

// wrap builds the cron job body: lifecycle context, misfire drop, per-entry
// concurrency ceiling, one-shot removal, and panic containment.
func (e *Engine) wrap(jobID string, ent *entry, run func(ctx context.Context)) cron.FuncJob {
	return func() {
		e.mu.Lock()
		ctx := e.ctx
		e.mu.Unlock()

		if ctx == nil {
			e.logger.Debug("timer stopped, skipping fire", "job_id", jobID)
			return
		}

		if e.misfireGrace > 0 {
			if sched := e.prevFire(ent.id); !sched.IsZero() {
				if late := time.Since(sched); late > e.misfireGrace {
					e.logger.Warn("fire missed its grace window, dropping",
						"job_id", jobID, "scheduled", sched, "late", late)
					e.retire(jobID, ent)
					return
				}
			}
		}

		if n := ent.inFlight.Add(1); int(n) > e.maxConcurrent {
			ent.inFlight.Add(-1)
			e.logger.Warn("entry at max concurrent fires, skipping",
				"job_id", jobID, "limit", e.maxConcurrent)
			return
		}

		defer func() {
			ent.inFlight.Add(-1)
			if r := recover(); r != nil {
				e.logger.Error("timer callback panicked", "job_id", jobID, "panic", fmt.Sprint(r))
			}
			e.retire(jobID, ent)
		}()

		run(ctx)
	}
}

// prevFire reads the scheduled instant of the fire currently dispatching.
// The cron loop records it before the callback goroutine can observe the
// entry, so this is safe to read from inside the callback.
func (e *Engine) prevFire(id cron.EntryID) time.Time {
	ce := e.cron.Entry(id)
	if ce.ID == 0 {
		return time.Time{}
	}
	return ce.Prev
}

// retire removes a one-shot entry once its single fire has been dispatched
// or dropped.
func (e *Engine) retire(jobID string, ent *entry) {
	if !ent.oneShot {
		return
	}
	e.cron.Remove(ent.id)

	e.mu.Lock()
	if cur, ok := e.entries[jobID]; ok && cur == ent {
		delete(e.entries, jobID)
	}
	e.mu.Unlock()

	e.logger.Debug("one-shot entry retired", "job_id", jobID)
}
