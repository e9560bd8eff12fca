package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"agentsched/internal/domain"
)

// Build converts a trigger descriptor into a cron.Schedule for the timer.
// Interval grids anchor at ref: fires land on ref+every, ref+2*every, and
// so on. Next implementations are pure, so callers may pre-compute run
// times without consuming anything.
func Build(t domain.Trigger, ref time.Time) (cron.Schedule, error) {
	switch t.Kind {
	case domain.TriggerCron:
		sched, err := cronParser.Parse(t.Cron)
		if err != nil {
			return nil, domain.NewDomainError("trigger.Build", domain.ErrInvalidTrigger,
				fmt.Sprintf("cron expression %q: %v", t.Cron, err))
		}
		return sched, nil
	case domain.TriggerInterval:
		if t.Every <= 0 {
			return nil, domain.NewDomainError("trigger.Build", domain.ErrInvalidTrigger,
				"interval must be positive")
		}
		return &intervalSchedule{anchor: ref, every: t.Every}, nil
	case domain.TriggerDate:
		return &onceSchedule{at: t.At}, nil
	}
	return nil, domain.NewDomainError("trigger.Build", domain.ErrInvalidTrigger,
		fmt.Sprintf("unknown trigger kind %q", t.Kind))
}

// intervalSchedule fires on a fixed grid anchored at creation. Next returns
// the first grid point strictly after t, so a stalled timer coalesces
// missed points instead of firing them in a burst.
type intervalSchedule struct {
	anchor time.Time
	every  time.Duration
}

func (s *intervalSchedule) Next(t time.Time) time.Time {
	if t.Before(s.anchor) {
		return s.anchor.Add(s.every)
	}
	elapsed := int64(t.Sub(s.anchor) / s.every)
	return s.anchor.Add(time.Duration(elapsed+1) * s.every)
}

// onceSchedule fires a single time at a fixed instant, then reports the
// zero time forever. The timer removes entries whose Next is zero.
type onceSchedule struct {
	at time.Time
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}
