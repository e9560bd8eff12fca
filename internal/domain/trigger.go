package domain

import "time"

// TriggerKind discriminates the trigger union.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerDate     TriggerKind = "date"
)

// Trigger is a parsed schedule specification. Exactly one of the
// kind-specific fields is meaningful, selected by Kind. Spec keeps the
// canonical source string so a trigger survives a persist/parse round trip.
type Trigger struct {
	Kind  TriggerKind
	Spec  string        // e.g. "cron:0 9 * * 1-5", "every 2h", "at:2026-01-15T09:30:00"
	Cron  string        // 5-field expression when Kind == TriggerCron
	Every time.Duration // interval when Kind == TriggerInterval
	At    time.Time     // target instant when Kind == TriggerDate
}
