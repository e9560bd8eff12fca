// Package trigger turns human-authored schedule specifications into trigger
// descriptors and timer schedules. Four grammars are recognized:
//
//	cron:<m> <h> <dom> <mon> <dow>   e.g. "cron:0 9 * * 1-5"
//	every <N><unit>                  unit in {s,m,h,d}, e.g. "every 30m"
//	at:<ISO-8601 instant>            e.g. "at:2026-06-01T00:00:00"
//	in <N><unit>                     e.g. "in 2h"
//
// Parsing is pure: no state, no I/O, no clock beyond the caller's reference
// instant.
package trigger

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"agentsched/internal/domain"
)

const (
	cronPrefix     = "cron:"
	atPrefix       = "at:"
	everyPrefix    = "every "
	relativePrefix = "in "
)

// amountPattern matches the <N><unit> payload shared by "every" and "in".
var amountPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// cronParser validates five-field crontab expressions (minute, hour,
// day-of-month, month, day-of-week). No seconds field, no @descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse turns a schedule specification into a trigger descriptor. ref
// anchors relative specs: "in" targets resolve to ref+N*unit, and naive
// timestamps are interpreted in ref's location. A past "at:" instant parses
// fine; staleness is the engine's concern, not the parser's.
func Parse(spec string, ref time.Time) (domain.Trigger, error) {
	s := strings.TrimSpace(spec)
	switch {
	case strings.HasPrefix(s, cronPrefix):
		return parseCron(s)
	case strings.HasPrefix(s, everyPrefix):
		return parseInterval(s)
	case strings.HasPrefix(s, atPrefix):
		return parseDate(s, ref)
	case strings.HasPrefix(s, relativePrefix):
		return parseRelative(s, ref)
	default:
		return domain.Trigger{}, domain.NewDomainError("trigger.Parse", domain.ErrInvalidTrigger,
			fmt.Sprintf("unrecognized schedule format %q", spec))
	}
}

func parseCron(s string) (domain.Trigger, error) {
	expr := strings.TrimSpace(strings.TrimPrefix(s, cronPrefix))
	if n := len(strings.Fields(expr)); n != 5 {
		return domain.Trigger{}, domain.NewDomainError("trigger.Parse", domain.ErrInvalidTrigger,
			fmt.Sprintf("cron expression %q has %d fields, want 5", expr, n))
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return domain.Trigger{}, domain.NewDomainError("trigger.Parse", domain.ErrInvalidTrigger,
			fmt.Sprintf("cron expression %q: %v", expr, err))
	}
	return domain.Trigger{Kind: domain.TriggerCron, Spec: s, Cron: expr}, nil
}

func parseInterval(s string) (domain.Trigger, error) {
	payload := strings.TrimSpace(strings.TrimPrefix(s, everyPrefix))
	n, unit, err := parseAmount(payload)
	if err != nil {
		return domain.Trigger{}, domain.NewDomainError("trigger.Parse", domain.ErrInvalidTrigger,
			fmt.Sprintf("interval %q: %v", payload, err))
	}
	return domain.Trigger{Kind: domain.TriggerInterval, Spec: s, Every: time.Duration(n) * unit}, nil
}

func parseDate(s string, ref time.Time) (domain.Trigger, error) {
	payload := strings.TrimSpace(strings.TrimPrefix(s, atPrefix))
	at, err := parseInstant(payload, ref.Location())
	if err != nil {
		return domain.Trigger{}, domain.NewDomainError("trigger.Parse", domain.ErrInvalidTrigger,
			fmt.Sprintf("invalid timestamp %q", payload))
	}
	return domain.Trigger{Kind: domain.TriggerDate, Spec: s, At: at}, nil
}

func parseRelative(s string, ref time.Time) (domain.Trigger, error) {
	payload := strings.TrimSpace(strings.TrimPrefix(s, relativePrefix))
	n, unit, err := parseAmount(payload)
	if err != nil {
		return domain.Trigger{}, domain.NewDomainError("trigger.Parse", domain.ErrInvalidTrigger,
			fmt.Sprintf("relative spec %q: %v", payload, err))
	}
	return domain.Trigger{Kind: domain.TriggerDate, Spec: s, At: ref.Add(time.Duration(n) * unit)}, nil
}

// parseAmount decodes the <N><unit> payload. N must be a positive integer
// small enough that N*unit fits in a time.Duration.
func parseAmount(payload string) (int64, time.Duration, error) {
	m := amountPattern.FindStringSubmatch(payload)
	if m == nil {
		return 0, 0, fmt.Errorf("want <N><unit> with unit one of s, m, h, d")
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("value %q out of range", m[1])
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	if n <= 0 || n > math.MaxInt64/int64(unit) {
		return 0, 0, fmt.Errorf("value %d out of range", n)
	}
	return n, unit, nil
}

// parseInstant accepts ISO-8601 shapes: RFC3339 with an offset, or a naive
// timestamp interpreted in loc. Fractional seconds are accepted in any form.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// TypeOf returns the schedule_type string persisted for a trigger.
func TypeOf(t domain.Trigger) string {
	switch t.Kind {
	case domain.TriggerCron:
		return domain.ScheduleTypeCron
	case domain.TriggerInterval:
		return domain.ScheduleTypeInterval
	case domain.TriggerDate:
		return domain.ScheduleTypeDate
	}
	return domain.ScheduleTypeUnknown
}

// Describe renders a trigger descriptor human-readably. Interval and
// relative renderings echo the quantity the author wrote ("every 60s" stays
// "Every 60 seconds", not "Every 1 minute").
func Describe(t domain.Trigger) string {
	switch t.Kind {
	case domain.TriggerCron:
		return "Cron schedule: " + t.Cron
	case domain.TriggerInterval:
		if payload, ok := strings.CutPrefix(strings.TrimSpace(t.Spec), everyPrefix); ok {
			if n, unit, err := parseAmount(strings.TrimSpace(payload)); err == nil {
				return "Every " + amountWords(n, unit)
			}
		}
		n, unit := largestUnit(t.Every)
		return "Every " + amountWords(n, unit)
	case domain.TriggerDate:
		if payload, ok := strings.CutPrefix(strings.TrimSpace(t.Spec), relativePrefix); ok {
			if n, unit, err := parseAmount(strings.TrimSpace(payload)); err == nil {
				return "In " + amountWords(n, unit)
			}
		}
		return "At " + t.At.Format("2006-01-02 15:04:05")
	}
	return t.Spec
}

// DescribeSpec renders a best-effort description of a raw spec string
// without requiring a successful parse. Unrecognized input is echoed
// verbatim; it never fails.
func DescribeSpec(spec string) string {
	s := strings.TrimSpace(spec)
	switch {
	case strings.HasPrefix(s, cronPrefix):
		return "Cron schedule: " + strings.TrimSpace(strings.TrimPrefix(s, cronPrefix))
	case strings.HasPrefix(s, everyPrefix):
		payload := strings.TrimSpace(strings.TrimPrefix(s, everyPrefix))
		n, unit, err := parseAmount(payload)
		if err != nil {
			return spec
		}
		return "Every " + amountWords(n, unit)
	case strings.HasPrefix(s, atPrefix):
		payload := strings.TrimSpace(strings.TrimPrefix(s, atPrefix))
		if at, err := parseInstant(payload, time.Local); err == nil {
			return "At " + at.Format("2006-01-02 15:04:05")
		}
		return "At " + payload
	case strings.HasPrefix(s, relativePrefix):
		payload := strings.TrimSpace(strings.TrimPrefix(s, relativePrefix))
		n, unit, err := parseAmount(payload)
		if err != nil {
			return spec
		}
		return "In " + amountWords(n, unit)
	default:
		return spec
	}
}

// Info returns the structured trigger introspection used in status views.
func Info(t domain.Trigger) map[string]any {
	switch t.Kind {
	case domain.TriggerCron:
		info := map[string]any{"type": "cron", "expression": t.Cron}
		names := [5]string{"minute", "hour", "day", "month", "day_of_week"}
		for i, f := range strings.Fields(t.Cron) {
			if i < len(names) {
				info[names[i]] = f
			}
		}
		return info
	case domain.TriggerInterval:
		return map[string]any{"type": "interval", "seconds": t.Every.Seconds(), "human": Describe(t)}
	case domain.TriggerDate:
		return map[string]any{"type": "date", "run_date": t.At.Format(time.RFC3339), "human": Describe(t)}
	}
	return map[string]any{"type": "unknown"}
}

func amountWords(n int64, unit time.Duration) string {
	var word string
	switch unit {
	case time.Second:
		word = "second"
	case time.Minute:
		word = "minute"
	case time.Hour:
		word = "hour"
	default:
		word = "day"
	}
	if n != 1 {
		word += "s"
	}
	return fmt.Sprintf("%d %s", n, word)
}

// largestUnit folds a duration to the biggest unit that divides it exactly.
func largestUnit(d time.Duration) (int64, time.Duration) {
	for _, unit := range []time.Duration{24 * time.Hour, time.Hour, time.Minute} {
		if d >= unit && d%unit == 0 {
			return int64(d / unit), unit
		}
	}
	return int64(d / time.Second), time.Second
}
