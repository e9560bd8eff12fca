package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"agentsched/internal/domain"
)

// legacyEntry is one task's schedule in the old flat JSON file.
type legacyEntry struct {
	Trigger     map[string]any `json:"trigger"`
	JobID       string         `json:"job_id"`
	NextRunTime string         `json:"next_run_time"`
}

// cron field order in the legacy trigger shape.
var legacyCronFields = [5]string{"minute", "hour", "day", "month", "day_of_week"}

// MigrateLegacyJSON imports schedules from the old flat JSON file into the
// schedules table, then renames the file to <path>.migrated. Task ids that
// already have a row are skipped, so a partial migration can be retried.
// A missing file is not an error; malformed JSON aborts and leaves the
// file in place.
func (s *SQLiteStore) MigrateLegacyJSON(ctx context.Context, jsonPath string) (int, error) {
	data, err := os.ReadFile(jsonPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, domain.NewDomainError("store.MigrateLegacyJSON", domain.ErrMigration, err.Error())
	}

	var entries map[string]legacyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, domain.NewDomainError("store.MigrateLegacyJSON", domain.ErrMigration, err.Error())
	}
	if len(entries) == 0 {
		return 0, nil
	}

	migrated := 0
	for taskID, entry := range entries {
		_, err := s.GetSchedule(ctx, taskID)
		if err == nil {
			continue // already migrated
		}
		if !errors.Is(err, domain.ErrScheduleNotFound) {
			return migrated, err
		}

		typ, value := convertLegacyTrigger(entry.Trigger)
		if value == "unknown" {
			s.logger.Warn("legacy schedule has no usable trigger",
				"task_id", taskID, "schedule_type", typ)
		}

		sc := &domain.Schedule{
			TaskID:  taskID,
			JobID:   entry.JobID,
			Type:    typ,
			Value:   value,
			NextRun: parseLegacyTime(entry.NextRunTime),
		}
		if err := s.SaveSchedule(ctx, sc); err != nil {
			return migrated, err
		}
		migrated++
	}

	if err := os.Rename(jsonPath, jsonPath+".migrated"); err != nil {
		return migrated, domain.NewDomainError("store.MigrateLegacyJSON", domain.ErrMigration, err.Error())
	}
	s.logger.Info("migrated legacy schedules", "count", migrated, "file", jsonPath)
	return migrated, nil
}

// convertLegacyTrigger rebuilds a schedule value string from the legacy
// trigger shape. Unrecognized shapes map to the literal value "unknown"
// rather than failing the whole migration.
func convertLegacyTrigger(trigger map[string]any) (scheduleType, value string) {
	scheduleType, _ = trigger["type"].(string)
	if scheduleType == "" {
		scheduleType = domain.ScheduleTypeUnknown
	}

	switch scheduleType {
	case domain.ScheduleTypeCron:
		parts := make([]string, 0, len(legacyCronFields))
		for _, field := range legacyCronFields {
			if v, ok := trigger[field]; ok {
				parts = append(parts, legacyFieldString(v))
			}
		}
		if len(parts) == len(legacyCronFields) {
			return scheduleType, "cron:" + strings.Join(parts, " ")
		}

	case domain.ScheduleTypeInterval:
		seconds, _ := trigger["seconds"].(float64)
		if secs := int64(seconds); secs > 0 {
			switch {
			case secs < 60:
				return scheduleType, fmt.Sprintf("every %ds", secs)
			case secs < 3600:
				return scheduleType, fmt.Sprintf("every %dm", secs/60)
			case secs < 86400:
				return scheduleType, fmt.Sprintf("every %dh", secs/3600)
			default:
				return scheduleType, fmt.Sprintf("every %dd", secs/86400)
			}
		}

	case domain.ScheduleTypeDate:
		if runDate, _ := trigger["run_date"].(string); runDate != "" {
			return scheduleType, "at:" + runDate
		}
	}

	return scheduleType, "unknown"
}

func legacyFieldString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func parseLegacyTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
