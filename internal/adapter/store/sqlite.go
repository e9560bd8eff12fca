// Package store persists schedules and task run history in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"agentsched/internal/domain"
)

// timeLayout is the stored timestamp format. Fixed width so that
// lexicographic comparison in SQL matches chronological order.
const timeLayout = time.RFC3339

// SQLiteStore implements domain.ScheduleStore on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the scheduler database at dbPath and runs the
// schema migration.
func New(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open scheduler db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	// Writes are serialized through one connection.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate scheduler db: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schedules (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id        TEXT NOT NULL UNIQUE,
			job_id         TEXT NOT NULL,
			schedule_type  TEXT NOT NULL,
			schedule_value TEXT NOT NULL,
			created_at     TEXT NOT NULL,
			next_run_time  TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS task_runs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    TEXT NOT NULL,
			status     TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time   TEXT,
			error      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs(task_id, start_time)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSchedule(ctx context.Context, sc *domain.Schedule) error {
	created := sc.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (task_id, job_id, schedule_type, schedule_value, created_at, next_run_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			job_id = excluded.job_id,
			schedule_type = excluded.schedule_type,
			schedule_value = excluded.schedule_value,
			next_run_time = excluded.next_run_time`,
		sc.TaskID, sc.JobID, sc.Type, sc.Value,
		created.UTC().Format(timeLayout), nullableTime(sc.NextRun),
	)
	if err != nil {
		return domain.WrapOp("store.SaveSchedule", err)
	}

	// Read back the row identity so callers see the stored id and the
	// created_at of the original insert on re-schedule.
	row := s.db.QueryRowContext(ctx,
		"SELECT id, created_at FROM schedules WHERE task_id = ?", sc.TaskID,
	)
	var createdStr string
	if err := row.Scan(&sc.ID, &createdStr); err != nil {
		return domain.WrapOp("store.SaveSchedule", err)
	}
	sc.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	return nil
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, taskID string) (*domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, job_id, schedule_type, schedule_value, created_at, next_run_time
		FROM schedules WHERE task_id = ?`, taskID)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrScheduleNotFound
	}
	if err != nil {
		return nil, domain.WrapOp("store.GetSchedule", err)
	}
	return sc, nil
}

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, job_id, schedule_type, schedule_value, created_at, next_run_time
		FROM schedules ORDER BY created_at, id`)
	if err != nil {
		return nil, domain.WrapOp("store.ListSchedules", err)
	}
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, domain.WrapOp("store.ListSchedules", err)
		}
		schedules = append(schedules, sc)
	}
	return schedules, domain.WrapOp("store.ListSchedules", rows.Err())
}

// DeleteSchedule removes the row for taskID. Deleting an absent row is
// not an error.
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE task_id = ?", taskID)
	return domain.WrapOp("store.DeleteSchedule", err)
}

func (s *SQLiteStore) LogTaskRun(ctx context.Context, run *domain.TaskRun) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_runs (task_id, status, start_time, end_time, error)
		VALUES (?, ?, ?, ?, ?)`,
		run.TaskID, string(run.Status),
		run.StartTime.UTC().Format(timeLayout),
		nullableTime(run.EndTime), nullableString(run.Error),
	)
	if err != nil {
		return 0, domain.WrapOp("store.LogTaskRun", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, domain.WrapOp("store.LogTaskRun", err)
	}
	run.ID = id
	return id, nil
}

func (s *SQLiteStore) FinishTaskRun(ctx context.Context, runID int64, status domain.RunStatus, endTime time.Time, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE task_runs SET status = ?, end_time = ?, error = ? WHERE id = ?`,
		string(status), endTime.UTC().Format(timeLayout), nullableString(errMsg), runID,
	)
	if err != nil {
		return domain.WrapOp("store.FinishTaskRun", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.WrapOp("store.FinishTaskRun", fmt.Errorf("run %d not found", runID))
	}
	return nil
}

// ListTaskRuns returns up to limit runs for one task, newest first.
// A non-positive limit returns all of them.
func (s *SQLiteStore) ListTaskRuns(ctx context.Context, taskID string, limit int) ([]*domain.TaskRun, error) {
	query := `
		SELECT id, task_id, status, start_time, end_time, error
		FROM task_runs WHERE task_id = ? ORDER BY start_time DESC, id DESC`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	runs, err := s.queryRuns(ctx, query, args...)
	return runs, domain.WrapOp("store.ListTaskRuns", err)
}

// ListRecentRuns returns up to limit runs across all tasks, newest first.
func (s *SQLiteStore) ListRecentRuns(ctx context.Context, limit int) ([]*domain.TaskRun, error) {
	query := `
		SELECT id, task_id, status, start_time, end_time, error
		FROM task_runs ORDER BY start_time DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	runs, err := s.queryRuns(ctx, query, args...)
	return runs, domain.WrapOp("store.ListRecentRuns", err)
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]*domain.TaskRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.TaskRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CleanupOldRuns deletes run rows that started before now-olderThan and
// returns the number deleted. The cutoff is computed in Go so retention
// always measures against wall-clock UTC.
func (s *SQLiteStore) CleanupOldRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, "DELETE FROM task_runs WHERE start_time < ?", cutoff)
	if err != nil {
		return 0, domain.WrapOp("store.CleanupOldRuns", err)
	}
	n, err := res.RowsAffected()
	return n, domain.WrapOp("store.CleanupOldRuns", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*domain.Schedule, error) {
	var sc domain.Schedule
	var createdStr string
	var nextStr sql.NullString
	if err := row.Scan(&sc.ID, &sc.TaskID, &sc.JobID, &sc.Type, &sc.Value, &createdStr, &nextStr); err != nil {
		return nil, err
	}
	sc.CreatedAt, _ = time.Parse(timeLayout, createdStr)
	if nextStr.Valid {
		if t, err := time.Parse(timeLayout, nextStr.String); err == nil {
			sc.NextRun = &t
		}
	}
	return &sc, nil
}

func scanRun(row scanner) (*domain.TaskRun, error) {
	var r domain.TaskRun
	var startStr string
	var endStr, errStr sql.NullString
	if err := row.Scan(&r.ID, &r.TaskID, &r.Status, &startStr, &endStr, &errStr); err != nil {
		return nil, err
	}
	r.StartTime, _ = time.Parse(timeLayout, startStr)
	if endStr.Valid {
		if t, err := time.Parse(timeLayout, endStr.String); err == nil {
			r.EndTime = &t
		}
	}
	r.Error = errStr.String
	return &r, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
