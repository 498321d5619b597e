package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/icp-exporter/internal/store"
)

// RunStore implements store.RunRepository on the export_runs and export_days tables.
type RunStore struct {
	db DB
}

// NewRunStore wraps db.
func NewRunStore(db DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{db: db}, nil
}

// EnsureSchema creates the run tables when they do not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS export_runs (
	id            UUID PRIMARY KEY,
	province      TEXT NOT NULL,
	range_from    TEXT NOT NULL,
	range_to      TEXT NOT NULL,
	days          BIGINT NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	rows_total    BIGINT NOT NULL DEFAULT 0,
	rows_written  BIGINT NOT NULL DEFAULT 0,
	error_message TEXT
)`,
		`CREATE TABLE IF NOT EXISTS export_days (
	run_id       UUID NOT NULL REFERENCES export_runs(id),
	day          TEXT NOT NULL,
	mode         TEXT NOT NULL,
	rows         BIGINT NOT NULL,
	pages        BIGINT NOT NULL,
	pages_failed BIGINT NOT NULL,
	failed       BOOLEAN NOT NULL,
	note         TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, day)
)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create run tables: %w", err)
		}
	}
	return nil
}

// StartRun inserts the run or leaves an existing row untouched.
func (s *RunStore) StartRun(ctx context.Context, run store.Run) error {
	query := `
		INSERT INTO export_runs (id, province, range_from, range_to, days, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := s.db.Exec(ctx, query, run.ID, run.Province, run.From, run.To, run.Days, run.StartedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordDay upserts one day's outcome.
func (s *RunStore) RecordDay(ctx context.Context, day store.Day) error {
	query := `
		INSERT INTO export_days (run_id, day, mode, rows, pages, pages_failed, failed, note, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, day) DO UPDATE
		SET mode = EXCLUDED.mode,
			rows = EXCLUDED.rows,
			pages = EXCLUDED.pages,
			pages_failed = EXCLUDED.pages_failed,
			failed = EXCLUDED.failed,
			note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := s.db.Exec(
		ctx,
		query,
		day.RunID,
		day.Day,
		day.Mode,
		day.Rows,
		day.Pages,
		day.PagesFailed,
		day.Failed,
		day.Note,
		day.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert day: %w", err)
	}
	return nil
}

// UpdateWritten records sink progress.
func (s *RunStore) UpdateWritten(ctx context.Context, runID uuid.UUID, written, rows int64) error {
	query := `UPDATE export_runs SET rows_written = $1, rows_total = $2 WHERE id = $3;`
	tag, err := s.db.Exec(ctx, query, written, rows, runID)
	if err != nil {
		return fmt.Errorf("update written: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun stores the final status and counts.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	written, rows int64,
	errMsg *string,
) error {
	query := `
		UPDATE export_runs
		SET finished_at = $1, status = $2, rows_written = $3, rows_total = $4, error_message = $5
		WHERE id = $6;
	`
	tag, err := s.db.Exec(ctx, query, finishedAt, status, written, rows, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const runColumns = `id, province, range_from, range_to, days, started_at, finished_at, status, rows_total, rows_written, error_message`

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM export_runs WHERE id = $1;`
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by status.
func (s *RunStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	query := `SELECT ` + runColumns + ` FROM export_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.db.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []store.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunDays returns a run's days in date order.
func (s *RunStore) ListRunDays(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.Day, error) {
	query := `
		SELECT run_id, day, mode, rows, pages, pages_failed, failed, note, updated_at
		FROM export_days
		WHERE run_id = $1
		ORDER BY day
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run days: %w", err)
	}
	defer rows.Close()

	days := []store.Day{}
	for rows.Next() {
		var d store.Day
		if err := rows.Scan(
			&d.RunID,
			&d.Day,
			&d.Mode,
			&d.Rows,
			&d.Pages,
			&d.PagesFailed,
			&d.Failed,
			&d.Note,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan day row: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate days: %w", err)
	}
	return days, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.Province,
		&run.From,
		&run.To,
		&run.Days,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Rows,
		&run.Written,
		&run.ErrorMessage,
	)
	run.Status = store.RunStatus(status)
	return run, err
}
