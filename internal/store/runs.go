package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the export_runs.status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one export invocation.
type Run struct {
	ID       uuid.UUID `json:"id"`
	Province string    `json:"province"`
	// From and To are the inclusive YYYY-MM-DD range.
	From       string     `json:"from"`
	To         string     `json:"to"`
	Days       int64      `json:"days"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Rows       int64      `json:"rows"`
	Written    int64      `json:"written"`
	// ErrorMessage is set when the run ended abnormally.
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Day is the per-unit outcome within a run.
type Day struct {
	RunID       uuid.UUID `json:"run_id"`
	Day         string    `json:"day"`
	Mode        string    `json:"mode"`
	Rows        int64     `json:"rows"`
	Pages       int64     `json:"pages"`
	PagesFailed int64     `json:"pages_failed"`
	Failed      bool      `json:"failed"`
	Note        string    `json:"note,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunRepository persists run progress.
type RunRepository interface {
	// StartRun inserts (or idempotently refreshes) a running run.
	StartRun(ctx context.Context, run Run) error
	// RecordDay upserts a day's outcome.
	RecordDay(ctx context.Context, day Day) error
	// UpdateWritten records sink progress for a running run.
	UpdateWritten(ctx context.Context, runID uuid.UUID, written, rows int64) error
	// CompleteRun marks the run finished with the final counts.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		written, rows int64,
		errMsg *string,
	) error

	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListRunDays returns a run's days in date order.
	ListRunDays(ctx context.Context, runID uuid.UUID, limit, offset int) ([]Day, error)
}
