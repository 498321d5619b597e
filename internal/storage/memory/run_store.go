package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/icp-exporter/internal/store"
)

// RunStore implements store.RunRepository in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
	days map[uuid.UUID]map[string]store.Day
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[uuid.UUID]store.Run),
		days: make(map[uuid.UUID]map[string]store.Day),
	}
}

// StartRun records a running run; a repeated start keeps the first timestamp.
func (s *RunStore) StartRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.ID]; ok {
		run.StartedAt = existing.StartedAt
	}
	run.Status = store.RunRunning
	s.runs[run.ID] = run
	return nil
}

// RecordDay upserts the day row.
func (s *RunStore) RecordDay(_ context.Context, day store.Day) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	days, ok := s.days[day.RunID]
	if !ok {
		days = make(map[string]store.Day)
		s.days[day.RunID] = days
	}
	days[day.Day] = day
	return nil
}

// UpdateWritten records sink progress.
func (s *RunStore) UpdateWritten(_ context.Context, runID uuid.UUID, written, rows int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Written = written
	run.Rows = rows
	s.runs[runID] = run
	return nil
}

// CompleteRun marks the run finished.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	written, rows int64,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	ts := finishedAt
	run.FinishedAt = &ts
	run.Status = status
	run.Written = written
	run.Rows = rows
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// GetRun returns one run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return page(out, limit, offset), nil
}

// ListRunDays returns a run's days in date order.
func (s *RunStore) ListRunDays(_ context.Context, runID uuid.UUID, limit, offset int) ([]store.Day, error) {
	s.mu.RLock()
	out := make([]store.Day, 0, len(s.days[runID]))
	for _, day := range s.days[runID] {
		out = append(out, day)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Day < out[j].Day
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
