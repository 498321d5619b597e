package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/progress"
	"github.com/JakeFAU/icp-exporter/internal/store"
)

func TestStoreSinkPersistsRun(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Province: "P1", From: "2020-01-01", To: "2020-01-02", Total: 2},
		{RunID: runID, TS: now, Stage: progress.StagePageDone, Day: "2020-01-01", Page: 1, Rows: 50},
		{RunID: runID, TS: now, Stage: progress.StageDayDone, Day: "2020-01-01", Mode: "pages", Rows: 112, Pages: 3},
		{RunID: runID, TS: now, Stage: progress.StageDayError, Day: "2020-01-02", Mode: "export", Note: "network error"},
		{RunID: runID, TS: now, Stage: progress.StageWrite, Rows: 100, Total: 112},
		{RunID: runID, TS: now, Stage: progress.StageWrite, Rows: 112, Total: 112},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Equal(t, runUUID, repo.starts[0].ID)
	require.Equal(t, store.RunRunning, repo.starts[0].Status)
	require.EqualValues(t, 2, repo.starts[0].Days)

	require.Len(t, repo.days, 2)
	require.EqualValues(t, 112, repo.days[0].Rows)
	require.False(t, repo.days[0].Failed)
	require.True(t, repo.days[1].Failed)
	require.Equal(t, "network error", repo.days[1].Note)

	require.Equal(t, []int64{112}, repo.written, "only the newest write counter is stored")

	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunError, Rows: 112, Total: 112, Note: "interrupted"},
	})
	require.NoError(t, err)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunError, repo.completes[0].status)
	require.Equal(t, "interrupted", *repo.completes[0].errMsg)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, zap.NewNop())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)
}

func TestStoreSinkWithoutRepo(t *testing.T) {
	t.Parallel()

	var sink *StoreSink
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunStart}}))
}

func TestLogSinkConsumesEveryStage(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	runID := progress.UUIDToBytes(uuid.New())
	stages := []progress.Stage{
		progress.StageRunStart,
		progress.StageDayDone,
		progress.StagePageError,
		progress.StageWrite,
		progress.StageRunDone,
	}
	batch := make([]progress.Event, 0, len(stages))
	for _, stage := range stages {
		batch = append(batch, progress.Event{RunID: runID, TS: time.Now(), Stage: stage, Note: "n"})
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))
	require.InDelta(t, 50.0, percent(1, 2), 1e-9)
	require.InDelta(t, 100.0, percent(0, 0), 1e-9)
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	errMsg *string
}

type fakeRunRepo struct {
	fail      bool
	starts    []store.Run
	days      []store.Day
	written   []int64
	completes []completeCall
}

func (f *fakeRunRepo) StartRun(_ context.Context, run store.Run) error {
	if f.fail {
		return errors.New("boom")
	}
	f.starts = append(f.starts, run)
	return nil
}

func (f *fakeRunRepo) RecordDay(_ context.Context, day store.Day) error {
	if f.fail {
		return errors.New("boom")
	}
	f.days = append(f.days, day)
	return nil
}

func (f *fakeRunRepo) UpdateWritten(_ context.Context, _ uuid.UUID, written, _ int64) error {
	if f.fail {
		return errors.New("boom")
	}
	f.written = append(f.written, written)
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	_, _ int64,
	errMsg *string,
) error {
	if f.fail {
		return errors.New("boom")
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status, errMsg: errMsg})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListRunDays(context.Context, uuid.UUID, int, int) ([]store.Day, error) {
	return nil, nil
}
