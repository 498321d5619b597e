package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/progress"
	"github.com/JakeFAU/icp-exporter/internal/store"
)

// StoreSink persists run and day milestones through a store.RunRepository.
// Page events are folded into their day and not stored individually.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies the batch in order. Repository errors are returned verbatim
// after wrapping; the hub logs them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var lastWrite *progress.Event
	for i := range batch {
		evt := batch[i]
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, store.Run{
				ID:        evt.RunUUID(),
				Province:  evt.Province,
				From:      evt.From,
				To:        evt.To,
				Days:      evt.Total,
				StartedAt: evt.TS,
				Status:    store.RunRunning,
			}); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageDayDone, progress.StageDayError:
			if err := s.repo.RecordDay(ctx, store.Day{
				RunID:       evt.RunUUID(),
				Day:         evt.Day,
				Mode:        evt.Mode,
				Rows:        evt.Rows,
				Pages:       evt.Pages,
				PagesFailed: evt.PagesFailed,
				Failed:      evt.Stage == progress.StageDayError,
				Note:        evt.Note,
				UpdatedAt:   evt.TS,
			}); err != nil {
				return fmt.Errorf("record day: %w", err)
			}
		case progress.StageWrite:
			lastWrite = &batch[i]
		case progress.StageRunDone, progress.StageRunError:
			lastWrite = nil
			if err := s.completeRun(ctx, evt); err != nil {
				return err
			}
		}
	}
	// Only the newest write counter in a batch matters.
	if lastWrite != nil {
		if err := s.repo.UpdateWritten(ctx, lastWrite.RunUUID(), lastWrite.Rows, lastWrite.Total); err != nil {
			return fmt.Errorf("update written: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) completeRun(ctx context.Context, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, evt.Rows, evt.Total, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
