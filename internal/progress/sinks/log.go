package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/progress"
)

// LogSink writes human-readable progress lines: per-day and per-page row
// counts and write percentage.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("province", evt.Province),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.String("from", evt.From), zap.String("to", evt.To), zap.Int64("days", evt.Total))
		case progress.StageDayDone, progress.StageDayError:
			fields = append(fields,
				zap.String("day", evt.Day),
				zap.String("mode", evt.Mode),
				zap.Int64("rows", evt.Rows),
				zap.Int64("pages", evt.Pages),
				zap.Int64("pages_failed", evt.PagesFailed),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StagePageDone, progress.StagePageError:
			fields = append(fields, zap.String("day", evt.Day), zap.Int("page", evt.Page), zap.Int64("rows", evt.Rows))
		case progress.StageWrite, progress.StageRunDone, progress.StageRunError:
			fields = append(fields,
				zap.Int64("written", evt.Rows),
				zap.Int64("total", evt.Total),
				zap.Float64("percent", percent(evt.Rows, evt.Total)),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func percent(n, total int64) float64 {
	if total <= 0 {
		return 100
	}
	return float64(n) * 100 / float64(total)
}
