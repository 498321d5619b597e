// Package exporter runs one export: it validates the request, schedules the
// days, writes every row to the sink and reports a summary.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/dispatcher"
	"github.com/JakeFAU/icp-exporter/internal/icp"
	iduuid "github.com/JakeFAU/icp-exporter/internal/id/uuid"
	"github.com/JakeFAU/icp-exporter/internal/metrics"
	"github.com/JakeFAU/icp-exporter/internal/progress"
	"github.com/JakeFAU/icp-exporter/internal/worker"
)

// DefaultProgressEvery is the write interval, in rows, between progress reports.
const DefaultProgressEvery = 100

// Request is one export invocation.
type Request struct {
	Start    string
	End      string
	Province string
	Threads  int
}

// Config holds run-independent settings.
type Config struct {
	// Topic receives the run summary. Empty disables publishing.
	Topic         string
	ProgressEvery int
	Worker        worker.Config
}

// RunIDGenerator mints run identities.
type RunIDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Exporter wires the scheduler to a sink.
type Exporter struct {
	source    icp.Source
	sink      icp.Sink
	publisher icp.Publisher
	emitter   progress.Emitter
	clock     icp.Clock
	ids       RunIDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Exporter. publisher, emitter and clock may be nil.
func New(
	source icp.Source,
	sink icp.Sink,
	publisher icp.Publisher,
	emitter progress.Emitter,
	clock icp.Clock,
	cfg Config,
	logger *zap.Logger,
) *Exporter {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		source:    source,
		sink:      sink,
		publisher: publisher,
		emitter:   emitter,
		clock:     clock,
		ids:       iduuid.NewUUIDGenerator(),
		cfg:       cfg,
		logger:    logger,
	}
}

// WithRunIDs replaces the run ID generator.
func (e *Exporter) WithRunIDs(ids RunIDGenerator) *Exporter {
	e.ids = ids
	return e
}

// Run executes req. Only invalid input is returned as an error (wrapping
// icp.ErrConfig); network, parse and write failures are counted in the
// summary. If ctx is canceled mid-run, the rows gathered so far are still written.
func (e *Exporter) Run(ctx context.Context, req Request) (icp.Summary, error) {
	if req.Threads <= 0 {
		return icp.Summary{}, fmt.Errorf("%w: threads must be positive, got %d", icp.ErrConfig, req.Threads)
	}
	units, err := dispatcher.EnumerateUnits(req.Start, req.End, req.Province)
	if err != nil {
		return icp.Summary{}, err
	}
	runID, err := e.ids.NewRawID()
	if err != nil {
		return icp.Summary{}, fmt.Errorf("run id: %w", err)
	}

	started := e.now()
	logger := e.logger.With(zap.String("run_id", runID.String()))
	reporter := progress.NewReporter(e.emitter, runID, req.Province, e.clock)
	reporter.RunStarted(req.Start, req.End, len(units))
	logger.Info("export started",
		zap.String("start", req.Start),
		zap.String("end", req.End),
		zap.String("province", req.Province),
		zap.Int("days", len(units)),
		zap.Int("threads", req.Threads),
	)

	w := worker.New(e.source, reporter, e.cfg.Worker, logger.Named("worker"))
	result := dispatcher.New(w, req.Threads, logger.Named("dispatcher")).Run(ctx, units)

	written, failed := e.write(context.WithoutCancel(ctx), result.Rows, reporter, logger)

	summary := summarize(result)
	summary.RunID = runID.String()
	summary.Province = req.Province
	summary.Start = req.Start
	summary.End = req.End
	summary.Written = written
	summary.WriteFailed = failed
	summary.StartedAt = started
	summary.FinishedAt = e.now()

	logger.Info("export finished",
		zap.Int("written", written),
		zap.Int("total", len(result.Rows)),
		zap.Int("write_failed", failed),
		zap.Int("days_failed", summary.DaysFailed),
		zap.Int("fallbacks", summary.Fallbacks),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Duration("took", summary.FinishedAt.Sub(started)),
	)

	e.publish(context.WithoutCancel(ctx), summary, logger)
	reporter.RunFinished(written, len(result.Rows), summary.FinishedAt.Sub(started), ctx.Err())
	return summary, nil
}

// write persists rows one at a time. A failed write is logged and counted;
// it never stops the batch.
func (e *Exporter) write(ctx context.Context, rows []icp.Record, reporter *progress.Reporter, logger *zap.Logger) (int, int) {
	total := len(rows)
	written, failed := 0, 0
	for i, rec := range rows {
		if err := e.sink.Write(ctx, rec); err != nil {
			failed++
			metrics.ObserveWrite("error")
			if !errors.Is(err, icp.ErrWrite) {
				err = fmt.Errorf("%w: %w", icp.ErrWrite, err)
			}
			logger.Error("sink write failed",
				zap.Int("row", i),
				zap.String("domain", rec.Domain),
				zap.Error(err),
			)
		} else {
			written++
			metrics.ObserveWrite("ok")
		}

		if done := i + 1; done%e.cfg.ProgressEvery == 0 && done < total {
			logger.Info("write progress",
				zap.Int("written", written),
				zap.Int("total", total),
				zap.String("percent", fmt.Sprintf("%.1f%%", float64(done)*100/float64(total))),
			)
			reporter.Written(written, total)
		}
	}
	reporter.Written(written, total)
	return written, failed
}

func (e *Exporter) publish(ctx context.Context, summary icp.Summary, logger *zap.Logger) {
	if e.cfg.Topic == "" || e.publisher == nil {
		return
	}
	id, err := e.publisher.Publish(ctx, e.cfg.Topic, summary)
	if err != nil {
		logger.Warn("publish summary failed", zap.String("topic", e.cfg.Topic), zap.Error(err))
		return
	}
	logger.Info("summary published", zap.String("topic", e.cfg.Topic), zap.String("message_id", id))
}

func (e *Exporter) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now().UTC()
}

func summarize(result icp.RunResult) icp.Summary {
	s := icp.Summary{Days: len(result.Days), Rows: len(result.Rows)}
	for _, day := range result.Days {
		if day.Err != nil {
			s.DaysFailed++
		}
		if day.Truncated {
			s.Fallbacks++
		}
		s.PagesFailed += day.PagesFailed
	}
	return s
}
