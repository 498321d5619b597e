// Package worker implements the per-day retrieval strategy: bulk export first,
// paginated listing when the export is truncated.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/icp"
	"github.com/JakeFAU/icp-exporter/internal/metrics"
	"github.com/JakeFAU/icp-exporter/internal/progress"
)

// Config controls Worker behavior. Zero values select the service limits.
type Config struct {
	TruncationCap int
	MaxPages      int
}

// Worker turns one Unit into a DayResult.
type Worker struct {
	source   icp.Source
	reporter *progress.Reporter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. reporter may be nil.
func New(source icp.Source, reporter *progress.Reporter, cfg Config, logger *zap.Logger) *Worker {
	if cfg.TruncationCap <= 0 {
		cfg.TruncationCap = icp.TruncationCap
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = icp.MaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		source:   source,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process retrieves every row for unit. It never returns an error: failures
// are recorded on the DayResult and the day contributes what it could fetch.
func (w *Worker) Process(ctx context.Context, unit icp.Unit) icp.DayResult {
	start := time.Now()
	res := icp.DayResult{Unit: unit, Mode: icp.ModeExport, Rows: []icp.Record{}}
	defer func() {
		w.reporter.DayFinished(res, time.Since(start))
	}()

	rows, err := w.source.Export(ctx, unit)
	if err != nil {
		res.Err = fmt.Errorf("day %s: %w", unit.Day(), err)
		w.logger.Error("export failed, day contributes no rows",
			zap.String("day", unit.Day()),
			zap.String("province", unit.Province),
			zap.String("reason", icp.FailureReason(err)),
			zap.Error(err),
		)
		return res
	}

	if len(rows) < w.cfg.TruncationCap {
		res.Rows = rows
		metrics.ObserveRows(string(icp.ModeExport), len(rows))
		w.logger.Debug("export complete",
			zap.String("day", unit.Day()),
			zap.Int("rows", len(rows)),
		)
		return res
	}

	metrics.ObserveFallback()
	w.logger.Info("export truncated, switching to paginated listing",
		zap.String("day", unit.Day()),
		zap.Int("export_rows", len(rows)),
	)
	res.Mode = icp.ModePages
	res.Truncated = true
	w.paginate(ctx, unit, &res)
	metrics.ObserveRows(string(icp.ModePages), len(res.Rows))
	return res
}

// paginate walks pages 1..min(total, MaxPages). Every successful page resets
// the limit to the total it reports; a failed page leaves the limit unchanged.
func (w *Worker) paginate(ctx context.Context, unit icp.Unit, res *icp.DayResult) {
	limit := w.cfg.MaxPages
	for page := 1; page <= limit && page <= w.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			w.logger.Warn("pagination interrupted",
				zap.String("day", unit.Day()),
				zap.Int("page", page),
				zap.Error(err),
			)
			res.Err = fmt.Errorf("day %s page %d: %w", unit.Day(), page, err)
			return
		}

		p, err := w.source.Page(ctx, unit, page)
		if err != nil {
			res.PagesFailed++
			w.reporter.PageFinished(unit, page, 0, err)
			w.logger.Error("page failed, skipping",
				zap.String("day", unit.Day()),
				zap.Int("page", page),
				zap.String("reason", icp.FailureReason(err)),
				zap.Error(err),
			)
			continue
		}

		limit = p.TotalPages
		res.PagesFetched++
		res.Rows = append(res.Rows, p.Rows...)
		w.reporter.PageFinished(unit, page, len(p.Rows), nil)
		w.logger.Debug("page complete",
			zap.String("day", unit.Day()),
			zap.Int("page", page),
			zap.Int("total_pages", p.TotalPages),
			zap.Int("rows", len(p.Rows)),
		)
	}
}
