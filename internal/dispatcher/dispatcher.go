// Package dispatcher splits a date range into per-day units and fans them out
// to a bounded pool of workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

// Processor handles one unit. *worker.Worker satisfies it.
type Processor interface {
	Process(ctx context.Context, unit icp.Unit) icp.DayResult
}

// EnumerateUnits returns one Unit per calendar day in [start, end]. Dates use
// the YYYYMMDD form and are interpreted in UTC. start after end yields no units.
func EnumerateUnits(start, end, province string) ([]icp.Unit, error) {
	from, err := parseDay(start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	to, err := parseDay(end)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	units := make([]icp.Unit, 0)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		units = append(units, icp.Unit{Date: d, Province: province})
	}
	return units, nil
}

func parseDay(v string) (time.Time, error) {
	t, err := time.ParseInLocation(icp.InputLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYYMMDD: %v", icp.ErrConfig, v, err)
	}
	return t, nil
}

// Dispatcher runs units on at most `workers` goroutines.
type Dispatcher struct {
	processor Processor
	workers   int
	logger    *zap.Logger
}

// New creates a Dispatcher. workers below 1 is treated as 1.
func New(processor Processor, workers int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: processor,
		workers:   workers,
		logger:    logger,
	}
}

// Run submits every unit and blocks until all of them finish. Each task owns
// its result slot; the slice is read only after the join. Rows are
// concatenated in unit order.
func (d *Dispatcher) Run(ctx context.Context, units []icp.Unit) icp.RunResult {
	results := make([]icp.DayResult, len(units))
	var total atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, unit := range units {
		g.Go(func() error {
			res := d.processor.Process(gctx, unit)
			results[i] = res
			running := total.Add(int64(len(res.Rows)))
			d.logger.Info("day finished",
				zap.String("day", unit.Day()),
				zap.String("mode", string(res.Mode)),
				zap.Int("rows", len(res.Rows)),
				zap.Int64("running_total", running),
				zap.Bool("failed", res.Err != nil),
			)
			return nil
		})
	}
	// Tasks never return errors; a failed day is carried on its DayResult.
	_ = g.Wait()

	rows := make([]icp.Record, 0, total.Load())
	for _, res := range results {
		rows = append(rows, res.Rows...)
	}
	return icp.RunResult{Days: results, Rows: rows}
}
