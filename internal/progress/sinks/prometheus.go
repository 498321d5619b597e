package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/icp-exporter/internal/progress"
)

// PrometheusSink turns run and day milestones into collectors.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	days        *prometheus.CounterVec
	dayRows     *prometheus.HistogramVec
	dayDuration *prometheus.HistogramVec
	pages       *prometheus.CounterVec
}

// NewPrometheusSink registers the collectors against reg (default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icp_runs_started_total",
			Help: "Export runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icp_runs_completed_total",
			Help: "Export runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "icp_runs_running",
			Help: "Export runs in progress.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icp_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		days: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icp_days_total",
			Help: "Days processed partitioned by retrieval mode and result.",
		}, []string{"mode", "result"}),
		dayRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icp_day_rows",
			Help:    "Rows returned per day.",
			Buckets: []float64{0, 10, 100, 500, 999, 1500, 2500},
		}, []string{"mode"}),
		dayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icp_day_duration_seconds",
			Help:    "Time to retrieve one day.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icp_pages_total",
			Help: "Paginated listing pages partitioned by result.",
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.days,
		s.dayRows,
		s.dayDuration,
		s.pages,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.runsRunning.Inc()
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StageDayDone:
		s.observeDay(evt, "success")
	case progress.StageDayError:
		s.observeDay(evt, "error")
	case progress.StagePageDone:
		s.pages.WithLabelValues("success").Inc()
	case progress.StagePageError:
		s.pages.WithLabelValues("error").Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	s.runsRunning.Dec()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeDay(evt progress.Event, result string) {
	mode := evt.Mode
	if mode == "" {
		mode = "export"
	}
	s.days.WithLabelValues(mode, result).Inc()
	s.dayRows.WithLabelValues(mode).Observe(float64(evt.Rows))
	if evt.Dur > 0 {
		s.dayDuration.WithLabelValues(mode).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
