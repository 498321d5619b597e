package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

// Reporter stamps events with one run's identity. A nil Reporter, or one
// without an Emitter, discards everything.
type Reporter struct {
	emitter  Emitter
	runID    [16]byte
	province string
	now      func() time.Time
}

// NewReporter binds emitter to runID. clock may be nil.
func NewReporter(emitter Emitter, runID uuid.UUID, province string, clock icp.Clock) *Reporter {
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &Reporter{
		emitter:  emitter,
		runID:    UUIDToBytes(runID),
		province: province,
		now:      now,
	}
}

// RunStarted announces a run over days units between from and to.
func (r *Reporter) RunStarted(from, to string, days int) {
	r.emit(Event{Stage: StageRunStart, From: from, To: to, Total: int64(days)})
}

// RunFinished closes the run. A non-nil err marks it failed.
func (r *Reporter) RunFinished(written, total int, took time.Duration, err error) {
	evt := Event{Stage: StageRunDone, Rows: int64(written), Total: int64(total), Dur: took}
	if err != nil {
		evt.Stage = StageRunError
		evt.Note = err.Error()
	}
	r.emit(evt)
}

// DayFinished reports one unit's outcome.
func (r *Reporter) DayFinished(res icp.DayResult, took time.Duration) {
	evt := Event{
		Stage:       StageDayDone,
		Day:         res.Unit.Day(),
		Mode:        string(res.Mode),
		Rows:        int64(len(res.Rows)),
		Pages:       int64(res.PagesFetched),
		PagesFailed: int64(res.PagesFailed),
		Dur:         took,
	}
	if res.Err != nil {
		evt.Stage = StageDayError
		evt.Note = res.Err.Error()
	}
	r.emit(evt)
}

// PageFinished reports one listing page.
func (r *Reporter) PageFinished(unit icp.Unit, page, rows int, err error) {
	evt := Event{Stage: StagePageDone, Day: unit.Day(), Page: page, Rows: int64(rows)}
	if err != nil {
		evt.Stage = StagePageError
		evt.Note = err.Error()
	}
	r.emit(evt)
}

// Written reports sink progress.
func (r *Reporter) Written(written, total int) {
	r.emit(Event{Stage: StageWrite, Rows: int64(written), Total: int64(total)})
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.Province = r.province
	evt.TS = r.now()
	r.emitter.Emit(evt)
}
