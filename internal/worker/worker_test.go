package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/icp"
	"github.com/JakeFAU/icp-exporter/internal/progress"
)

var day = icp.Unit{Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Province: "北京"}

// fakeSource serves a fixed export and a per-page script.
type fakeSource struct {
	mu        sync.Mutex
	exportLen int
	exportErr error
	total     int
	totals    map[int]int
	perPage   map[int]int
	failPages map[int]bool
	pages     []int
}

func (f *fakeSource) Export(context.Context, icp.Unit) ([]icp.Record, error) {
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return records("export", 0, f.exportLen), nil
}

func (f *fakeSource) Page(_ context.Context, _ icp.Unit, page int) (icp.Page, error) {
	f.mu.Lock()
	f.pages = append(f.pages, page)
	f.mu.Unlock()
	if f.failPages[page] {
		return icp.Page{}, fmt.Errorf("page %d: %w", page, icp.ErrNetwork)
	}
	n, ok := f.perPage[page]
	if !ok {
		n = 20
	}
	total, ok := f.totals[page]
	if !ok {
		total = f.total
	}
	return icp.Page{TotalPages: total, Rows: records("page", page, n)}, nil
}

func records(prefix string, page, n int) []icp.Record {
	out := make([]icp.Record, n)
	for i := range out {
		out[i] = icp.Record{Domain: fmt.Sprintf("%s-%d-%d.cn", prefix, page, i)}
	}
	return out
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, len(c.events))
	for i, e := range c.events {
		out[i] = e.Stage
	}
	return out
}

func newWorker(src icp.Source) *Worker {
	return New(src, nil, Config{}, zap.NewNop())
}

func TestProcess_SmallDayUsesExport(t *testing.T) {
	t.Parallel()

	src := &fakeSource{exportLen: 5}
	res := newWorker(src).Process(context.Background(), day)

	require.NoError(t, res.Err)
	assert.Equal(t, icp.ModeExport, res.Mode)
	assert.False(t, res.Truncated)
	assert.Len(t, res.Rows, 5)
	assert.Empty(t, src.pages)
}

func TestProcess_BelowCapDoesNotFallBack(t *testing.T) {
	t.Parallel()

	src := &fakeSource{exportLen: icp.TruncationCap - 1}
	res := newWorker(src).Process(context.Background(), day)

	assert.Equal(t, icp.ModeExport, res.Mode)
	assert.Len(t, res.Rows, 999)
	assert.Empty(t, src.pages)
}

func TestProcess_AtCapFallsBackToPages(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		exportLen: icp.TruncationCap,
		total:     3,
		perPage:   map[int]int{1: 50, 2: 50, 3: 12},
	}
	res := newWorker(src).Process(context.Background(), day)

	require.NoError(t, res.Err)
	assert.Equal(t, icp.ModePages, res.Mode)
	assert.True(t, res.Truncated)
	assert.Equal(t, []int{1, 2, 3}, src.pages)
	assert.Equal(t, 3, res.PagesFetched)
	require.Len(t, res.Rows, 112)
	assert.Equal(t, "page-1-0.cn", res.Rows[0].Domain)
	assert.Equal(t, "page-2-0.cn", res.Rows[50].Domain)
	assert.Equal(t, "page-3-11.cn", res.Rows[111].Domain)
}

func TestProcess_PageLimitCapped(t *testing.T) {
	t.Parallel()

	src := &fakeSource{exportLen: 1200, total: 80}
	res := newWorker(src).Process(context.Background(), day)

	require.Len(t, src.pages, icp.MaxPages)
	assert.Equal(t, icp.MaxPages, src.pages[len(src.pages)-1])
	assert.Len(t, res.Rows, icp.MaxPages*20)
}

func TestProcess_FailedPageIsSkipped(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		exportLen: icp.TruncationCap,
		total:     3,
		failPages: map[int]bool{2: true},
	}
	res := newWorker(src).Process(context.Background(), day)

	require.NoError(t, res.Err)
	assert.Equal(t, []int{1, 2, 3}, src.pages)
	assert.Equal(t, 1, res.PagesFailed)
	assert.Equal(t, 2, res.PagesFetched)
	assert.Len(t, res.Rows, 40)
}

func TestProcess_FirstPageFailureKeepsDefaultLimit(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		exportLen: icp.TruncationCap,
		total:     2,
		failPages: map[int]bool{1: true},
	}
	res := newWorker(src).Process(context.Background(), day)

	// Page 2 reports the total, so no page beyond it is requested.
	assert.Equal(t, []int{1, 2}, src.pages)
	assert.Len(t, res.Rows, 20)
}

func TestProcess_LaterPageTotalMovesLimit(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		exportLen: icp.TruncationCap,
		total:     5,
		totals:    map[int]int{2: 3},
	}
	res := newWorker(src).Process(context.Background(), day)

	require.NoError(t, res.Err)
	assert.Equal(t, []int{1, 2, 3}, src.pages)
	assert.Equal(t, 3, res.PagesFetched)
}

func TestProcess_ExportFailureContributesNothing(t *testing.T) {
	t.Parallel()

	src := &fakeSource{exportErr: fmt.Errorf("%w: gave up after 5 attempts", icp.ErrNetwork)}
	res := newWorker(src).Process(context.Background(), day)

	require.ErrorIs(t, res.Err, icp.ErrNetwork)
	assert.Empty(t, res.Rows)
	assert.Empty(t, src.pages)
}

func TestProcess_CanceledDuringPagination(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{exportLen: icp.TruncationCap, total: 5}
	res := newWorker(src).Process(ctx, day)

	require.True(t, errors.Is(res.Err, context.Canceled))
	assert.Empty(t, src.pages)
	assert.True(t, res.Truncated)
}

func TestProcess_ReportsProgress(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	reporter := progress.NewReporter(emitter, [16]byte{1}, "北京", nil)
	src := &fakeSource{exportLen: icp.TruncationCap, total: 2, failPages: map[int]bool{2: true}}

	New(src, reporter, Config{}, nil).Process(context.Background(), day)

	assert.Equal(t, []progress.Stage{
		progress.StagePageDone,
		progress.StagePageError,
		progress.StageDayDone,
	}, emitter.stages())
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	w := New(&fakeSource{}, nil, Config{TruncationCap: 10, MaxPages: -1}, nil)
	assert.Equal(t, 10, w.cfg.TruncationCap)
	assert.Equal(t, icp.MaxPages, w.cfg.MaxPages)
}
