package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

func TestEnumerateUnits(t *testing.T) {
	t.Parallel()

	units, err := EnumerateUnits("20200101", "20200103", "北京")
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "2020-01-01", units[0].Day())
	assert.Equal(t, "2020-01-03", units[2].Day())
	assert.Equal(t, "北京", units[1].Province)
	assert.Equal(t, time.UTC, units[0].Date.Location())
}

func TestEnumerateUnits_SingleDayAndMonthBoundary(t *testing.T) {
	t.Parallel()

	units, err := EnumerateUnits("20200101", "20200101", "")
	require.NoError(t, err)
	require.Len(t, units, 1)

	units, err = EnumerateUnits("20200228", "20200301", "")
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "2020-02-29", units[1].Day())
}

func TestEnumerateUnits_StartAfterEnd(t *testing.T) {
	t.Parallel()

	units, err := EnumerateUnits("20200105", "20200101", "")
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestEnumerateUnits_InvalidDate(t *testing.T) {
	t.Parallel()

	for _, tc := range [][2]string{
		{"2020-01-01", "20200102"},
		{"20200101", "20201301"},
		{"", "20200101"},
	} {
		_, err := EnumerateUnits(tc[0], tc[1], "")
		require.ErrorIs(t, err, icp.ErrConfig, "%v", tc)
	}
}

// stubProcessor returns n rows per day, failing the configured days.
type stubProcessor struct {
	rows     int
	fail     map[string]bool
	active   atomic.Int32
	peak     atomic.Int32
	mu       sync.Mutex
	seenDays []string
}

func (s *stubProcessor) Process(_ context.Context, unit icp.Unit) icp.DayResult {
	n := s.active.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	s.active.Add(-1)

	s.mu.Lock()
	s.seenDays = append(s.seenDays, unit.Day())
	s.mu.Unlock()

	if s.fail[unit.Day()] {
		return icp.DayResult{Unit: unit, Mode: icp.ModeExport, Err: fmt.Errorf("%w: gave up", icp.ErrNetwork)}
	}
	rows := make([]icp.Record, s.rows)
	for i := range rows {
		rows[i] = icp.Record{Domain: fmt.Sprintf("%s-%d", unit.Day(), i)}
	}
	return icp.DayResult{Unit: unit, Mode: icp.ModeExport, Rows: rows}
}

func TestRun_AggregatesWithFailingDay(t *testing.T) {
	t.Parallel()

	units, err := EnumerateUnits("20200101", "20200103", "")
	require.NoError(t, err)
	proc := &stubProcessor{rows: 4, fail: map[string]bool{"2020-01-02": true}}

	res := New(proc, 2, zap.NewNop()).Run(context.Background(), units)

	require.Len(t, res.Days, 3)
	assert.Len(t, res.Rows, 8)
	assert.Error(t, res.Days[1].Err)
	assert.NoError(t, res.Days[0].Err)
	assert.Equal(t, "2020-01-01-0", res.Rows[0].Domain)
	assert.Equal(t, "2020-01-03-3", res.Rows[7].Domain)
}

func TestRun_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	units, err := EnumerateUnits("20200101", "20200120", "")
	require.NoError(t, err)
	proc := &stubProcessor{rows: 1}

	res := New(proc, 3, nil).Run(context.Background(), units)

	assert.Len(t, res.Rows, 20)
	assert.Len(t, proc.seenDays, 20)
	assert.LessOrEqual(t, proc.peak.Load(), int32(3))
}

func TestRun_NoUnits(t *testing.T) {
	t.Parallel()

	res := New(&stubProcessor{}, 0, nil).Run(context.Background(), nil)
	assert.Empty(t, res.Days)
	assert.Empty(t, res.Rows)
}
