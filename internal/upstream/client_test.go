package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

var testUnit = icp.Unit{Date: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Province: "P1"}

func TestExportRequestShape(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, nil, nil, Config{}, nil)
	req := c.ExportRequest(testUnit)
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, DefaultExportURL, req.URL)

	want := map[string]string{
		"_host":        "",
		"_companyName": "",
		"_companyXZ":   "不限",
		"_wname":       "",
		"_provinces":   "P1",
		"_btime":       "2020-01-01",
		"_etime":       "2020-01-01",
		"_page":        "",
		"saveData":     "导出所有结果",
	}
	require.Len(t, req.Form, len(want))
	for k, v := range want {
		require.Contains(t, req.Form, k)
		require.Equal(t, v, req.Form.Get(k), k)
	}
}

func TestPageRequestShape(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, nil, nil, Config{QueryURL: "http://icp.example/conditions"}, nil)
	req := c.PageRequest(testUnit, 7)
	require.Equal(t, http.MethodGet, req.Method)
	require.Equal(t, "http://icp.example/conditions", req.URL)

	want := map[string]string{
		"companyName": "",
		"webName":     "",
		"companyXZ":   "不限",
		"provinces":   "P1",
		"btime":       "2020-01-01",
		"etime":       "2020-01-01",
		"page":        "7",
	}
	require.Len(t, req.Form, len(want))
	for k, v := range want {
		require.Equal(t, v, req.Form.Get(k), k)
	}
}

func TestExportRetriesMalformedPayloads(t *testing.T) {
	t.Parallel()

	errorPage := icp.Payload{Body: []byte("<html>Server Error</html>"), ContentType: "text/html"}
	fetcher := &scriptedFetcher{steps: []step{
		{err: errors.New("connection reset")},
		{payload: errorPage},
		{payload: icp.Payload{Body: workbook(t, 2)}},
	}}
	c := New(fetcher, icp.DefaultRetryPolicy(), nil, nil, Config{}, zap.NewNop())

	rows, err := c.Export(context.Background(), testUnit)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 3, fetcher.callCount())
}

func TestExportGivesUpAfterBudget(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{fallback: step{err: errors.New("timeout")}}
	c := New(fetcher, icp.DefaultRetryPolicy(), nil, nil, Config{}, zap.NewNop())

	rows, err := c.Export(context.Background(), testUnit)
	require.ErrorIs(t, err, icp.ErrNetwork)
	require.NotErrorIs(t, err, icp.ErrParse)
	require.Nil(t, rows)
	require.Equal(t, icp.DefaultMaxAttempts, fetcher.callCount())
}

func TestExportParseFailuresShareBudget(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{fallback: step{payload: icp.Payload{Body: []byte("<html/>")}}}
	c := New(fetcher, icp.NewRetryPolicy(3, 0, 0), nil, nil, Config{}, zap.NewNop())

	_, err := c.Export(context.Background(), testUnit)
	require.ErrorIs(t, err, icp.ErrNetwork)
	require.ErrorIs(t, err, icp.ErrParse)
	require.Equal(t, 3, fetcher.callCount())
}

func TestExportEmptyDayIsNotAnError(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []step{{payload: icp.Payload{Body: workbook(t, 0)}}}}
	c := New(fetcher, nil, nil, nil, Config{}, nil)

	rows, err := c.Export(context.Background(), testUnit)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Equal(t, 1, fetcher.callCount())
}

func TestPageRetriesMissingPagination(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []step{
		{payload: icp.Payload{Body: []byte("<html><body>busy</body></html>"), ContentType: "text/html"}},
		{payload: icp.Payload{Body: []byte(listing(4, 2)), ContentType: "text/html; charset=utf-8"}},
	}}
	c := New(fetcher, nil, nil, nil, Config{}, zap.NewNop())

	page, err := c.Page(context.Background(), testUnit, 2)
	require.NoError(t, err)
	require.Equal(t, 4, page.TotalPages)
	require.Len(t, page.Rows, 2)
	require.Equal(t, 2, fetcher.callCount())
	require.Equal(t, "2", fetcher.lastRequest().Form.Get("page"))
}

func TestPayloadsAreArchived(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []step{
		{payload: icp.Payload{Body: workbook(t, 1), ContentType: "application/vnd.ms-excel"}},
		{payload: icp.Payload{Body: []byte(listing(1, 1)), ContentType: "text/html"}},
	}}
	archive := &recordingArchive{}
	c := New(fetcher, nil, archive, fixedHasher("abc"), Config{ArchivePrefix: "/raw/"}, zap.NewNop())

	_, err := c.Export(context.Background(), testUnit)
	require.NoError(t, err)
	_, err = c.Page(context.Background(), testUnit, 1)
	require.NoError(t, err)

	require.Equal(t, []string{
		"raw/P1/2020-01-01/export-abc.xlsx",
		"raw/P1/2020-01-01/page001-abc.html",
	}, archive.paths)
	require.Equal(t, []string{"application/vnd.ms-excel", "text/html"}, archive.types)
}

func TestArchiveFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{steps: []step{{payload: icp.Payload{Body: workbook(t, 3)}}}}
	archive := &recordingArchive{err: errors.New("bucket missing")}
	c := New(fetcher, nil, archive, fixedHasher("abc"), Config{}, zap.NewNop())

	rows, err := c.Export(context.Background(), testUnit)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestArchivePathSanitizesProvince(t *testing.T) {
	t.Parallel()

	c := New(nil, nil, nil, nil, Config{}, nil)
	unit := icp.Unit{Date: testUnit.Date}
	require.Equal(t, "all/2020-01-01/export-x.xls", c.archivePath("export", unit, "x", "xls"))
	unit.Province = "../etc"
	require.Equal(t, "__etc/2020-01-01/export-x.xls", c.archivePath("export", unit, "x", "xls"))
}

func TestExportExt(t *testing.T) {
	t.Parallel()

	require.Equal(t, "xlsx", exportExt([]byte("PK\x03\x04rest")))
	require.Equal(t, "xls", exportExt([]byte{0xD0, 0xCF, 0x11, 0xE0}))
}

type step struct {
	payload icp.Payload
	err     error
}

type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []step
	fallback step
	calls    int
	requests []icp.Request
}

func (f *scriptedFetcher) Fetch(_ context.Context, req icp.Request) (icp.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	s := f.fallback
	if len(f.steps) > 0 {
		s = f.steps[0]
		f.steps = f.steps[1:]
	}
	return s.payload, s.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) lastRequest() icp.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type recordingArchive struct {
	paths []string
	types []string
	err   error
}

func (a *recordingArchive) PutObject(_ context.Context, path, contentType string, data io.Reader) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	a.paths = append(a.paths, path)
	a.types = append(a.types, contentType)
	return "memory://" + path, nil
}

type fixedHasher string

func (h fixedHasher) Hash([]byte) (string, error) {
	return string(h), nil
}

func workbook(t *testing.T, rows int) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // in-memory workbook
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", "ICP备案查询结果"))
	require.NoError(t, f.SetCellValue(sheet, "A2", "序号"))
	for i := 1; i <= rows; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		values := []any{i, fmt.Sprintf("site%d.cn", i), "Owner", "企业", "京ICP备1号", "Site", "www.site.cn", "2020-01-01"}
		require.NoError(t, f.SetSheetRow(sheet, cell, &values))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func listing(total, rows int) string {
	var b strings.Builder
	b.WriteString(`<html><body><table><tbody id="result_table">`)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, `<tr><td><a>d%d.cn</a></td><td>o</td><td>t</td><td>c</td><td>s</td><td><span><a>h</a></span></td><td>2020-01-01</td></tr>`, i)
	}
	fmt.Fprintf(&b, `</tbody></table><div id="pagelist"><span>共%d页</span></div></body></html>`, total)
	return b.String()
}
