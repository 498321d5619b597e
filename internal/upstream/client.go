// Package upstream issues the two request shapes the registration lookup
// service understands and decodes their payloads. Fetch and parse share one
// retry budget per request.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/icp"
	"github.com/JakeFAU/icp-exporter/internal/metrics"
	"github.com/JakeFAU/icp-exporter/internal/parser"
)

const (
	// DefaultExportURL serves the bulk spreadsheet download.
	DefaultExportURL = "http://icp.chinaz.com/saveExc.ashx"
	// DefaultQueryURL serves the paginated listing.
	DefaultQueryURL = "http://icp.chinaz.com/conditions"

	endpointExport = "export"
	endpointPage   = "page"

	unrestricted = "不限"
	exportAll    = "导出所有结果"
)

// Config controls request targets and payload archival.
type Config struct {
	ExportURL     string
	QueryURL      string
	ArchivePrefix string
}

// Client implements icp.Source against the upstream service.
type Client struct {
	fetcher icp.Fetcher
	retry   *icp.RetryPolicy
	archive icp.BlobStore
	hasher  icp.Hasher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Client. archive and hasher may be nil to disable archival.
func New(
	fetcher icp.Fetcher,
	retry *icp.RetryPolicy,
	archive icp.BlobStore,
	hasher icp.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Client {
	if retry == nil {
		retry = icp.DefaultRetryPolicy()
	}
	if cfg.ExportURL == "" {
		cfg.ExportURL = DefaultExportURL
	}
	if cfg.QueryURL == "" {
		cfg.QueryURL = DefaultQueryURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		fetcher: fetcher,
		retry:   retry,
		archive: archive,
		hasher:  hasher,
		cfg:     cfg,
		logger:  logger,
	}
}

// ExportRequest builds the form POST for a unit's bulk export. Company and
// site filters are always empty.
func (c *Client) ExportRequest(unit icp.Unit) icp.Request {
	day := unit.Day()
	form := url.Values{}
	form.Set("_host", "")
	form.Set("_companyName", "")
	form.Set("_companyXZ", unrestricted)
	form.Set("_wname", "")
	form.Set("_provinces", unit.Province)
	form.Set("_btime", day)
	form.Set("_etime", day)
	form.Set("_page", "")
	form.Set("saveData", exportAll)
	return icp.Request{Method: http.MethodPost, URL: c.cfg.ExportURL, Form: form}
}

// PageRequest builds the query GET for one 1-based listing page.
func (c *Client) PageRequest(unit icp.Unit, page int) icp.Request {
	day := unit.Day()
	query := url.Values{}
	query.Set("companyName", "")
	query.Set("webName", "")
	query.Set("companyXZ", unrestricted)
	query.Set("provinces", unit.Province)
	query.Set("btime", day)
	query.Set("etime", day)
	query.Set("page", strconv.Itoa(page))
	return icp.Request{Method: http.MethodGet, URL: c.cfg.QueryURL, Form: query}
}

// Export fetches and decodes the bulk export for unit.
func (c *Client) Export(ctx context.Context, unit icp.Unit) ([]icp.Record, error) {
	req := c.ExportRequest(unit)
	var rows []icp.Record
	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		payload, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			err = fmt.Errorf("fetch export: %w", err)
			c.attemptFailed(endpointExport, unit, 0, attempt, payload.Duration, err)
			return err
		}
		parsed, err := parser.ParseExport(payload.Body)
		if err != nil {
			c.attemptFailed(endpointExport, unit, 0, attempt, payload.Duration, err)
			return err
		}
		metrics.ObserveUpstream(endpointExport, "ok", payload.Duration)
		c.archivePayload(ctx, endpointExport, unit, payload, exportExt(payload.Body))
		rows = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export %s %s: %w", unit.Province, unit.Day(), err)
	}
	return rows, nil
}

// Page fetches and decodes one listing page for unit.
func (c *Client) Page(ctx context.Context, unit icp.Unit, page int) (icp.Page, error) {
	req := c.PageRequest(unit, page)
	var result icp.Page
	err := c.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		payload, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			err = fmt.Errorf("fetch page: %w", err)
			c.attemptFailed(endpointPage, unit, page, attempt, payload.Duration, err)
			return err
		}
		parsed, err := parser.ParsePage(payload.Body, payload.ContentType)
		if err != nil {
			c.attemptFailed(endpointPage, unit, page, attempt, payload.Duration, err)
			return err
		}
		metrics.ObserveUpstream(endpointPage, "ok", payload.Duration)
		c.archivePayload(ctx, fmt.Sprintf("page%03d", page), unit, payload, "html")
		result = parsed
		return nil
	})
	if err != nil {
		return icp.Page{}, fmt.Errorf("page %d %s %s: %w", page, unit.Province, unit.Day(), err)
	}
	return result, nil
}

func (c *Client) attemptFailed(endpoint string, unit icp.Unit, page, attempt int, took time.Duration, err error) {
	reason := icp.FailureReason(err)
	metrics.ObserveUpstream(endpoint, reason, took)
	metrics.ObserveRetry(endpoint, reason)
	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.String("province", unit.Province),
		zap.String("day", unit.Day()),
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", c.retry.MaxAttempts()),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if page > 0 {
		fields = append(fields, zap.Int("page", page))
	}
	if reason == "parse" {
		c.logger.Warn("upstream returned an unexpected payload", fields...)
		return
	}
	c.logger.Warn("upstream request failed", fields...)
}

// archivePayload stores the raw body under
// <prefix>/<province>/<day>/<kind>-<sha256>.<ext>. Failures are logged only.
func (c *Client) archivePayload(ctx context.Context, kind string, unit icp.Unit, payload icp.Payload, ext string) {
	if c.archive == nil || c.hasher == nil {
		return
	}
	sum, err := c.hasher.Hash(payload.Body)
	if err != nil {
		c.logger.Warn("hash payload failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	path := c.archivePath(kind, unit, sum, ext)
	uri, err := c.archive.PutObject(ctx, path, payload.ContentType, bytes.NewReader(payload.Body))
	if err != nil {
		c.logger.Warn("archive payload failed", zap.String("path", path), zap.Error(err))
		return
	}
	c.logger.Debug("payload archived", zap.String("uri", uri), zap.Int("bytes", len(payload.Body)))
}

func (c *Client) archivePath(kind string, unit icp.Unit, sum, ext string) string {
	name := fmt.Sprintf("%s/%s/%s-%s.%s", provinceSegment(unit.Province), unit.Day(), kind, sum, ext)
	prefix := strings.Trim(c.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// exportExt names the workbook container; the service has served both.
func exportExt(body []byte) string {
	if bytes.HasPrefix(body, []byte("PK")) {
		return "xlsx"
	}
	return "xls"
}

func provinceSegment(province string) string {
	p := strings.TrimSpace(province)
	if p == "" {
		return "all"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(p)
}
