// Package file writes registration records to a local CSV, JSON lines or XLSX file.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

// Supported formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
	FormatXLSX  = "xlsx"
)

// Supported CSV encodings.
const (
	EncodingUTF8 = "utf-8"
	EncodingGBK  = "gbk"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("file sink closed")

// Config selects the output file and its format.
type Config struct {
	Path     string `mapstructure:"path"`
	Format   string `mapstructure:"format"`
	Encoding string `mapstructure:"encoding"`
}

// rowWriter is implemented once per format.
type rowWriter interface {
	write(id string, fields []string) error
	close() error
}

// Sink appends one row per record. It is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	w      rowWriter
	ids    icp.IDGenerator
	closed bool
}

// New creates (truncating) the output file. When Format is empty it is
// inferred from the file extension.
func New(cfg Config, ids icp.IDGenerator) (*Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sink.file.path is required")
	}
	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(cfg.Path)), ".")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	var (
		w   rowWriter
		err error
	)
	switch format {
	case FormatCSV:
		w, err = newCSVWriter(cfg.Path, cfg.Encoding)
	case FormatJSONL, "json", "ndjson":
		w, err = newJSONLWriter(cfg.Path)
	case FormatXLSX:
		w, err = newXLSXWriter(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported file format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return &Sink{w: w, ids: ids}, nil
}

// Write appends record.
func (s *Sink) Write(ctx context.Context, record icp.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", icp.ErrWrite, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %w", icp.ErrWrite, ErrClosed)
	}
	if record.ID == "" && s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("%w: %w", icp.ErrWrite, err)
		}
		record.ID = id
	}
	if err := s.w.write(record.ID, record.Fields()); err != nil {
		return fmt.Errorf("%w: %w", icp.ErrWrite, err)
	}
	return nil
}

// Close flushes buffered output. Calling it twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.close()
}

func header() []string {
	return append([]string{"id"}, icp.FieldNames...)
}
