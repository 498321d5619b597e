package file

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// utf8BOM lets spreadsheet tools detect UTF-8 when opening the file.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type csvWriter struct {
	f   *os.File
	enc io.WriteCloser
	w   *csv.Writer
}

func newCSVWriter(path, charset string) (*csvWriter, error) {
	var encoder *encoding.Encoder
	switch strings.ToLower(charset) {
	case "", EncodingUTF8, "utf8":
	case EncodingGBK, "gb18030":
		// Characters outside GBK become '?' instead of failing the row.
		encoder = encoding.ReplaceUnsupported(simplifiedchinese.GBK.NewEncoder())
	default:
		return nil, fmt.Errorf("unsupported csv encoding %q", charset)
	}

	f, err := os.Create(path) //nolint:gosec // operator-supplied output path
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	cw := &csvWriter{f: f}
	var out io.Writer = f
	if encoder != nil {
		cw.enc = transform.NewWriter(f, encoder)
		out = cw.enc
	} else if _, err := f.Write(utf8BOM); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write csv bom: %w", err)
	}
	cw.w = csv.NewWriter(out)
	if err := cw.w.Write(header()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

func (c *csvWriter) write(id string, fields []string) error {
	if err := c.w.Write(append([]string{id}, fields...)); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvWriter) close() error {
	c.w.Flush()
	errs := []error{c.w.Error()}
	if c.enc != nil {
		errs = append(errs, c.enc.Close())
	}
	errs = append(errs, c.f.Close())
	return errors.Join(errs...)
}
