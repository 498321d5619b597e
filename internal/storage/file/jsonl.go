package file

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

type jsonlWriter struct {
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	f, err := os.Create(path) //nolint:gosec // operator-supplied output path
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &jsonlWriter{f: f, buf: buf, enc: enc}, nil
}

func (j *jsonlWriter) write(id string, fields []string) error {
	rec := icp.RecordFromFields(fields)
	rec.ID = id
	if err := j.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

func (j *jsonlWriter) close() error {
	return errors.Join(j.buf.Flush(), j.f.Close())
}
