package file

import (
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

type xlsxWriter struct {
	path string
	f    *excelize.File
	sw   *excelize.StreamWriter
	row  int
}

func newXLSXWriter(path string) (*xlsxWriter, error) {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter(f.GetSheetName(0))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open xlsx stream: %w", err)
	}
	x := &xlsxWriter{path: path, f: f, sw: sw}
	if err := x.setRow(header()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return x, nil
}

func (x *xlsxWriter) write(id string, fields []string) error {
	return x.setRow(append([]string{id}, fields...))
}

func (x *xlsxWriter) setRow(values []string) error {
	x.row++
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return fmt.Errorf("xlsx cell: %w", err)
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	if err := x.sw.SetRow(cell, row); err != nil {
		return fmt.Errorf("xlsx row %d: %w", x.row, err)
	}
	return nil
}

// close writes the workbook; the stream holds every row until then.
func (x *xlsxWriter) close() error {
	if err := x.sw.Flush(); err != nil {
		return errors.Join(fmt.Errorf("flush xlsx: %w", err), x.f.Close())
	}
	if err := x.f.SaveAs(x.path); err != nil {
		return errors.Join(fmt.Errorf("save %s: %w", x.path, err), x.f.Close())
	}
	return x.f.Close()
}
