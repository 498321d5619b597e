// Package parser decodes upstream payloads into registration records.
// Both decoders are pure; they never perform I/O beyond reading the payload.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/icp-exporter/internal/icp"
)

// headerRows is the number of leading sheet rows holding titles and column names.
const headerRows = 2

var (
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipMagic = []byte("PK\x03\x04")
)

// ParseExport decodes a bulk export workbook. A sheet holding only the header
// rows yields an empty, non-nil slice. Anything that is not a workbook (the
// service answers with an HTML error page under load) fails with icp.ErrParse.
func ParseExport(payload []byte) ([]icp.Record, error) {
	grid, err := readFirstSheet(payload)
	if err != nil {
		return nil, err
	}
	return recordsFromGrid(grid), nil
}

func readFirstSheet(payload []byte) (grid [][]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			grid = nil
			err = fmt.Errorf("%w: corrupt workbook: %v", icp.ErrParse, r)
		}
	}()
	switch {
	case len(payload) == 0:
		return nil, fmt.Errorf("%w: empty export payload", icp.ErrParse)
	case bytes.HasPrefix(payload, oleMagic):
		return readXLS(payload)
	case bytes.HasPrefix(payload, zipMagic):
		return readXLSX(payload)
	default:
		return nil, fmt.Errorf("%w: export payload is not a workbook (starts with %q)", icp.ErrParse, preview(payload))
	}
}

func readXLS(payload []byte) ([][]string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(payload), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("%w: open xls: %v", icp.ErrParse, err)
	}
	if wb == nil {
		return nil, fmt.Errorf("%w: xls has no Workbook stream", icp.ErrParse)
	}
	if wb.NumSheets() == 0 {
		return nil, fmt.Errorf("%w: xls has no sheets", icp.ErrParse)
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%w: xls first sheet unreadable", icp.ErrParse)
	}
	grid := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheetRow(sheet, i)
		if row == nil {
			grid = append(grid, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

// sheetRow returns nil for a row index with neither a ROW record nor a cell.
// WorkSheet.Row dereferences its map entry unchecked, so a gap would panic.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

func readXLSX(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", icp.ErrParse, err)
	}
	defer f.Close() //nolint:errcheck // reader-backed workbook holds no files

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: xlsx has no sheets", icp.ErrParse)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read xlsx rows: %v", icp.ErrParse, err)
	}
	return rows, nil
}

// recordsFromGrid maps sheet rows to records. Column 0 is the sheet's serial
// number and stands in for the identity field; columns 1-7 are content.
func recordsFromGrid(grid [][]string) []icp.Record {
	out := make([]icp.Record, 0, max(len(grid)-headerRows, 0))
	if len(grid) <= headerRows {
		return out
	}
	for _, row := range grid[headerRows:] {
		if blankRow(row) {
			continue
		}
		values := make([]string, 0, len(icp.FieldNames))
		for _, cell := range row[1:] {
			values = append(values, strings.TrimSpace(cell))
		}
		out = append(out, icp.RecordFromFields(values))
	}
	return out
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func preview(payload []byte) string {
	const n = 32
	if len(payload) > n {
		return string(payload[:n])
	}
	return string(payload)
}
