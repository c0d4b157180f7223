// Package workbook reads scenario workbooks. A scenario sheet holds one
// field per row: name, value, and an optional override marker.
package workbook

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Options configures the workbook parser.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of header rows to skip
}

// ReadRows reads a sheet and returns all rows as string slices.
func ReadRows(path string, opts Options) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "workbook: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		rows = append(rows, rowToStrings(row))
	}

	return rows, nil
}

// Scenario is a parsed scenario workbook.
type Scenario struct {
	Classification string
	Fields         map[string]float64
	Overrides      map[string]float64
}

// ReadScenario parses a scenario sheet. Expected columns are field name,
// numeric value, and an optional third column: "override" marks the row
// as a user override. A row named "classification" carries the case
// classification in its second column instead of a number.
func ReadScenario(path string, opts Options) (*Scenario, error) {
	rows, err := ReadRows(path, opts)
	if err != nil {
		return nil, err
	}

	s := &Scenario{
		Fields:    make(map[string]float64),
		Overrides: make(map[string]float64),
	}
	for i, row := range rows {
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		name := strings.TrimSpace(row[0])
		if strings.EqualFold(name, "classification") {
			s.Classification = strings.TrimSpace(row[1])
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "workbook: row %d: bad value for %q", i+opts.SkipRows+1, name)
		}
		if len(row) >= 3 && strings.EqualFold(strings.TrimSpace(row[2]), "override") {
			s.Overrides[name] = v
		} else {
			s.Fields[name] = v
		}
	}
	return s, nil
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("workbook: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("workbook: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
