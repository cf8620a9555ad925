// Package sheet reads and writes the workbook formats of the structure
// and event pipelines. Readers return raw rows with cleaned cells;
// semantic validation stays in core so problems surface as per-row
// issues instead of reader errors. Writers reproduce the established
// layouts without styling.
package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"taxotrack/internal/core"
)

// csvSheet names the synthetic sheet of a CSV upload.
const csvSheet = "Sheet1"

// Workbook is an in-memory view of an uploaded spreadsheet: sheet names
// in file order plus fully cleaned cell rows.
type Workbook struct {
	Order  []string
	Sheets map[string][][]string
}

// Open reads an upload as XLSX or, when the filename says so, CSV.
func Open(r io.Reader, filename string) (*Workbook, error) {
	if strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return OpenCSV(r)
	}
	return OpenWorkbook(r)
}

// OpenWorkbook reads an XLSX stream into a Workbook.
func OpenWorkbook(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	wb := &Workbook{Sheets: make(map[string][][]string)}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", name, err)
		}
		cleaned := make([][]string, len(rows))
		for i, row := range rows {
			cleaned[i] = cleanRow(row)
		}
		wb.Order = append(wb.Order, name)
		wb.Sheets[name] = cleaned
	}

	if len(wb.Order) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return wb, nil
}

// OpenCSV reads a CSV stream as a single-sheet workbook. The stream is
// BOM-stripped and UTF-8 sanitized on the fly.
func OpenCSV(r io.Reader) (*Workbook, error) {
	cr := csv.NewReader(wrapReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	cleaned := make([][]string, len(records))
	for i, row := range records {
		cleaned[i] = cleanRow(row)
	}

	return &Workbook{
		Order:  []string{csvSheet},
		Sheets: map[string][][]string{csvSheet: cleaned},
	}, nil
}

// Shape summarizes the workbook for format detection.
func (w *Workbook) Shape() core.WorkbookShape {
	shape := core.WorkbookShape{
		Sheets: w.Order,
		Rows:   make(map[string][][]string, len(w.Order)),
	}
	for _, name := range w.Order {
		rows := w.Sheets[name]
		if len(rows) > core.MaxHeaderScanRows {
			rows = rows[:core.MaxHeaderScanRows]
		}
		shape.Rows[name] = rows
	}
	return shape
}

// Rows returns the named sheet's rows, matching the name
// case-insensitively.
func (w *Workbook) Rows(name string) ([][]string, bool) {
	for _, have := range w.Order {
		if strings.EqualFold(have, name) {
			return w.Sheets[have], true
		}
	}
	return nil, false
}

// dataSheet resolves the sheet a parser should read: the named sheet, or
// the lone sheet of a single-sheet workbook (CSV uploads, renamed tabs).
func (w *Workbook) dataSheet(name string) ([][]string, error) {
	if rows, ok := w.Rows(name); ok {
		return rows, nil
	}
	if len(w.Order) == 1 {
		return w.Sheets[w.Order[0]], nil
	}
	return nil, fmt.Errorf("sheet %s not found (have %s)", name, strings.Join(w.Order, ", "))
}

// locateHeader finds the header row for a signature and returns its
// column index plus the 1-based header row number.
func locateHeader(rows [][]string, signature []string) (core.HeaderIndex, int, error) {
	headerRow, _ := core.FindHeaderRow(rows, signature)
	if headerRow == 0 {
		return nil, 0, fmt.Errorf("no header row with columns %s in the first %d rows",
			strings.Join(signature, ", "), core.MaxHeaderScanRows)
	}
	return core.MakeHeaderIndex(rows[headerRow-1]), headerRow, nil
}

func cleanRow(row []string) []string {
	out := make([]string, len(row))
	for i, cell := range row {
		out[i] = core.CleanCell(cell)
	}
	return out
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// newFile starts a workbook whose first sheet has the given name.
func newFile(first string) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", first); err != nil {
		f.Close()
		return nil, fmt.Errorf("name sheet %s: %w", first, err)
	}
	return f, nil
}

// setRow writes one row of cell values starting at column A.
func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// writeLines fills column A of a sheet with one value per row, used for
// the plain-text help and instruction sheets.
func writeLines(f *excelize.File, sheet string, lines []string) error {
	for i, line := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, line); err != nil {
			return fmt.Errorf("write %s line %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func strs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
