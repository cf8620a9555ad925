package sheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"taxotrack/internal/core"
)

// ParseEvents reads a re-uploaded events export. Attribute columns keep
// their sheet order, and blank attribute cells are preserved: on import
// a blank means the value should be cleared.
func ParseEvents(wb *Workbook) (*core.EventSheet, error) {
	rows, err := wb.dataSheet(core.SheetEvents)
	if err != nil {
		return nil, err
	}

	def, _ := core.FormatByKey(core.FormatEvents)
	idx, headerRow, err := locateHeader(rows, def.Sheets[0].Signature)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", core.SheetEvents, err)
	}

	attrCols := attributeColumns(rows[headerRow-1], core.EventFixedColumns)

	sheet := &core.EventSheet{AttributeColumns: attrCols}
	for i := headerRow; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}

		values := make(map[string]string, len(attrCols))
		for _, col := range attrCols {
			values[col] = idx.Get(row, col)
		}
		sheet.Rows = append(sheet.Rows, core.EventRow{
			Row:          i + 1,
			EventID:      idx.Get(row, "Event_ID"),
			CategoryPath: idx.Get(row, "Category_Path"),
			Date:         idx.Get(row, "Date"),
			Values:       values,
			Comment:      idx.Get(row, core.ColumnComment),
		})
	}
	return sheet, nil
}

// WriteEvents renders an assembled export as an events workbook with an
// Instructions sheet.
func WriteEvents(export *core.EventSheet) (*excelize.File, error) {
	f, err := newFile(core.SheetEvents)
	if err != nil {
		return nil, err
	}

	headers := make([]string, 0, len(core.EventFixedColumns)+len(export.AttributeColumns)+1)
	headers = append(headers, core.EventFixedColumns...)
	headers = append(headers, export.AttributeColumns...)
	headers = append(headers, core.ColumnComment)

	if err := setRow(f, core.SheetEvents, 1, strs(headers)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write headers: %w", err)
	}

	for i, r := range export.Rows {
		values := make([]string, 0, len(headers))
		values = append(values, r.EventID, r.CategoryPath, r.Date)
		for _, col := range export.AttributeColumns {
			values = append(values, r.Values[col])
		}
		values = append(values, r.Comment)

		if err := setRow(f, core.SheetEvents, i+2, strs(values)); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := writeEventInstructions(f); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// attributeColumns returns the header cells that are neither fixed
// columns nor Comment, preserving sheet order and casing.
func attributeColumns(header, fixed []string) []string {
	var out []string
	for _, cell := range header {
		if cell == "" {
			continue
		}
		if strings.EqualFold(cell, core.ColumnComment) {
			continue
		}
		isFixed := false
		for _, f := range fixed {
			if strings.EqualFold(cell, f) {
				isFixed = true
				break
			}
		}
		if !isFixed {
			out = append(out, cell)
		}
	}
	return out
}

func writeEventInstructions(f *excelize.File) error {
	if _, err := f.NewSheet(core.SheetInstructions); err != nil {
		return fmt.Errorf("add %s sheet: %w", core.SheetInstructions, err)
	}

	lines := []string{
		"EVENTS EXPORT",
		"",
		"This file contains your exported events. Edit it and re-import to",
		"apply the changes.",
		"",
		"READ-ONLY: Event_ID, Category_Path, Date.",
		"These identify which event to update. Do not edit them.",
		"",
		"EDITABLE: attribute columns and Comment.",
		"Changed cells are detected and applied on import.",
		"Clearing a cell removes the stored value.",
		"",
		"HOW TO IMPORT",
		"1. Edit the editable columns and save the file.",
		"2. Upload it on the events page.",
		"3. Review the detected changes and confirm.",
		"",
		"Rows without an Event_ID and unknown ids are reported and skipped.",
	}
	return writeLines(f, core.SheetInstructions, lines)
}
