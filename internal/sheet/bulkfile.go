package sheet

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"taxotrack/internal/core"
)

// maxExampleRows caps how many example rows a bulk template carries when
// no categories are selected.
const maxExampleRows = 5

// ParseBulk reads a bulk entry workbook or CSV. The Category cell holds
// the full category path; blank attribute cells mean "not recorded".
func ParseBulk(wb *Workbook) (*core.BulkSheet, error) {
	rows, err := wb.dataSheet(core.SheetEvents)
	if err != nil {
		return nil, err
	}

	def, _ := core.FormatByKey(core.FormatBulk)
	idx, headerRow, err := locateHeader(rows, def.Sheets[0].Signature)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", core.SheetEvents, err)
	}

	attrCols := attributeColumns(rows[headerRow-1], core.BulkFixedColumns)

	sheet := &core.BulkSheet{AttributeColumns: attrCols}
	for i := headerRow; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}

		values := make(map[string]string, len(attrCols))
		for _, col := range attrCols {
			values[col] = idx.Get(row, col)
		}
		sheet.Rows = append(sheet.Rows, core.BulkRow{
			Row:      i + 1,
			Category: idx.Get(row, "Category"),
			Date:     idx.Get(row, "Date"),
			Values:   values,
			Comment:  idx.Get(row, core.ColumnComment),
		})
	}
	return sheet, nil
}

// WriteBulkTemplate builds a bulk entry workbook with one example row
// per category. With no selection the first categories of the structure
// serve as examples. Number attributes sample as 0, booleans as FALSE,
// everything else stays empty.
func WriteBulkTemplate(snap *core.Snapshot, categoryIDs []uuid.UUID) (*excelize.File, error) {
	cats := exampleCategories(snap, categoryIDs)

	// Union of attribute names across the example categories, first
	// occurrence wins so shared names share a column.
	var attrCols []string
	seen := make(map[string]bool)
	for _, cat := range cats {
		for _, attr := range snap.AttributesFor(cat.ID) {
			key := strings.ToLower(attr.Name)
			if !seen[key] {
				seen[key] = true
				attrCols = append(attrCols, attr.Name)
			}
		}
	}

	f, err := newFile(core.SheetEvents)
	if err != nil {
		return nil, err
	}

	headers := make([]string, 0, len(core.BulkFixedColumns)+len(attrCols)+1)
	headers = append(headers, core.BulkFixedColumns...)
	headers = append(headers, attrCols...)
	headers = append(headers, core.ColumnComment)

	if err := setRow(f, core.SheetEvents, 1, strs(headers)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write headers: %w", err)
	}

	today := time.Now().Format("2006-01-02")
	for i, cat := range cats {
		samples := make(map[string]string)
		for _, attr := range snap.AttributesFor(cat.ID) {
			switch attr.DataType {
			case core.TypeNumber:
				samples[strings.ToLower(attr.Name)] = "0"
			case core.TypeBoolean:
				samples[strings.ToLower(attr.Name)] = "FALSE"
			default:
				samples[strings.ToLower(attr.Name)] = ""
			}
		}

		values := make([]string, 0, len(headers))
		values = append(values, snap.PathFor(cat.ID), today)
		for _, col := range attrCols {
			values = append(values, samples[strings.ToLower(col)])
		}
		values = append(values, "")

		if err := setRow(f, core.SheetEvents, i+2, strs(values)); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := writeBulkInstructions(f); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// exampleCategories resolves the selected category ids against the
// snapshot, or picks the first categories of the structure walk.
func exampleCategories(snap *core.Snapshot, ids []uuid.UUID) []*core.Category {
	if len(ids) > 0 {
		out := make([]*core.Category, 0, len(ids))
		for _, id := range ids {
			if cat, ok := snap.CategoryByID(id); ok {
				out = append(out, cat)
			}
		}
		return out
	}

	var out []*core.Category
	for _, area := range snap.SortedAreas() {
		for _, root := range snap.RootCategories(area.ID) {
			out = appendSubtree(snap, out, root)
		}
	}
	if len(out) > maxExampleRows {
		out = out[:maxExampleRows]
	}
	return out
}

func appendSubtree(snap *core.Snapshot, out []*core.Category, cat *core.Category) []*core.Category {
	out = append(out, cat)
	for _, child := range snap.ChildCategories(cat.ID) {
		out = appendSubtree(snap, out, child)
	}
	return out
}

func writeBulkInstructions(f *excelize.File) error {
	if _, err := f.NewSheet(core.SheetInstructions); err != nil {
		return fmt.Errorf("add %s sheet: %w", core.SheetInstructions, err)
	}

	lines := []string{
		"BULK IMPORT INSTRUCTIONS",
		"",
		"CATEGORY",
		"Use the full path with \" > \" as separator, e.g. Health > Sleep",
		"or Training > Cardio > Running. Copy exact paths from the",
		"structure view.",
		"",
		"DATE",
		"YYYY-MM-DD recommended. DD.MM.YYYY and DD/MM/YYYY also work.",
		"",
		"MIXED CATEGORIES",
		"Rows may use different categories in the same file. Fill only the",
		"attribute columns of that row's category and leave the rest empty.",
		"Empty cells are fine unless the attribute is required.",
		"",
		"DUPLICATES",
		"Same category and same date counts as a duplicate. On import you",
		"choose to skip duplicates or add them anyway.",
		"",
		"TIPS",
		"Download a fresh template after structure changes.",
		"Test with one or two rows first.",
		"Check the validation preview before importing.",
	}
	return writeLines(f, core.SheetInstructions, lines)
}
