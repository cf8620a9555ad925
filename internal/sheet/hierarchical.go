package sheet

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"taxotrack/internal/core"
)

// ParseHierarchical extracts the raw rows of a hierarchical structure
// workbook. Rows keep their 1-based sheet numbers so validation can
// point at the exact cell.
func ParseHierarchical(wb *Workbook) (*core.HierarchicalSheet, error) {
	rows, err := wb.dataSheet(core.SheetHierarchical)
	if err != nil {
		return nil, err
	}

	def, _ := core.FormatByKey(core.FormatHierarchical)
	idx, headerRow, err := locateHeader(rows, def.Sheets[0].Signature)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", core.SheetHierarchical, err)
	}

	out := &core.HierarchicalSheet{Columns: rows[headerRow-1]}
	for i := headerRow; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}
		out.Rows = append(out.Rows, core.HierarchicalRow{
			Row:           i + 1,
			Type:          idx.Get(row, "Type"),
			Level:         idx.Get(row, "Level"),
			SortOrder:     idx.Get(row, "Sort_Order"),
			Area:          idx.Get(row, "Area"),
			CategoryPath:  idx.Get(row, "Category_Path"),
			Category:      idx.Get(row, "Category"),
			AttributeName: idx.Get(row, "Attribute_Name"),
			DataType:      idx.Get(row, "Data_Type"),
			Unit:          idx.Get(row, "Unit"),
			IsRequired:    idx.Get(row, "Is_Required"),
			DefaultValue:  idx.Get(row, "Default_Value"),
			ValidationMin: idx.Get(row, "Validation_Min"),
			ValidationMax: idx.Get(row, "Validation_Max"),
			Description:   idx.Get(row, "Description"),
		})
	}
	return out, nil
}

// ParseStructure reads a structure workbook in whichever supported
// format it arrives in. Three-sheet templates are flattened into
// hierarchical rows; anything else goes through the hierarchical
// parser. The issue list carries row problems found while flattening,
// and rows with issues are dropped from the sheet.
func ParseStructure(wb *Workbook) (*core.HierarchicalSheet, *core.IssueList, error) {
	if m, ok := core.DetectFormat(wb.Shape()); ok && m.Definition.Key == core.FormatTemplate {
		rows, err := ParseTemplate(wb)
		if err != nil {
			return nil, nil, err
		}
		hs, issues := core.TemplateToHierarchical(rows)
		return hs, issues, nil
	}
	hs, err := ParseHierarchical(wb)
	return hs, &core.IssueList{}, err
}

// WriteHierarchical renders the structure as a hierarchical workbook:
// a blank title row, headers on row 2, then areas in sort order, each
// followed depth-first by its categories with their attributes. A Help
// sheet documents the editing rules.
func WriteHierarchical(snap *core.Snapshot) (*excelize.File, error) {
	f, err := newFile(core.SheetHierarchical)
	if err != nil {
		return nil, err
	}

	if err := setRow(f, core.SheetHierarchical, 2, strs(core.HierarchicalColumns)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write headers: %w", err)
	}

	row := 3
	for _, area := range snap.SortedAreas() {
		values := []any{
			"Area", 0, area.SortOrder, area.Name, area.Name, "",
			"", "", "", "", "", "", "", area.Description,
		}
		if err := setRow(f, core.SheetHierarchical, row, values); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		row++

		for _, cat := range snap.RootCategories(area.ID) {
			row, err = writeCategorySubtree(f, snap, area.Name, cat, row)
			if err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	if err := writeHelpSheet(f); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// writeCategorySubtree emits a category row, its attribute rows, then
// its children, returning the next free sheet row.
func writeCategorySubtree(f *excelize.File, snap *core.Snapshot, areaName string, cat *core.Category, row int) (int, error) {
	path := snap.PathFor(cat.ID)

	values := []any{
		"Category", cat.Level, cat.SortOrder, areaName, path, cat.Name,
		"", "", "", "", "", "", "", cat.Description,
	}
	if err := setRow(f, core.SheetHierarchical, row, values); err != nil {
		return row, fmt.Errorf("write row %d: %w", row, err)
	}
	row++

	for _, attr := range snap.AttributesFor(cat.ID) {
		isRequired := "FALSE"
		if attr.IsRequired {
			isRequired = "TRUE"
		}
		min, max := "", ""
		if attr.Rules.Min != nil {
			min = core.FormatNumber(*attr.Rules.Min)
		}
		if attr.Rules.Max != nil {
			max = core.FormatNumber(*attr.Rules.Max)
		}

		values := []any{
			"Attribute", cat.Level + 1, attr.SortOrder, areaName, path, cat.Name,
			attr.Name, string(attr.DataType), attr.Unit, isRequired,
			attr.DefaultValue, min, max, attr.Description,
		}
		if err := setRow(f, core.SheetHierarchical, row, values); err != nil {
			return row, fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}

	for _, child := range snap.ChildCategories(cat.ID) {
		var err error
		row, err = writeCategorySubtree(f, snap, areaName, child, row)
		if err != nil {
			return row, err
		}
	}
	return row, nil
}

func writeHelpSheet(f *excelize.File) error {
	if _, err := f.NewSheet(core.SheetHelp); err != nil {
		return fmt.Errorf("add %s sheet: %w", core.SheetHelp, err)
	}

	lines := []string{
		"STRUCTURE IMPORT GUIDE",
		"",
		"Category_Path identifies existing items. Do not change it for",
		"existing rows: a changed path creates a duplicate instead of an",
		"update. The Category column must match the last part of the path.",
		"",
		"ADD A CATEGORY WITH ATTRIBUTES",
		"Append new rows only, not the whole structure:",
		"  Type=Category, Category_Path=Health > Training > Intervals,",
		"    Category=Intervals, Sort_Order=3",
		"  Type=Attribute, Category_Path=Health > Training > Intervals,",
		"    Category=Intervals, Attribute_Name=Duration, Data_Type=number",
		"Parents must already exist in the structure or earlier in the file.",
		"",
		"EDIT AN EXISTING ITEM",
		"Find the row by Category_Path and edit Description, Unit,",
		"Data_Type, Default_Value, Validation_Min/Max or Is_Required.",
		"Leave Category_Path and Sort_Order unchanged.",
		"",
		"CHANGE DISPLAY ORDER",
		"Edit Sort_Order within the same parent. Lower numbers come first.",
		"",
		"COMMON MISTAKES",
		"Category not matching the last part of Category_Path.",
		"Changing Category_Path on an existing row (makes a new item).",
		"Adding a child whose parent path does not exist.",
		"The same Category_Path on two rows of the file.",
		"",
		"Data_Type one of: number, text, datetime, boolean, link, image.",
		"Is_Required: TRUE or FALSE. Validation_Min/Max: numbers only.",
	}
	return writeLines(f, core.SheetHelp, lines)
}
