package sheet

import (
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"

	"taxotrack/internal/core"
)

// ParseTemplate extracts the raw rows of a three-sheet structure
// template. All three sheets must be present.
func ParseTemplate(wb *Workbook) (*core.TemplateRows, error) {
	def, _ := core.FormatByKey(core.FormatTemplate)

	out := &core.TemplateRows{}
	for _, spec := range def.Sheets {
		rows, ok := wb.Rows(spec.Name)
		if !ok {
			return nil, fmt.Errorf("sheet %s not found", spec.Name)
		}
		idx, headerRow, err := locateHeader(rows, spec.Signature)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Name, err)
		}

		for i := headerRow; i < len(rows); i++ {
			row := rows[i]
			if isEmptyRow(row) {
				continue
			}
			switch spec.Name {
			case core.SheetAreas:
				out.Areas = append(out.Areas, core.AreaRow{
					Row:         i + 1,
					ID:          idx.Get(row, "uuid"),
					Name:        idx.Get(row, "name"),
					Icon:        idx.Get(row, "icon"),
					Color:       idx.Get(row, "color"),
					SortOrder:   idx.Get(row, "sort_order"),
					Description: idx.Get(row, "description"),
				})
			case core.SheetCategories:
				out.Categories = append(out.Categories, core.CategoryRow{
					Row:         i + 1,
					ID:          idx.Get(row, "uuid"),
					AreaID:      idx.Get(row, "area_uuid"),
					ParentID:    idx.Get(row, "parent_uuid"),
					Name:        idx.Get(row, "name"),
					Description: idx.Get(row, "description"),
					Level:       idx.Get(row, "level"),
					SortOrder:   idx.Get(row, "sort_order"),
				})
			case core.SheetAttributes:
				out.Attributes = append(out.Attributes, core.AttributeRow{
					Row:             i + 1,
					ID:              idx.Get(row, "uuid"),
					CategoryID:      idx.Get(row, "category_uuid"),
					Name:            idx.Get(row, "name"),
					DataType:        idx.Get(row, "data_type"),
					Unit:            idx.Get(row, "unit"),
					IsRequired:      idx.Get(row, "is_required"),
					DefaultValue:    idx.Get(row, "default_value"),
					ValidationRules: idx.Get(row, "validation_rules"),
					SortOrder:       idx.Get(row, "sort_order"),
				})
			}
		}
	}
	return out, nil
}

// WriteTemplate reverse-engineers the live structure into a three-sheet
// template workbook, the format backups use. Categories are emitted
// depth-first so parents precede children.
func WriteTemplate(snap *core.Snapshot) (*excelize.File, error) {
	f, err := newFile(core.SheetAreas)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{core.SheetCategories, core.SheetAttributes} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("add %s sheet: %w", name, err)
		}
	}

	if err := setRow(f, core.SheetAreas, 1, strs(core.AreaColumns)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s headers: %w", core.SheetAreas, err)
	}
	if err := setRow(f, core.SheetCategories, 1, strs(core.CategoryColumns)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s headers: %w", core.SheetCategories, err)
	}
	if err := setRow(f, core.SheetAttributes, 1, strs(core.AttributeColumns)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s headers: %w", core.SheetAttributes, err)
	}

	areaRow, catRow, attrRow := 2, 2, 2
	for _, area := range snap.SortedAreas() {
		values := []any{area.ID.String(), area.Name, area.Icon, area.Color, area.SortOrder, area.Description}
		if err := setRow(f, core.SheetAreas, areaRow, values); err != nil {
			f.Close()
			return nil, fmt.Errorf("write area row %d: %w", areaRow, err)
		}
		areaRow++

		for _, cat := range snap.RootCategories(area.ID) {
			catRow, attrRow, err = writeTemplateSubtree(f, snap, cat, catRow, attrRow)
			if err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}

func writeTemplateSubtree(f *excelize.File, snap *core.Snapshot, cat *core.Category, catRow, attrRow int) (int, int, error) {
	parentID := ""
	if cat.ParentID != nil {
		parentID = cat.ParentID.String()
	}

	values := []any{
		cat.ID.String(), cat.AreaID.String(), parentID,
		cat.Name, cat.Description, cat.Level, cat.SortOrder,
	}
	if err := setRow(f, core.SheetCategories, catRow, values); err != nil {
		return catRow, attrRow, fmt.Errorf("write category row %d: %w", catRow, err)
	}
	catRow++

	for _, attr := range snap.AttributesFor(cat.ID) {
		rules := "{}"
		if !attr.Rules.IsZero() {
			encoded, err := json.Marshal(attr.Rules)
			if err != nil {
				return catRow, attrRow, fmt.Errorf("encode rules for %s: %w", attr.Name, err)
			}
			rules = string(encoded)
		}

		values := []any{
			attr.ID.String(), attr.CategoryID.String(), attr.Name,
			string(attr.DataType), attr.Unit, attr.IsRequired,
			attr.DefaultValue, rules, attr.SortOrder,
		}
		if err := setRow(f, core.SheetAttributes, attrRow, values); err != nil {
			return catRow, attrRow, fmt.Errorf("write attribute row %d: %w", attrRow, err)
		}
		attrRow++
	}

	for _, child := range snap.ChildCategories(cat.ID) {
		var err error
		catRow, attrRow, err = writeTemplateSubtree(f, snap, child, catRow, attrRow)
		if err != nil {
			return catRow, attrRow, err
		}
	}
	return catRow, attrRow, nil
}
