package core

// materialize.go turns a parsed hierarchical sheet into an in-memory
// snapshot with no database involved. The offline tooling uses it to
// treat one workbook as the baseline another workbook is compared
// against.

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// SnapshotFromSheet materializes a hierarchical sheet into a snapshot
// with fresh UUIDs. Unlike BuildChangeSet, every area and parent
// category must be defined by an earlier row of the same sheet; a row
// that references anything else becomes an error on the issue list.
func SnapshotFromSheet(sheet *HierarchicalSheet) (*Snapshot, *IssueList) {
	issues := &IssueList{}

	if missing := missingColumns(sheet.Columns); len(missing) > 0 {
		issues.AddError(0, "Columns", "Missing required columns: "+strings.Join(missing, ", "))
		return NewSnapshot(nil, nil, nil), issues
	}

	var (
		areas []Area
		cats  []Category
		attrs []AttributeDefinition
	)
	areaByName := make(map[string]uuid.UUID)
	catByPath := make(map[string]uuid.UUID)

	for _, row := range sheet.Rows {
		if issues.ErrorCount() >= MaxValidationIssues {
			break
		}
		switch row.Type {
		case "Area":
			materializeArea(issues, row, areaByName, &areas)
		case "Category":
			materializeCategory(issues, row, areaByName, catByPath, &cats)
		case "Attribute":
			materializeAttribute(issues, row, catByPath, &attrs)
		}
	}
	return NewSnapshot(areas, cats, attrs), issues
}

func materializeArea(issues *IssueList, row HierarchicalRow, areaByName map[string]uuid.UUID, areas *[]Area) {
	name := row.CategoryPath
	if name == "" {
		return
	}
	if _, dup := areaByName[foldKey(name)]; dup {
		issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Duplicate area %q", name))
		return
	}

	id := uuid.New()
	areaByName[foldKey(name)] = id
	*areas = append(*areas, Area{
		ID:          id,
		Name:        name,
		Icon:        DefaultAreaIcon,
		Color:       DefaultAreaColor,
		SortOrder:   parseSortOrder(issues, row.Row, row.SortOrder),
		Description: row.Description,
	})
}

func materializeCategory(issues *IssueList, row HierarchicalRow, areaByName, catByPath map[string]uuid.UUID, cats *[]Category) {
	if row.CategoryPath == "" || row.Category == "" {
		return
	}
	parts := SplitPath(row.CategoryPath)
	path := strings.Join(parts, PathSeparator)

	level := len(parts) - 1
	if level < 1 {
		issues.AddError(row.Row, "Category_Path", "Category_Path must contain an area and a category")
		return
	}
	if level > MaxCategoryLevel {
		issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Category nesting exceeds %d levels", MaxCategoryLevel))
		return
	}

	areaID, ok := areaByName[foldKey(parts[0])]
	if !ok {
		issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Area %q not found", parts[0]))
		return
	}

	var parentID *uuid.UUID
	if len(parts) > 2 {
		pp := strings.Join(parts[:len(parts)-1], PathSeparator)
		pid, ok := catByPath[foldKey(pp)]
		if !ok {
			issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Parent category %q not found", pp))
			return
		}
		parentID = &pid
	}

	if _, dup := catByPath[foldKey(path)]; dup {
		issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Duplicate category path %q", path))
		return
	}

	id := uuid.New()
	catByPath[foldKey(path)] = id
	*cats = append(*cats, Category{
		ID:          id,
		AreaID:      areaID,
		ParentID:    parentID,
		Name:        row.Category,
		Level:       level,
		SortOrder:   parseSortOrder(issues, row.Row, row.SortOrder),
		Description: row.Description,
	})
}

// TemplateToHierarchical flattens a three-sheet template into the
// hierarchical sheet shape so template uploads and backup restores run
// through the same change-set pipeline. The uuid columns only bind the
// template's rows to each other; identity against the live structure
// stays path-based like every other import.
func TemplateToHierarchical(rows *TemplateRows) (*HierarchicalSheet, *IssueList) {
	issues := &IssueList{}
	out := &HierarchicalSheet{Columns: HierarchicalColumns}

	areaNames := make(map[string]string, len(rows.Areas))
	for _, a := range rows.Areas {
		if a.Name == "" {
			issues.AddError(a.Row, "name", "Area name is required")
			continue
		}
		if a.ID != "" {
			if _, dup := areaNames[foldKey(a.ID)]; dup {
				issues.AddError(a.Row, "uuid", fmt.Sprintf("Duplicate area uuid %q", a.ID))
				continue
			}
			areaNames[foldKey(a.ID)] = a.Name
		}
		out.Rows = append(out.Rows, HierarchicalRow{
			Row:          a.Row,
			Type:         "Area",
			Level:        "0",
			SortOrder:    a.SortOrder,
			Area:         a.Name,
			CategoryPath: a.Name,
			Description:  a.Description,
		})
	}

	byPath, byID := resolveCategoryPaths(issues, rows, areaNames)

	// Children sort after parents so the change-set builder sees every
	// parent before the rows that reference it. Depth and duplicate-path
	// checks stay with the builder.
	sort.SliceStable(byPath, func(i, j int) bool { return byPath[i].level < byPath[j].level })
	for _, c := range byPath {
		out.Rows = append(out.Rows, c.row)
	}

	for _, a := range rows.Attributes {
		if a.Name == "" {
			issues.AddError(a.Row, "name", "Attribute name is required")
			continue
		}
		path := byID[foldKey(a.CategoryID)]
		if a.CategoryID == "" || path == "" {
			issues.AddError(a.Row, "category_uuid", fmt.Sprintf("Category %q not found in the Categories sheet", a.CategoryID))
			continue
		}
		parts := SplitPath(path)
		min, max := splitRules(issues, a)
		out.Rows = append(out.Rows, HierarchicalRow{
			Row:           a.Row,
			Type:          "Attribute",
			Level:         strconv.Itoa(len(parts)),
			SortOrder:     a.SortOrder,
			Area:          parts[0],
			CategoryPath:  path,
			Category:      parts[len(parts)-1],
			AttributeName: a.Name,
			DataType:      a.DataType,
			Unit:          a.Unit,
			IsRequired:    a.IsRequired,
			DefaultValue:  a.DefaultValue,
			ValidationMin: min,
			ValidationMax: max,

			// The template's attribute sheet has no description column.
			KeepDescription: true,
		})
	}
	return out, issues
}

// pathedCategory is a converted category row carrying its depth for the
// parent-first sort.
type pathedCategory struct {
	level int
	row   HierarchicalRow
}

// resolveCategoryPaths walks parent uuids to build every category's
// full path. It returns the converted rows plus a uuid-to-path index
// for the attribute rows. A failed chain memoizes as an empty path, so
// one bad parent reports once instead of once per descendant.
func resolveCategoryPaths(issues *IssueList, rows *TemplateRows, areaNames map[string]string) ([]pathedCategory, map[string]string) {
	catByID := make(map[string]*CategoryRow, len(rows.Categories))
	for i := range rows.Categories {
		c := &rows.Categories[i]
		if c.ID == "" {
			continue
		}
		if _, dup := catByID[foldKey(c.ID)]; dup {
			issues.AddError(c.Row, "uuid", fmt.Sprintf("Duplicate category uuid %q", c.ID))
			continue
		}
		catByID[foldKey(c.ID)] = c
	}

	paths := make(map[string]string, len(rows.Categories))
	resolving := make(map[string]bool)

	var resolve func(c *CategoryRow) string
	resolve = func(c *CategoryRow) string {
		key := foldKey(c.ID)
		hasID := c.ID != ""
		if hasID {
			if p, done := paths[key]; done {
				return p
			}
			if resolving[key] {
				issues.AddError(c.Row, "parent_uuid", "Category parent chain loops back on itself")
				return ""
			}
			resolving[key] = true
			defer delete(resolving, key)
		}
		fail := func() string {
			if hasID {
				paths[key] = ""
			}
			return ""
		}

		if c.Name == "" {
			issues.AddError(c.Row, "name", "Category name is required")
			return fail()
		}

		var base string
		if c.ParentID == "" {
			name, ok := areaNames[foldKey(c.AreaID)]
			if c.AreaID == "" || !ok {
				issues.AddError(c.Row, "area_uuid", fmt.Sprintf("Area %q not found in the Areas sheet", c.AreaID))
				return fail()
			}
			base = name
		} else {
			parent, ok := catByID[foldKey(c.ParentID)]
			if !ok {
				issues.AddError(c.Row, "parent_uuid", fmt.Sprintf("Parent category %q not found in the Categories sheet", c.ParentID))
				return fail()
			}
			if base = resolve(parent); base == "" {
				return fail()
			}
		}

		path := base + PathSeparator + c.Name
		if hasID {
			paths[key] = path
		}
		return path
	}

	out := make([]pathedCategory, 0, len(rows.Categories))
	for i := range rows.Categories {
		c := &rows.Categories[i]
		if c.ID != "" && catByID[foldKey(c.ID)] != c {
			// Duplicate uuid, already reported.
			continue
		}
		path := resolve(c)
		if path == "" {
			continue
		}
		parts := SplitPath(path)
		out = append(out, pathedCategory{
			level: len(parts) - 1,
			row: HierarchicalRow{
				Row:          c.Row,
				Type:         "Category",
				Level:        strconv.Itoa(len(parts) - 1),
				SortOrder:    c.SortOrder,
				Area:         parts[0],
				CategoryPath: path,
				Category:     c.Name,
				Description:  c.Description,
			},
		})
	}
	return out, paths
}

// splitRules unpacks the template's validation_rules JSON column into
// the hierarchical sheet's Validation_Min and Validation_Max cells.
func splitRules(issues *IssueList, a AttributeRow) (min, max string) {
	s := strings.TrimSpace(a.ValidationRules)
	if s == "" || s == "{}" {
		return "", ""
	}
	var rules ValidationRules
	if err := json.Unmarshal([]byte(s), &rules); err != nil {
		issues.AddError(a.Row, "validation_rules", fmt.Sprintf("Invalid validation_rules %q. Must be JSON like {\"min\": 0, \"max\": 10}", a.ValidationRules))
		return "", ""
	}
	if rules.Min != nil {
		min = strconv.FormatFloat(*rules.Min, 'f', -1, 64)
	}
	if rules.Max != nil {
		max = strconv.FormatFloat(*rules.Max, 'f', -1, 64)
	}
	return min, max
}

func materializeAttribute(issues *IssueList, row HierarchicalRow, catByPath map[string]uuid.UUID, attrs *[]AttributeDefinition) {
	if row.CategoryPath == "" || row.AttributeName == "" {
		return
	}
	parts := SplitPath(row.CategoryPath)
	path := strings.Join(parts, PathSeparator)

	catID, ok := catByPath[foldKey(path)]
	if !ok {
		issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Category %q not found", path))
		return
	}

	dataType, _ := ParseDataType(row.DataType)
	*attrs = append(*attrs, AttributeDefinition{
		ID:           uuid.New(),
		CategoryID:   catID,
		Name:         row.AttributeName,
		DataType:     dataType,
		Unit:         row.Unit,
		IsRequired:   strings.EqualFold(row.IsRequired, "true"),
		DefaultValue: row.DefaultValue,
		Rules:        parseRules(issues, row),
		SortOrder:    parseSortOrder(issues, row.Row, row.SortOrder),
		Description:  row.Description,
	})
}
