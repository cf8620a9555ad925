package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Defaults applied when a sheet creates an area; the hierarchical view
// carries no icon or color columns.
const (
	DefaultAreaIcon  = "📁"
	DefaultAreaColor = "#4472C4"
)

// BuildOptions control how a parsed sheet is compared against the live
// structure.
type BuildOptions struct {
	// FullReplace treats the sheet as the complete structure: existing
	// objects it no longer lists become delete candidates, after the
	// rename detector has paired removals against additions.
	FullReplace bool
}

// BuildChangeSet compares a hierarchical sheet against the snapshot and
// returns the pending inserts, updates, and (in full-replace mode)
// deletes, together with every validation issue found on the way.
// Category_Path is the identity column: rows whose path matches an
// existing object are treated as edits of that object, everything else
// as an addition.
func BuildChangeSet(sheet *HierarchicalSheet, snap *Snapshot, opts BuildOptions) *ChangeSet {
	cs := &ChangeSet{}
	defer cs.Issues.SortByRow()

	if missing := missingColumns(sheet.Columns); len(missing) > 0 {
		cs.Issues.AddError(0, "Columns", "Missing required columns: "+strings.Join(missing, ", "))
		return cs
	}

	validateRows(sheet.Rows, &cs.Issues)
	if cs.Issues.ErrorCount() >= MaxValidationIssues {
		return cs
	}

	seen := detectChanges(cs, sheet.Rows, snap)

	if opts.FullReplace && cs.Issues.ErrorCount() < MaxValidationIssues {
		reconcileRemovals(cs, snap, seen)
	}
	if cs.Issues.ErrorCount() < MaxValidationIssues {
		validateBusinessRules(cs)
	}
	return cs
}

// missingColumns checks the header against the hierarchical signature.
func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[foldKey(h)] = true
	}

	def, _ := FormatByKey(FormatHierarchical)
	var missing []string
	for _, col := range def.Sheets[0].Signature {
		if !present[foldKey(col)] {
			missing = append(missing, col)
		}
	}
	return missing
}

// validateRows checks every row's format before any change detection.
// The issue list caps errors and marks the truncation itself.
func validateRows(rows []HierarchicalRow, issues *IssueList) {
	for _, row := range rows {
		if row.Type == "" {
			issues.AddError(row.Row, "Type", "Type is required")
			continue
		}
		switch row.Type {
		case "Area", "Category", "Attribute":
		default:
			issues.AddError(row.Row, "Type", fmt.Sprintf("Invalid Type %q. Must be: Area, Category, or Attribute", row.Type))
		}

		if row.CategoryPath == "" {
			issues.AddError(row.Row, "Category_Path", "Category_Path is required")
		}

		switch row.Type {
		case "Attribute":
			if row.DataType == "" {
				issues.AddError(row.Row, "Data_Type", "Data_Type is required for Attributes")
			} else if _, ok := ParseDataType(row.DataType); !ok {
				issues.AddError(row.Row, "Data_Type", fmt.Sprintf("Invalid Data_Type %q. Must be: %s", row.DataType, dataTypeList()))
			}
			if row.AttributeName == "" {
				issues.AddError(row.Row, "Attribute_Name", "Attribute_Name is required for Attributes")
			}
			if row.IsRequired != "" && !isBoolCell(row.IsRequired) {
				issues.AddError(row.Row, "Is_Required", fmt.Sprintf("Invalid Is_Required %q. Must be: TRUE or FALSE", row.IsRequired))
			}
		case "Category":
			if row.Category == "" {
				issues.AddError(row.Row, "Category", "Category name is required for Categories")
			}
		}
	}
}

// seenSet tracks which existing objects the sheet mentioned, so
// full-replace mode knows what it no longer lists.
type seenSet struct {
	areas map[uuid.UUID]bool
	cats  map[uuid.UUID]bool
	attrs map[uuid.UUID]bool
}

func newSeenSet() *seenSet {
	return &seenSet{
		areas: make(map[uuid.UUID]bool),
		cats:  make(map[uuid.UUID]bool),
		attrs: make(map[uuid.UUID]bool),
	}
}

// detectChanges walks the rows in sheet order so that additions can
// reference areas and categories created earlier in the same file.
func detectChanges(cs *ChangeSet, rows []HierarchicalRow, snap *Snapshot) *seenSet {
	seen := newSeenSet()
	createdAreas := make(map[string]bool)
	createdCats := make(map[string]bool)

	for _, row := range rows {
		if cs.Issues.ErrorCount() >= MaxValidationIssues {
			break
		}
		switch row.Type {
		case "Area":
			detectAreaRow(cs, snap, row, createdAreas, seen)
		case "Category":
			detectCategoryRow(cs, snap, row, createdAreas, createdCats, seen)
		case "Attribute":
			detectAttributeRow(cs, snap, row, createdCats, seen)
		}
	}
	return seen
}

// detectAreaRow handles one Area row. Area rows carry the area name in
// the Category_Path column.
func detectAreaRow(cs *ChangeSet, snap *Snapshot, row HierarchicalRow, createdAreas map[string]bool, seen *seenSet) {
	name := row.CategoryPath
	if name == "" {
		return
	}
	sortOrder := parseSortOrder(&cs.Issues, row.Row, row.SortOrder)

	if area, ok := snap.AreaByName(name); ok {
		seen.areas[area.ID] = true

		changes := make(map[string]FieldChange)
		if name != area.Name {
			changes["name"] = FieldChange{Old: area.Name, New: name}
		}
		if row.Description != area.Description {
			changes["description"] = FieldChange{Old: area.Description, New: row.Description}
		}
		if sortOrder != area.SortOrder {
			changes["sort_order"] = FieldChange{Old: strconv.Itoa(area.SortOrder), New: strconv.Itoa(sortOrder)}
		}
		if len(changes) > 0 {
			cs.UpdatedAreas = append(cs.UpdatedAreas, EntityUpdate{ID: area.ID, Name: name, Changes: changes})
		}
		return
	}

	createdAreas[foldKey(name)] = true
	cs.NewAreas = append(cs.NewAreas, NewAreaChange{
		Name:        name,
		SortOrder:   sortOrder,
		Description: row.Description,
		Row:         row.Row,
	})
}

// detectCategoryRow handles one Category row. The path binds the row to
// an area and, beyond level one, a parent category; either may come from
// the database or from an earlier row of the same sheet.
func detectCategoryRow(cs *ChangeSet, snap *Snapshot, row HierarchicalRow, createdAreas, createdCats map[string]bool, seen *seenSet) {
	if row.CategoryPath == "" || row.Category == "" {
		return
	}
	parts := SplitPath(row.CategoryPath)
	path := strings.Join(parts, PathSeparator)
	name := row.Category

	level := len(parts) - 1
	if level < 1 {
		cs.Issues.AddError(row.Row, "Category_Path", "Category_Path must contain an area and a category")
		return
	}
	if level > MaxCategoryLevel {
		cs.Issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Category nesting exceeds %d levels", MaxCategoryLevel))
		return
	}
	sortOrder := parseSortOrder(&cs.Issues, row.Row, row.SortOrder)

	areaName := parts[0]
	var areaID uuid.UUID
	if area, ok := snap.AreaByName(areaName); ok {
		areaID = area.ID
	} else if !createdAreas[foldKey(areaName)] {
		cs.Issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Area %q not found", areaName))
		return
	}

	var parentID *uuid.UUID
	parentPath := ""
	if len(parts) > 2 {
		pp := strings.Join(parts[:len(parts)-1], PathSeparator)
		if parent, ok := snap.CategoryByPath(pp); ok {
			parentID = &parent.ID
		} else if createdCats[foldKey(pp)] {
			parentPath = pp
		} else {
			cs.Issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Parent category %q not found", pp))
			return
		}
	}

	if cat, ok := snap.CategoryByPath(path); ok {
		seen.cats[cat.ID] = true

		changes := make(map[string]FieldChange)
		if name != cat.Name {
			changes["name"] = FieldChange{Old: cat.Name, New: name}
		}
		if row.Description != cat.Description {
			changes["description"] = FieldChange{Old: cat.Description, New: row.Description}
		}
		if sortOrder != cat.SortOrder {
			changes["sort_order"] = FieldChange{Old: strconv.Itoa(cat.SortOrder), New: strconv.Itoa(sortOrder)}
		}
		if len(changes) > 0 {
			cs.UpdatedCategories = append(cs.UpdatedCategories, EntityUpdate{ID: cat.ID, Name: name, Changes: changes})
		}
		return
	}

	if !strings.EqualFold(name, parts[len(parts)-1]) {
		cs.Issues.AddWarning(row.Row, "Category", fmt.Sprintf("Category %q does not match the last part of Category_Path %q", name, path))
	}

	createdCats[foldKey(path)] = true
	cs.NewCategories = append(cs.NewCategories, NewCategoryChange{
		Name:        name,
		AreaName:    areaName,
		AreaID:      areaID,
		ParentID:    parentID,
		ParentPath:  parentPath,
		Path:        path,
		Level:       level,
		SortOrder:   sortOrder,
		Description: row.Description,
		Row:         row.Row,
	})
}

// detectAttributeRow handles one Attribute row. Attributes are matched
// within their category by name, case-insensitively.
func detectAttributeRow(cs *ChangeSet, snap *Snapshot, row HierarchicalRow, createdCats map[string]bool, seen *seenSet) {
	if row.CategoryPath == "" || row.AttributeName == "" {
		return
	}
	parts := SplitPath(row.CategoryPath)
	path := strings.Join(parts, PathSeparator)
	name := row.AttributeName

	dataType, typed := ParseDataType(row.DataType)
	rules := parseRules(&cs.Issues, row)
	isRequired := strings.EqualFold(row.IsRequired, "true")
	sortOrder := parseSortOrder(&cs.Issues, row.Row, row.SortOrder)

	cat, exists := snap.CategoryByPath(path)
	if !exists {
		if !createdCats[foldKey(path)] {
			cs.Issues.AddError(row.Row, "Category_Path", fmt.Sprintf("Category %q not found", path))
			return
		}
		cs.NewAttributes = append(cs.NewAttributes, NewAttributeChange{
			Name:         name,
			CategoryPath: path,
			DataType:     dataType,
			Unit:         row.Unit,
			IsRequired:   isRequired,
			DefaultValue: row.DefaultValue,
			Rules:        rules,
			SortOrder:    sortOrder,
			Description:  row.Description,
			Row:          row.Row,
		})
		return
	}

	attr, ok := snap.AttributeByName(cat.ID, name)
	if !ok {
		cs.NewAttributes = append(cs.NewAttributes, NewAttributeChange{
			Name:         name,
			CategoryID:   cat.ID,
			CategoryPath: path,
			DataType:     dataType,
			Unit:         row.Unit,
			IsRequired:   isRequired,
			DefaultValue: row.DefaultValue,
			Rules:        rules,
			SortOrder:    sortOrder,
			Description:  row.Description,
			Row:          row.Row,
		})
		return
	}
	seen.attrs[attr.ID] = true

	changes := make(map[string]FieldChange)
	if name != attr.Name {
		changes["name"] = FieldChange{Old: attr.Name, New: name}
	}
	if typed && dataType != attr.DataType {
		changes["data_type"] = FieldChange{Old: string(attr.DataType), New: string(dataType)}
	}
	if row.Unit != attr.Unit {
		changes["unit"] = FieldChange{Old: attr.Unit, New: row.Unit}
	}
	if row.IsRequired != "" && isRequired != attr.IsRequired {
		changes["is_required"] = FieldChange{Old: boolCell(attr.IsRequired), New: boolCell(isRequired)}
	}
	if row.DefaultValue != attr.DefaultValue {
		changes["default_value"] = FieldChange{Old: attr.DefaultValue, New: row.DefaultValue}
	}
	if !rulesEqual(rules, attr.Rules) {
		changes["validation_rules"] = FieldChange{Old: RulesJSON(attr.Rules), New: RulesJSON(rules)}
	}
	if !row.KeepDescription && row.Description != attr.Description {
		changes["description"] = FieldChange{Old: attr.Description, New: row.Description}
	}
	if sortOrder != attr.SortOrder {
		changes["sort_order"] = FieldChange{Old: strconv.Itoa(attr.SortOrder), New: strconv.Itoa(sortOrder)}
	}
	if len(changes) > 0 {
		cs.UpdatedAttributes = append(cs.UpdatedAttributes, EntityUpdate{ID: attr.ID, Name: name, Changes: changes})
	}
}

// validateBusinessRules runs the cross-row checks after detection.
func validateBusinessRules(cs *ChangeSet) {
	names := make([]string, 0, len(cs.NewAreas))
	for _, a := range cs.NewAreas {
		names = append(names, a.Name)
	}
	if dups := duplicated(names); len(dups) > 0 {
		cs.Issues.AddError(0, "Areas", "Duplicate area names in new areas: "+strings.Join(dups, ", "))
	}

	paths := make([]string, 0, len(cs.NewCategories))
	for _, c := range cs.NewCategories {
		paths = append(paths, c.Path)
	}
	if dups := duplicated(paths); len(dups) > 0 {
		cs.Issues.AddError(0, "Categories", "Duplicate category paths in new categories: "+strings.Join(dups, ", "))
	}

	if total := cs.Total(); total > ChangeWarningThreshold {
		cs.Issues.AddWarning(0, "Changes", fmt.Sprintf("Large number of changes detected (%d). Please review carefully.", total))
	}
}

// duplicated returns the values that appear more than once, folded, in
// first-occurrence order.
func duplicated(values []string) []string {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[foldKey(v)]++
	}
	var out []string
	reported := make(map[string]bool)
	for _, v := range values {
		k := foldKey(v)
		if counts[k] > 1 && !reported[k] {
			reported[k] = true
			out = append(out, v)
		}
	}
	return out
}

// SplitPath splits a hierarchical path on ">", trimming each part and
// dropping empties, so irregular spacing around separators is tolerated.
func SplitPath(path string) []string {
	raw := strings.Split(path, ">")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RulesJSON renders validation rules the way the database stores them,
// "{}" when no rule is set.
func RulesJSON(r ValidationRules) string {
	if r.IsZero() {
		return "{}"
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func rulesEqual(a, b ValidationRules) bool {
	return eqFloatPtr(a.Min, b.Min) && eqFloatPtr(a.Max, b.Max)
}

func eqFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// parseRules reads Validation_Min and Validation_Max off a row. Bounds
// tolerate the same formatting ParseNumber does, so "1,000" works.
func parseRules(issues *IssueList, row HierarchicalRow) ValidationRules {
	var rules ValidationRules
	if f, ok := ParseOptionalNumber(row.ValidationMin); ok {
		rules.Min = f
	} else {
		issues.AddError(row.Row, "Validation_Min", fmt.Sprintf("Invalid Validation_Min %q. Must be a number", row.ValidationMin))
	}
	if f, ok := ParseOptionalNumber(row.ValidationMax); ok {
		rules.Max = f
	} else {
		issues.AddError(row.Row, "Validation_Max", fmt.Sprintf("Invalid Validation_Max %q. Must be a number", row.ValidationMax))
	}
	return rules
}

// parseSortOrder reads a Sort_Order cell, tolerating the "3.0" shape
// spreadsheets produce for numeric cells.
func parseSortOrder(issues *IssueList, rowNum int, s string) int {
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	issues.AddWarning(rowNum, "Sort_Order", fmt.Sprintf("Sort_Order %q is not a number, using 0", s))
	return 0
}

func isBoolCell(s string) bool {
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}

func boolCell(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func dataTypeList() string {
	parts := make([]string, len(DataTypes))
	for i, dt := range DataTypes {
		parts[i] = string(dt)
	}
	return strings.Join(parts, ", ")
}
