package core

import "strings"

// SheetFormat identifies one of the supported workbook layouts.
type SheetFormat string

const (
	FormatHierarchical SheetFormat = "hierarchical"
	FormatTemplate     SheetFormat = "template"
	FormatEvents       SheetFormat = "events"
	FormatBulk         SheetFormat = "bulk"
)

// Canonical sheet names shared by readers and writers.
const (
	SheetHierarchical = "Hierarchical_View"
	SheetHelp         = "Help"
	SheetAreas        = "Areas"
	SheetCategories   = "Categories"
	SheetAttributes   = "Attributes"
	SheetEvents       = "Events"
	SheetInstructions = "Instructions"
)

// ColumnComment is the trailing free-text column on event sheets.
const ColumnComment = "Comment"

// Column layouts for the fixed-column sheets. Event sheets additionally
// carry one column per attribute between Date and Comment.
var (
	HierarchicalColumns = []string{
		"Type", "Level", "Sort_Order", "Area", "Category_Path", "Category",
		"Attribute_Name", "Data_Type", "Unit", "Is_Required", "Default_Value",
		"Validation_Min", "Validation_Max", "Description",
	}
	AreaColumns       = []string{"uuid", "name", "icon", "color", "sort_order", "description"}
	CategoryColumns   = []string{"uuid", "area_uuid", "parent_uuid", "name", "description", "level", "sort_order"}
	AttributeColumns  = []string{"uuid", "category_uuid", "name", "data_type", "unit", "is_required", "default_value", "validation_rules", "sort_order"}
	EventFixedColumns = []string{"Event_ID", "Category_Path", "Date"}
	BulkFixedColumns  = []string{"Category", "Date"}
)

const (
	// FormatMatchThreshold is the minimum header overlap for a sheet to
	// count as a signature match.
	FormatMatchThreshold = 0.7

	// MaxHeaderScanRows bounds the search for a header row from the top
	// of a sheet.
	MaxHeaderScanRows = 20
)

// SheetSpec describes one sheet of a workbook format. Sheets without a
// signature (help and instruction sheets) are written but never matched.
type SheetSpec struct {
	Name      string   `json:"name"`
	Signature []string `json:"signature,omitempty"`
	Columns   []string `json:"columns,omitempty"`
}

// FormatDefinition describes how to recognize and lay out one workbook
// format. The first sheet is the data sheet.
type FormatDefinition struct {
	Key         SheetFormat `json:"key"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Sheets      []SheetSpec `json:"sheets"`
}

// FormatMatch reports a recognized workbook format. Sheet and HeaderRow
// locate the data sheet's header in the scanned workbook.
type FormatMatch struct {
	Definition FormatDefinition `json:"definition"`
	Sheet      string           `json:"sheet"`
	HeaderRow  int              `json:"headerRow"`
	Score      float64          `json:"score"`
}

// WorkbookShape is the structural summary a reader extracts before parsing:
// sheet names in workbook order plus at most MaxHeaderScanRows leading rows
// per sheet, cells already cleaned.
type WorkbookShape struct {
	Sheets []string
	Rows   map[string][][]string
}

// sheetRows returns the leading rows for the named sheet, case-insensitive.
// A single-sheet workbook matches any name so that CSV uploads and renamed
// sheets still detect by headers alone.
func (s WorkbookShape) sheetRows(name string) ([][]string, string) {
	for _, have := range s.Sheets {
		if strings.EqualFold(have, name) {
			return s.Rows[have], have
		}
	}
	if len(s.Sheets) == 1 {
		only := s.Sheets[0]
		return s.Rows[only], only
	}
	return nil, ""
}

// DetectFormat matches a workbook against every registered format and
// returns the strongest match. Ties keep the earlier registration.
func DetectFormat(shape WorkbookShape) (FormatMatch, bool) {
	var best FormatMatch
	for _, def := range Formats() {
		m, ok := def.match(shape)
		if !ok {
			continue
		}
		if m.Score > best.Score {
			best = m
		}
	}
	if best.Sheet == "" {
		return FormatMatch{}, false
	}
	return best, true
}

// match scores the definition against a workbook. Every signature sheet must
// reach the threshold; the weakest sheet decides the overall score.
func (d FormatDefinition) match(shape WorkbookShape) (FormatMatch, bool) {
	m := FormatMatch{Definition: d}
	for i, spec := range d.Sheets {
		if len(spec.Signature) == 0 {
			continue
		}
		rows, name := shape.sheetRows(spec.Name)
		if name == "" {
			return FormatMatch{}, false
		}
		rowIdx, score := FindHeaderRow(rows, spec.Signature)
		if rowIdx == 0 {
			return FormatMatch{}, false
		}
		if i == 0 {
			m.Sheet = name
			m.HeaderRow = rowIdx
			m.Score = score
		} else if score < m.Score {
			m.Score = score
		}
	}
	if m.Sheet == "" {
		return FormatMatch{}, false
	}
	return m, true
}

// FindHeaderRow scans at most MaxHeaderScanRows rows for the first row whose
// overlap with signature reaches FormatMatchThreshold. It returns the 1-based
// row number and the overlap, or 0 and the best overlap seen.
func FindHeaderRow(rows [][]string, signature []string) (int, float64) {
	limit := len(rows)
	if limit > MaxHeaderScanRows {
		limit = MaxHeaderScanRows
	}

	best := 0.0
	for i := 0; i < limit; i++ {
		score := headerScore(signature, rows[i])
		if score >= FormatMatchThreshold {
			return i + 1, score
		}
		if score > best {
			best = score
		}
	}
	return 0, best
}

// headerScore calculates how well a row covers the signature headers.
func headerScore(signature, row []string) float64 {
	if len(signature) == 0 {
		return 0
	}

	seen := make(map[string]bool)
	for _, cell := range row {
		seen[strings.ToLower(strings.TrimSpace(cell))] = true
	}

	matched := 0
	for _, want := range signature {
		if seen[strings.ToLower(want)] {
			matched++
		}
	}

	return float64(matched) / float64(len(signature))
}

func init() {
	RegisterFormat(FormatDefinition{
		Key:         FormatHierarchical,
		Label:       "Hierarchical structure",
		Description: "Full taxonomy as one sheet with Area, Category and Attribute rows. Re-upload applies structural changes.",
		Sheets: []SheetSpec{
			{
				Name:      SheetHierarchical,
				Signature: []string{"Type", "Category_Path", "Level", "Sort_Order"},
				Columns:   HierarchicalColumns,
			},
			{Name: SheetHelp},
		},
	})

	RegisterFormat(FormatDefinition{
		Key:         FormatTemplate,
		Label:       "Structure template",
		Description: "Three-sheet template mirroring the database tables, with a uuid column per entity. Used for initial setup and backups.",
		Sheets: []SheetSpec{
			{
				Name:      SheetAreas,
				Signature: []string{"uuid", "name", "sort_order"},
				Columns:   AreaColumns,
			},
			{
				Name:      SheetCategories,
				Signature: []string{"uuid", "area_uuid", "name", "level"},
				Columns:   CategoryColumns,
			},
			{
				Name:      SheetAttributes,
				Signature: []string{"uuid", "category_uuid", "name", "data_type"},
				Columns:   AttributeColumns,
			},
		},
	})

	RegisterFormat(FormatDefinition{
		Key:         FormatEvents,
		Label:       "Events export",
		Description: "Exported events with one column per attribute between Date and Comment. Event_ID, Category_Path and Date identify rows on re-import.",
		Sheets: []SheetSpec{
			{
				Name:      SheetEvents,
				Signature: []string{"Event_ID", "Category_Path", "Date"},
				Columns:   append(append([]string{}, EventFixedColumns...), ColumnComment),
			},
			{Name: SheetInstructions},
		},
	})

	RegisterFormat(FormatDefinition{
		Key:         FormatBulk,
		Label:       "Bulk event entry",
		Description: "Mass entry rows with the full category path in the Category column and one column per attribute between Date and Comment. Accepted as XLSX or CSV.",
		Sheets: []SheetSpec{
			{
				Name:      SheetEvents,
				Signature: []string{"Category", "Date"},
				Columns:   append(append([]string{}, BulkFixedColumns...), ColumnComment),
			},
			{Name: SheetInstructions},
		},
	})
}
