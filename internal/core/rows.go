package core

// Row types produced by the sheet readers. Every field is kept in its raw
// sheet form; BuildChangeSet and the import services own all semantic
// parsing and validation so that cell-level problems surface as
// ValidationIssues with row numbers instead of reader errors.

// HierarchicalSheet is a parsed Hierarchical_View sheet. Columns holds
// the header cells as found, so BuildChangeSet can name exactly which
// required columns a hand-edited file dropped.
type HierarchicalSheet struct {
	Columns []string
	Rows    []HierarchicalRow
}

// HierarchicalRow is one data row from a Hierarchical_View sheet.
type HierarchicalRow struct {
	Row           int // 1-based Excel row
	Type          string
	Level         string
	SortOrder     string
	Area          string
	CategoryPath  string
	Category      string
	AttributeName string
	DataType      string
	Unit          string
	IsRequired    string
	DefaultValue  string
	ValidationMin string
	ValidationMax string
	Description   string

	// KeepDescription marks rows converted from formats without a
	// description column; the diff leaves the live description alone
	// instead of clearing it.
	KeepDescription bool
}

// AreaRow is one row from the Areas sheet of a three-sheet template.
type AreaRow struct {
	Row         int
	ID          string
	Name        string
	Icon        string
	Color       string
	SortOrder   string
	Description string
}

// CategoryRow is one row from the Categories sheet of a three-sheet template.
type CategoryRow struct {
	Row         int
	ID          string
	AreaID      string
	ParentID    string
	Name        string
	Description string
	Level       string
	SortOrder   string
}

// AttributeRow is one row from the Attributes sheet of a three-sheet template.
type AttributeRow struct {
	Row             int
	ID              string
	CategoryID      string
	Name            string
	DataType        string
	Unit            string
	IsRequired      string
	DefaultValue    string
	ValidationRules string
	SortOrder       string
}

// TemplateRows holds the parsed contents of a three-sheet template workbook.
type TemplateRows struct {
	Areas      []AreaRow
	Categories []CategoryRow
	Attributes []AttributeRow
}

// EventRow is one data row of an events workbook. Values is keyed by
// attribute column header as it appears on the sheet.
type EventRow struct {
	Row          int
	EventID      string
	CategoryPath string
	Date         string
	Values       map[string]string
	Comment      string
}

// EventSheet is an events workbook in both directions: exports are
// assembled into one and written out, re-imports are parsed back into one.
// AttributeColumns preserves sheet column order.
type EventSheet struct {
	AttributeColumns []string
	Rows             []EventRow
}

// BulkRow is one data row from a bulk entry workbook. The Category cell
// carries the full category path.
type BulkRow struct {
	Row      int
	Category string
	Date     string
	Values   map[string]string
	Comment  string
}

// BulkSheet is a parsed bulk entry workbook.
type BulkSheet struct {
	AttributeColumns []string
	Rows             []BulkRow
}
