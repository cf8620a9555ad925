// Package core provides the business logic for taxonomy and event
// tracking: structure snapshots, change detection and apply, event CRUD
// with typed attribute values, and bulk imports. This package has no
// HTTP dependencies and can be used by any frontend.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PathSeparator joins category names into hierarchical paths,
// e.g. "Health > Fitness > Running".
const PathSeparator = " > "

// MaxCategoryLevel bounds how deep categories may nest.
const MaxCategoryLevel = 10

// MaxValidationIssues caps how many errors a single parse reports.
// Warnings are never capped.
const MaxValidationIssues = 20

// ChangeWarningThreshold is the change count above which a structure
// re-upload requires explicit confirmation.
const ChangeWarningThreshold = 50

// DataType represents the value type of an attribute definition.
type DataType string

const (
	TypeNumber   DataType = "number"
	TypeText     DataType = "text"
	TypeDateTime DataType = "datetime"
	TypeBoolean  DataType = "boolean"
	TypeLink     DataType = "link"
	TypeImage    DataType = "image"
)

// DataTypes lists every valid data type in display order.
var DataTypes = []DataType{TypeNumber, TypeText, TypeDateTime, TypeBoolean, TypeLink, TypeImage}

// ParseDataType normalizes a raw cell value into a DataType.
// The second return is false for unknown types.
func ParseDataType(s string) (DataType, bool) {
	dt := DataType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DataTypes {
		if dt == known {
			return dt, true
		}
	}
	return "", false
}

// Area is a top-level grouping of categories.
type Area struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"userId"`
	Name        string    `json:"name"`
	Icon        string    `json:"icon,omitempty"`
	Color       string    `json:"color,omitempty"`
	SortOrder   int       `json:"sortOrder"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Category belongs to an area and may nest under a parent category.
// Level is 1 for roots and parent level + 1 below, up to MaxCategoryLevel.
type Category struct {
	ID          uuid.UUID  `json:"id"`
	AreaID      uuid.UUID  `json:"areaId"`
	ParentID    *uuid.UUID `json:"parentCategoryId,omitempty"`
	Name        string     `json:"name"`
	Level       int        `json:"level"`
	SortOrder   int        `json:"sortOrder"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// ValidationRules constrains numeric attribute values.
type ValidationRules struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// IsZero reports whether no rule is set.
func (r ValidationRules) IsZero() bool { return r.Min == nil && r.Max == nil }

// AttributeDefinition describes one trackable field of a category.
type AttributeDefinition struct {
	ID           uuid.UUID       `json:"id"`
	CategoryID   uuid.UUID       `json:"categoryId"`
	Name         string          `json:"name"`
	DataType     DataType        `json:"dataType"`
	Unit         string          `json:"unit,omitempty"`
	IsRequired   bool            `json:"isRequired"`
	DefaultValue string          `json:"defaultValue,omitempty"`
	Rules        ValidationRules `json:"validationRules"`
	SortOrder    int             `json:"sortOrder"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Event is one dated record in a category.
type Event struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"userId"`
	CategoryID uuid.UUID        `json:"categoryId"`
	EventDate  time.Time        `json:"eventDate"`
	Comment    string           `json:"comment,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	EditedAt   time.Time        `json:"editedAt"`
	Values     []AttributeValue `json:"values,omitempty"`
}

// AttributeValue is one event_attributes row. Exactly one typed slot of
// Value is set, mirroring the single_value_check constraint.
type AttributeValue struct {
	ID          uuid.UUID `json:"id"`
	EventID     uuid.UUID `json:"eventId"`
	AttributeID uuid.UUID `json:"attributeId"`
	Value       Value     `json:"value"`
}

// Value holds a typed attribute value. At most one slot is non-nil.
// Text carries text, link, and image values.
type Value struct {
	Text     *string         `json:"text,omitempty"`
	Number   *float64        `json:"number,omitempty"`
	DateTime *time.Time      `json:"datetime,omitempty"`
	Bool     *bool           `json:"boolean,omitempty"`
	JSON     json.RawMessage `json:"json,omitempty"`
}

// IsZero reports whether no slot is set.
func (v Value) IsZero() bool {
	return v.Text == nil && v.Number == nil && v.DateTime == nil && v.Bool == nil && len(v.JSON) == 0
}

// Column returns the event_attributes column the value belongs in,
// or "" for an empty value.
func (v Value) Column() string {
	switch {
	case v.Text != nil:
		return "value_text"
	case v.Number != nil:
		return "value_number"
	case v.DateTime != nil:
		return "value_datetime"
	case v.Bool != nil:
		return "value_boolean"
	case len(v.JSON) > 0:
		return "value_json"
	}
	return ""
}

// Display renders the value for spreadsheets and previews. Numbers drop
// trailing zeros, datetimes use ISO dates, booleans are "true"/"false".
func (v Value) Display() string {
	switch {
	case v.Text != nil:
		return *v.Text
	case v.Number != nil:
		return FormatNumber(*v.Number)
	case v.DateTime != nil:
		return v.DateTime.Format("2006-01-02")
	case v.Bool != nil:
		if *v.Bool {
			return "true"
		}
		return "false"
	case len(v.JSON) > 0:
		return string(v.JSON)
	}
	return ""
}

// Equal reports whether two values hold the same content.
// Empty values compare equal regardless of slot.
func (v Value) Equal(o Value) bool {
	if v.IsZero() || o.IsZero() {
		return v.IsZero() && o.IsZero()
	}
	switch {
	case v.Text != nil && o.Text != nil:
		return *v.Text == *o.Text
	case v.Number != nil && o.Number != nil:
		return *v.Number == *o.Number
	case v.DateTime != nil && o.DateTime != nil:
		return v.DateTime.Equal(*o.DateTime)
	case v.Bool != nil && o.Bool != nil:
		return *v.Bool == *o.Bool
	case len(v.JSON) > 0 && len(o.JSON) > 0:
		return string(v.JSON) == string(o.JSON)
	}
	return false
}

// FormatNumber renders a number the way sheets display it, dropping
// trailing zeros.
func FormatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%.0f", f)
	}
	s := strings.TrimRight(fmt.Sprintf("%.6f", f), "0")
	return strings.TrimRight(s, ".")
}

// Attachment is a file, image, or link tied to an event.
type Attachment struct {
	ID        uuid.UUID `json:"id"`
	EventID   uuid.UUID `json:"eventId"`
	Type      string    `json:"type"` // "file", "image", or "link"
	URL       string    `json:"url"`
	Filename  string    `json:"filename,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one problem found while parsing tabular input.
// Row is the 1-based spreadsheet row, 0 when not tied to a row.
type ValidationIssue struct {
	Row      int      `json:"row,omitempty"`
	Column   string   `json:"column,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i ValidationIssue) String() string {
	var loc string
	switch {
	case i.Row > 0 && i.Column != "":
		loc = fmt.Sprintf("row %d, %s: ", i.Row, i.Column)
	case i.Row > 0:
		loc = fmt.Sprintf("row %d: ", i.Row)
	case i.Column != "":
		loc = i.Column + ": "
	}
	return loc + i.Message
}

// ApplyPhase indicates the current stage of a change apply job.
type ApplyPhase string

const (
	PhaseStarting   ApplyPhase = "starting"
	PhaseBackup     ApplyPhase = "backup"
	PhaseValidating ApplyPhase = "validating"
	PhaseApplying   ApplyPhase = "applying"
	PhaseComplete   ApplyPhase = "complete"
	PhaseFailed     ApplyPhase = "failed"
	PhaseCancelled  ApplyPhase = "cancelled"
)

// ApplyProgress represents the current state of an apply job.
type ApplyProgress struct {
	JobID      string
	Phase      ApplyPhase
	FileName   string
	TotalSteps int
	Done       int
	Applied    int
	Skipped    int
	Error      string // Non-empty if Phase is PhaseFailed
}

// Percent returns the progress as a percentage (0-100).
func (p ApplyProgress) Percent() int {
	if p.TotalSteps > 0 {
		return (p.Done * 100) / p.TotalSteps
	}
	return 0
}

// ApplyResult contains the final result of an apply job.
type ApplyResult struct {
	JobID      string
	FileName   string
	BackupFile string
	Applied    int
	Skipped    int
	Duration   time.Duration
	Error      string // Non-empty if the job failed
}

// ProgressCallback is called as an apply job advances.
type ProgressCallback func(ApplyProgress)

// FilterOperator represents a comparison operator for column filters.
type FilterOperator string

const (
	OpContains   FilterOperator = "contains"
	OpEquals     FilterOperator = "eq"
	OpStartsWith FilterOperator = "starts"
	OpEndsWith   FilterOperator = "ends"
	OpGreaterEq  FilterOperator = "gte"
	OpLessEq     FilterOperator = "lte"
	OpGreater    FilterOperator = "gt"
	OpLess       FilterOperator = "lt"
	OpIn         FilterOperator = "in"
)

// AttributeFilter represents a single filter condition on an attribute
// or on an event column (date, comment).
type AttributeFilter struct {
	Column   string         // Attribute name, or "date" / "comment"
	Operator FilterOperator // Comparison operator
	Value    string         // Filter value (comma-separated for OpIn)
	Type     DataType       // Value type for SQL generation
}

// FilterSet represents all active filters (combined with AND logic).
type FilterSet struct {
	Filters []AttributeFilter
}

// ColumnAggregation holds aggregated values for one numeric attribute.
type ColumnAggregation struct {
	Column string   `json:"column"`
	Sum    *float64 `json:"sum"` // nil if no non-NULL values
	Avg    *float64 `json:"avg"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Count  int64    `json:"count"` // count of non-NULL values
}

// Aggregations maps attribute names to their aggregation results.
type Aggregations map[string]*ColumnAggregation

// SortSpec represents a single sort column and direction.
type SortSpec struct {
	Column string `json:"column"` // attribute name, or "date" / "comment"
	Dir    string `json:"dir"`    // "asc" or "desc"
}
