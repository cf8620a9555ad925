package core

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// IssueList collects validation issues with the MaxValidationIssues cap
// applied to errors. The first overflow appends a single truncation
// marker instead of the issue.
type IssueList struct {
	Issues    []ValidationIssue
	truncated bool
	errors    int
}

// AddError appends an error-severity issue unless the cap is reached.
func (l *IssueList) AddError(row int, column, message string) {
	if l.errors >= MaxValidationIssues {
		if !l.truncated {
			l.truncated = true
			l.Issues = append(l.Issues, ValidationIssue{
				Message:  fmt.Sprintf("more than %d errors, remaining rows not checked", MaxValidationIssues),
				Severity: SeverityError,
			})
		}
		return
	}
	l.errors++
	l.Issues = append(l.Issues, ValidationIssue{Row: row, Column: column, Message: message, Severity: SeverityError})
}

// AddWarning appends a warning-severity issue. Warnings are not capped.
func (l *IssueList) AddWarning(row int, column, message string) {
	l.Issues = append(l.Issues, ValidationIssue{Row: row, Column: column, Message: message, Severity: SeverityWarning})
}

// ErrorCount returns the number of errors recorded, excluding the
// truncation marker.
func (l *IssueList) ErrorCount() int { return l.errors }

// HasErrors reports whether any error was recorded.
func (l *IssueList) HasErrors() bool { return l.errors > 0 }

// Truncated reports whether errors were dropped at the cap.
func (l *IssueList) Truncated() bool { return l.truncated }

// Merge appends another list's issues through the cap machinery and
// re-sorts by row. The other list's truncation marker is not copied;
// once the merged list sits at the cap the next error re-raises it.
func (l *IssueList) Merge(other *IssueList) {
	if other == nil {
		return
	}
	copied := 0
	for _, i := range other.Issues {
		if i.Severity == SeverityWarning {
			l.AddWarning(i.Row, i.Column, i.Message)
			continue
		}
		if copied == other.errors {
			break
		}
		copied++
		l.AddError(i.Row, i.Column, i.Message)
	}
	l.SortByRow()
}

// SortByRow orders issues by source row. Sheet-level issues (row 0)
// sort after the row-specific ones, and the sort is stable, so the
// truncation marker stays last.
func (l *IssueList) SortByRow() {
	sort.SliceStable(l.Issues, func(i, j int) bool {
		a, b := l.Issues[i].Row, l.Issues[j].Row
		if a == 0 || b == 0 {
			return b == 0 && a != 0
		}
		return a < b
	})
}

// Warnings returns only the warning-severity issues.
func (l *IssueList) Warnings() []ValidationIssue {
	var out []ValidationIssue
	for _, i := range l.Issues {
		if i.Severity == SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

// FieldChange records one field moving from Old to New.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// EntityUpdate is a pending update of one existing entity, keyed by the
// changed field name.
type EntityUpdate struct {
	ID      uuid.UUID              `json:"id"`
	Name    string                 `json:"name"`
	Changes map[string]FieldChange `json:"changes"`
}

// NewAreaChange is a pending area insert parsed from a sheet.
type NewAreaChange struct {
	Name        string `json:"name"`
	SortOrder   int    `json:"sortOrder"`
	Description string `json:"description,omitempty"`
	Row         int    `json:"row,omitempty"`
}

// NewCategoryChange is a pending category insert. The parent may be an
// existing category (ParentID) or another new category in the same
// change set (ParentPath, resolved at apply time).
type NewCategoryChange struct {
	Name        string     `json:"name"`
	AreaName    string     `json:"area"`
	AreaID      uuid.UUID  `json:"areaId,omitempty"`
	ParentID    *uuid.UUID `json:"parentId,omitempty"`
	ParentPath  string     `json:"parentPath,omitempty"`
	Path        string     `json:"path"`
	Level       int        `json:"level"`
	SortOrder   int        `json:"sortOrder"`
	Description string     `json:"description,omitempty"`
	Row         int        `json:"row,omitempty"`
}

// NewAttributeChange is a pending attribute definition insert. The
// category may exist (CategoryID) or be new in the same change set
// (CategoryPath).
type NewAttributeChange struct {
	Name         string          `json:"name"`
	CategoryID   uuid.UUID       `json:"categoryId,omitempty"`
	CategoryPath string          `json:"categoryPath"`
	DataType     DataType        `json:"dataType"`
	Unit         string          `json:"unit,omitempty"`
	IsRequired   bool            `json:"isRequired"`
	DefaultValue string          `json:"defaultValue,omitempty"`
	Rules        ValidationRules `json:"validationRules"`
	SortOrder    int             `json:"sortOrder"`
	Description  string          `json:"description,omitempty"`
	Row          int             `json:"row,omitempty"`
}

// EntityDelete is a pending delete of one existing entity. Deletes only
// appear in confirmed change sets; previews list them for review first.
type EntityDelete struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Path   string    `json:"path,omitempty"`
	Events int64     `json:"events,omitempty"` // events cascading away with the delete
}

// ChangeSet is everything a structure re-upload wants to do, split by
// entity kind and by insert/update/delete. Apply order is inserts
// (areas, categories, attributes), then updates, then deletes
// (attributes, categories, areas).
type ChangeSet struct {
	NewAreas      []NewAreaChange      `json:"newAreas,omitempty"`
	NewCategories []NewCategoryChange  `json:"newCategories,omitempty"`
	NewAttributes []NewAttributeChange `json:"newAttributes,omitempty"`

	UpdatedAreas      []EntityUpdate `json:"updatedAreas,omitempty"`
	UpdatedCategories []EntityUpdate `json:"updatedCategories,omitempty"`
	UpdatedAttributes []EntityUpdate `json:"updatedAttributes,omitempty"`

	DeletedAreas      []EntityDelete `json:"deletedAreas,omitempty"`
	DeletedCategories []EntityDelete `json:"deletedCategories,omitempty"`
	DeletedAttributes []EntityDelete `json:"deletedAttributes,omitempty"`

	// Renames carries the matcher decisions behind UpdatedX entries so
	// previews can show confidence and signals.
	Renames []RenameDecision `json:"renames,omitempty"`

	Issues IssueList `json:"-"`
}

// RenameDecision records one matcher pairing for preview display.
type RenameDecision struct {
	Kind       string    `json:"kind"` // "area", "category", or "attribute"
	ID         uuid.UUID `json:"id"`
	OldName    string    `json:"oldName"`
	NewName    string    `json:"newName"`
	Confidence float64   `json:"confidence"`
}

// Inserts counts pending inserts.
func (c *ChangeSet) Inserts() int {
	return len(c.NewAreas) + len(c.NewCategories) + len(c.NewAttributes)
}

// Updates counts pending updates.
func (c *ChangeSet) Updates() int {
	return len(c.UpdatedAreas) + len(c.UpdatedCategories) + len(c.UpdatedAttributes)
}

// Deletes counts pending deletes.
func (c *ChangeSet) Deletes() int {
	return len(c.DeletedAreas) + len(c.DeletedCategories) + len(c.DeletedAttributes)
}

// Total counts every pending change.
func (c *ChangeSet) Total() int { return c.Inserts() + c.Updates() + c.Deletes() }

// Empty reports whether the change set does nothing.
func (c *ChangeSet) Empty() bool { return c.Total() == 0 }

// NeedsConfirmation reports whether applying requires an explicit
// confirm: any delete, or more changes than ChangeWarningThreshold.
func (c *ChangeSet) NeedsConfirmation() bool {
	return c.Deletes() > 0 || c.Total() > ChangeWarningThreshold
}
