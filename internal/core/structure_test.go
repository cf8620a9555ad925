package core

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"taxotrack/internal/reconcile"
)

// ---- Fixture ----

type snapFixture struct {
	snap *Snapshot

	healthID, workID              uuid.UUID
	sleepID, qualityID, fitnessID uuid.UUID
	hoursID, moodID, scoreID      uuid.UUID
}

func newSnapFixture() *snapFixture {
	fix := &snapFixture{
		healthID:  uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		workID:    uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		sleepID:   uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		qualityID: uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		fitnessID: uuid.MustParse("55555555-5555-5555-5555-555555555555"),
		hoursID:   uuid.MustParse("66666666-6666-6666-6666-666666666666"),
		moodID:    uuid.MustParse("77777777-7777-7777-7777-777777777777"),
		scoreID:   uuid.MustParse("88888888-8888-8888-8888-888888888888"),
	}
	areas := []Area{
		{ID: fix.healthID, Name: "Health", SortOrder: 1, Description: "Body and mind"},
		{ID: fix.workID, Name: "Work", SortOrder: 2},
	}
	categories := []Category{
		{ID: fix.sleepID, AreaID: fix.healthID, Name: "Sleep", Level: 1, SortOrder: 1},
		{ID: fix.qualityID, AreaID: fix.healthID, ParentID: &fix.sleepID, Name: "Quality", Level: 2, SortOrder: 1, Description: "Subjective rating"},
		{ID: fix.fitnessID, AreaID: fix.healthID, Name: "Fitness", Level: 1, SortOrder: 2},
	}
	attributes := []AttributeDefinition{
		{
			ID: fix.hoursID, CategoryID: fix.sleepID, Name: "Hours", DataType: TypeNumber,
			Unit: "h", IsRequired: true, Rules: ValidationRules{Min: fp(0), Max: fp(24)},
			SortOrder: 1, Description: "Time asleep",
		},
		{ID: fix.moodID, CategoryID: fix.sleepID, Name: "Mood", DataType: TypeText, SortOrder: 2},
		{
			ID: fix.scoreID, CategoryID: fix.qualityID, Name: "Score", DataType: TypeNumber,
			Rules: ValidationRules{Min: fp(1), Max: fp(10)}, SortOrder: 1,
		},
	}
	fix.snap = NewSnapshot(areas, categories, attributes)
	return fix
}

func fp(v float64) *float64 { return &v }

// exportRows is the fixture structure as hierarchical sheet rows, data
// starting at row 3 the way written workbooks lay out.
func exportRows() []HierarchicalRow {
	return []HierarchicalRow{
		{Row: 3, Type: "Area", Level: "0", SortOrder: "1", Area: "Health", CategoryPath: "Health", Description: "Body and mind"},
		{Row: 4, Type: "Category", Level: "1", SortOrder: "1", Area: "Health", CategoryPath: "Health > Sleep", Category: "Sleep"},
		{
			Row: 5, Type: "Attribute", Level: "2", SortOrder: "1", Area: "Health",
			CategoryPath: "Health > Sleep", Category: "Sleep", AttributeName: "Hours",
			DataType: "number", Unit: "h", IsRequired: "TRUE", ValidationMin: "0",
			ValidationMax: "24", Description: "Time asleep",
		},
		{
			Row: 6, Type: "Attribute", Level: "2", SortOrder: "2", Area: "Health",
			CategoryPath: "Health > Sleep", Category: "Sleep", AttributeName: "Mood",
			DataType: "text", IsRequired: "FALSE",
		},
		{
			Row: 7, Type: "Category", Level: "2", SortOrder: "1", Area: "Health",
			CategoryPath: "Health > Sleep > Quality", Category: "Quality",
			Description: "Subjective rating",
		},
		{
			Row: 8, Type: "Attribute", Level: "3", SortOrder: "1", Area: "Health",
			CategoryPath: "Health > Sleep > Quality", Category: "Quality", AttributeName: "Score",
			DataType: "number", IsRequired: "FALSE", ValidationMin: "1", ValidationMax: "10",
		},
		{Row: 9, Type: "Category", Level: "1", SortOrder: "2", Area: "Health", CategoryPath: "Health > Fitness", Category: "Fitness"},
		{Row: 10, Type: "Area", Level: "0", SortOrder: "2", Area: "Work", CategoryPath: "Work"},
	}
}

func sheetOf(rows ...HierarchicalRow) *HierarchicalSheet {
	return &HierarchicalSheet{Columns: HierarchicalColumns, Rows: rows}
}

// ---- Validation Tests ----

func TestBuildChangeSetNoChanges(t *testing.T) {
	fix := newSnapFixture()

	cs := BuildChangeSet(sheetOf(exportRows()...), fix.snap, BuildOptions{FullReplace: true})

	if !cs.Empty() {
		t.Errorf("Total() = %d, want 0: %+v", cs.Total(), cs)
	}
	if len(cs.Issues.Issues) != 0 {
		t.Errorf("issues = %v, want none", cs.Issues.Issues)
	}
	if cs.NeedsConfirmation() {
		t.Error("NeedsConfirmation() = true, want false")
	}
}

func TestBuildChangeSetMissingColumns(t *testing.T) {
	fix := newSnapFixture()
	sheet := &HierarchicalSheet{
		Columns: []string{"Type", "Category_Path", "Description"},
		Rows:    exportRows(),
	}

	cs := BuildChangeSet(sheet, fix.snap, BuildOptions{})

	want := []ValidationIssue{{
		Column:   "Columns",
		Message:  "Missing required columns: Level, Sort_Order",
		Severity: SeverityError,
	}}
	if diff := cmp.Diff(want, cs.Issues.Issues); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
	if cs.Total() != 0 {
		t.Errorf("Total() = %d, want 0", cs.Total())
	}
}

func TestBuildChangeSetRowValidation(t *testing.T) {
	tests := []struct {
		name       string
		row        HierarchicalRow
		wantColumn string
		wantMsg    string
	}{
		{
			name:       "missing type",
			row:        HierarchicalRow{Row: 3, CategoryPath: "Health"},
			wantColumn: "Type",
			wantMsg:    "Type is required",
		},
		{
			name:       "unknown type",
			row:        HierarchicalRow{Row: 3, Type: "Grouping", CategoryPath: "Health"},
			wantColumn: "Type",
			wantMsg:    `Invalid Type "Grouping". Must be: Area, Category, or Attribute`,
		},
		{
			name:       "missing path",
			row:        HierarchicalRow{Row: 3, Type: "Area"},
			wantColumn: "Category_Path",
			wantMsg:    "Category_Path is required",
		},
		{
			name:       "category without name",
			row:        HierarchicalRow{Row: 3, Type: "Category", CategoryPath: "Health > Sleep"},
			wantColumn: "Category",
			wantMsg:    "Category name is required for Categories",
		},
		{
			name: "attribute without data type",
			row: HierarchicalRow{
				Row: 3, Type: "Attribute", CategoryPath: "Health > Sleep",
				Category: "Sleep", AttributeName: "Hours", Unit: "h", IsRequired: "TRUE",
			},
			wantColumn: "Data_Type",
			wantMsg:    "Data_Type is required for Attributes",
		},
		{
			name: "unknown data type",
			row: HierarchicalRow{
				Row: 3, Type: "Attribute", CategoryPath: "Health > Sleep",
				Category: "Sleep", AttributeName: "Hours", DataType: "numeric", IsRequired: "TRUE",
			},
			wantColumn: "Data_Type",
			wantMsg:    `Invalid Data_Type "numeric". Must be: number, text, datetime, boolean, link, image`,
		},
		{
			name: "attribute without name",
			row: HierarchicalRow{
				Row: 3, Type: "Attribute", CategoryPath: "Health > Sleep",
				Category: "Sleep", DataType: "number",
			},
			wantColumn: "Attribute_Name",
			wantMsg:    "Attribute_Name is required for Attributes",
		},
		{
			name: "bad is required flag",
			row: HierarchicalRow{
				Row: 3, Type: "Attribute", CategoryPath: "Health > Sleep",
				Category: "Sleep", AttributeName: "Hours", DataType: "number", IsRequired: "yes please",
			},
			wantColumn: "Is_Required",
			wantMsg:    `Invalid Is_Required "yes please". Must be: TRUE or FALSE`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := newSnapFixture()

			cs := BuildChangeSet(sheetOf(tt.row), fix.snap, BuildOptions{})

			if len(cs.Issues.Issues) != 1 {
				t.Fatalf("issues = %v, want exactly one", cs.Issues.Issues)
			}
			got := cs.Issues.Issues[0]
			if got.Row != tt.row.Row || got.Column != tt.wantColumn || got.Message != tt.wantMsg {
				t.Errorf("issue = %+v, want row %d column %q message %q", got, tt.row.Row, tt.wantColumn, tt.wantMsg)
			}
			if got.Severity != SeverityError {
				t.Errorf("severity = %q, want %q", got.Severity, SeverityError)
			}
		})
	}
}

func TestBuildChangeSetUnresolvedPaths(t *testing.T) {
	tests := []struct {
		name    string
		row     HierarchicalRow
		wantMsg string
	}{
		{
			name:    "unknown area",
			row:     HierarchicalRow{Row: 4, Type: "Category", CategoryPath: "Mind > Focus", Category: "Focus"},
			wantMsg: `Area "Mind" not found`,
		},
		{
			name:    "unknown parent category",
			row:     HierarchicalRow{Row: 4, Type: "Category", CategoryPath: "Health > Gym > Cardio", Category: "Cardio"},
			wantMsg: `Parent category "Health > Gym" not found`,
		},
		{
			name: "unknown attribute category",
			row: HierarchicalRow{
				Row: 4, Type: "Attribute", CategoryPath: "Health > Gym",
				AttributeName: "Sets", DataType: "number",
			},
			wantMsg: `Category "Health > Gym" not found`,
		},
		{
			name:    "path without category",
			row:     HierarchicalRow{Row: 4, Type: "Category", CategoryPath: "Health", Category: "Health"},
			wantMsg: "Category_Path must contain an area and a category",
		},
		{
			name: "nesting too deep",
			row: HierarchicalRow{
				Row: 4, Type: "Category", Category: "C11",
				CategoryPath: "Mind > C1 > C2 > C3 > C4 > C5 > C6 > C7 > C8 > C9 > C10 > C11",
			},
			wantMsg: "Category nesting exceeds 10 levels",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := newSnapFixture()

			cs := BuildChangeSet(sheetOf(tt.row), fix.snap, BuildOptions{})

			if len(cs.Issues.Issues) != 1 {
				t.Fatalf("issues = %v, want exactly one", cs.Issues.Issues)
			}
			got := cs.Issues.Issues[0]
			if got.Column != "Category_Path" || got.Message != tt.wantMsg {
				t.Errorf("issue = %+v, want column Category_Path message %q", got, tt.wantMsg)
			}
			if cs.Inserts() != 0 {
				t.Errorf("Inserts() = %d, want 0", cs.Inserts())
			}
		})
	}
}

func TestBuildChangeSetDuplicateNewNames(t *testing.T) {
	fix := newSnapFixture()

	t.Run("area names", func(t *testing.T) {
		cs := BuildChangeSet(sheetOf(
			HierarchicalRow{Row: 3, Type: "Area", CategoryPath: "Mind"},
			HierarchicalRow{Row: 4, Type: "Area", CategoryPath: "mind"},
		), fix.snap, BuildOptions{})

		want := []ValidationIssue{{
			Column:   "Areas",
			Message:  "Duplicate area names in new areas: Mind",
			Severity: SeverityError,
		}}
		if diff := cmp.Diff(want, cs.Issues.Issues); diff != "" {
			t.Errorf("issues mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("category paths", func(t *testing.T) {
		cs := BuildChangeSet(sheetOf(
			HierarchicalRow{Row: 3, Type: "Category", CategoryPath: "Health > Gym", Category: "Gym"},
			HierarchicalRow{Row: 4, Type: "Category", CategoryPath: "Health > Gym", Category: "Gym"},
		), fix.snap, BuildOptions{})

		want := []ValidationIssue{{
			Column:   "Categories",
			Message:  "Duplicate category paths in new categories: Health > Gym",
			Severity: SeverityError,
		}}
		if diff := cmp.Diff(want, cs.Issues.Issues); diff != "" {
			t.Errorf("issues mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestBuildChangeSetLargeChangeWarning(t *testing.T) {
	fix := newSnapFixture()
	var rows []HierarchicalRow
	for i := 0; i < ChangeWarningThreshold+1; i++ {
		rows = append(rows, HierarchicalRow{
			Row:          i + 3,
			Type:         "Area",
			CategoryPath: fmt.Sprintf("Area %02d", i),
		})
	}

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{})

	if got := len(cs.NewAreas); got != ChangeWarningThreshold+1 {
		t.Fatalf("new areas = %d, want %d", got, ChangeWarningThreshold+1)
	}
	want := []ValidationIssue{{
		Column:   "Changes",
		Message:  "Large number of changes detected (51). Please review carefully.",
		Severity: SeverityWarning,
	}}
	if diff := cmp.Diff(want, cs.Issues.Issues); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
	if !cs.NeedsConfirmation() {
		t.Error("NeedsConfirmation() = false, want true")
	}
}

func TestBuildChangeSetErrorCap(t *testing.T) {
	fix := newSnapFixture()
	var rows []HierarchicalRow
	for i := 0; i < MaxValidationIssues+5; i++ {
		rows = append(rows, HierarchicalRow{Row: i + 3, CategoryPath: "Mind"})
	}

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{})

	if got := cs.Issues.ErrorCount(); got != MaxValidationIssues {
		t.Errorf("ErrorCount() = %d, want %d", got, MaxValidationIssues)
	}
	if !cs.Issues.Truncated() {
		t.Error("Truncated() = false, want true")
	}
	last := cs.Issues.Issues[len(cs.Issues.Issues)-1]
	if want := "more than 20 errors, remaining rows not checked"; last.Message != want {
		t.Errorf("last issue = %q, want %q", last.Message, want)
	}
	if cs.Total() != 0 {
		t.Errorf("Total() = %d, want 0 when validation fails hard", cs.Total())
	}
}

// ---- Detection Tests ----

func TestBuildChangeSetAdditions(t *testing.T) {
	fix := newSnapFixture()
	rows := append(exportRows(),
		HierarchicalRow{Row: 11, Type: "Area", Level: "0", SortOrder: "3", CategoryPath: "Mind"},
		HierarchicalRow{Row: 12, Type: "Category", Level: "1", SortOrder: "1", CategoryPath: "Mind > Focus", Category: "Focus"},
		HierarchicalRow{Row: 13, Type: "Category", Level: "2", SortOrder: "1", CategoryPath: "Mind > Focus > Deep Work", Category: "Deep Work"},
		HierarchicalRow{
			Row: 14, Type: "Attribute", SortOrder: "1", CategoryPath: "Mind > Focus",
			AttributeName: "Minutes", DataType: "number", Unit: "min", IsRequired: "TRUE", ValidationMin: "0",
		},
		HierarchicalRow{
			Row: 15, Type: "Attribute", SortOrder: "2", CategoryPath: "Health > Fitness",
			AttributeName: "Distance", DataType: "number", Unit: "km",
		},
	)

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{})

	if len(cs.Issues.Issues) != 0 {
		t.Fatalf("issues = %v, want none", cs.Issues.Issues)
	}

	wantAreas := []NewAreaChange{{Name: "Mind", SortOrder: 3, Row: 11}}
	if diff := cmp.Diff(wantAreas, cs.NewAreas); diff != "" {
		t.Errorf("NewAreas mismatch (-want +got):\n%s", diff)
	}

	wantCats := []NewCategoryChange{
		{Name: "Focus", AreaName: "Mind", Path: "Mind > Focus", Level: 1, SortOrder: 1, Row: 12},
		{Name: "Deep Work", AreaName: "Mind", ParentPath: "Mind > Focus", Path: "Mind > Focus > Deep Work", Level: 2, SortOrder: 1, Row: 13},
	}
	if diff := cmp.Diff(wantCats, cs.NewCategories); diff != "" {
		t.Errorf("NewCategories mismatch (-want +got):\n%s", diff)
	}

	wantAttrs := []NewAttributeChange{
		{
			Name: "Minutes", CategoryPath: "Mind > Focus", DataType: TypeNumber,
			Unit: "min", IsRequired: true, Rules: ValidationRules{Min: fp(0)},
			SortOrder: 1, Row: 14,
		},
		{
			Name: "Distance", CategoryID: fix.fitnessID, CategoryPath: "Health > Fitness",
			DataType: TypeNumber, Unit: "km", SortOrder: 2, Row: 15,
		},
	}
	if diff := cmp.Diff(wantAttrs, cs.NewAttributes); diff != "" {
		t.Errorf("NewAttributes mismatch (-want +got):\n%s", diff)
	}

	if got := cs.Updates() + cs.Deletes(); got != 0 {
		t.Errorf("updates+deletes = %d, want 0", got)
	}
}

func TestBuildChangeSetUpdates(t *testing.T) {
	fix := newSnapFixture()
	rows := exportRows()
	rows[0].Description = "Body & mind"
	rows[4].SortOrder = "5"
	rows[2].Unit = "hours"
	rows[2].ValidationMax = "12"

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{})

	if len(cs.Issues.Issues) != 0 {
		t.Fatalf("issues = %v, want none", cs.Issues.Issues)
	}

	wantAreas := []EntityUpdate{{
		ID:   fix.healthID,
		Name: "Health",
		Changes: map[string]FieldChange{
			"description": {Old: "Body and mind", New: "Body & mind"},
		},
	}}
	if diff := cmp.Diff(wantAreas, cs.UpdatedAreas); diff != "" {
		t.Errorf("UpdatedAreas mismatch (-want +got):\n%s", diff)
	}

	wantCats := []EntityUpdate{{
		ID:   fix.qualityID,
		Name: "Quality",
		Changes: map[string]FieldChange{
			"sort_order": {Old: "1", New: "5"},
		},
	}}
	if diff := cmp.Diff(wantCats, cs.UpdatedCategories); diff != "" {
		t.Errorf("UpdatedCategories mismatch (-want +got):\n%s", diff)
	}

	wantAttrs := []EntityUpdate{{
		ID:   fix.hoursID,
		Name: "Hours",
		Changes: map[string]FieldChange{
			"unit":             {Old: "h", New: "hours"},
			"validation_rules": {Old: `{"min":0,"max":24}`, New: `{"min":0,"max":12}`},
		},
	}}
	if diff := cmp.Diff(wantAttrs, cs.UpdatedAttributes); diff != "" {
		t.Errorf("UpdatedAttributes mismatch (-want +got):\n%s", diff)
	}

	if got := cs.Inserts() + cs.Deletes(); got != 0 {
		t.Errorf("inserts+deletes = %d, want 0", got)
	}
}

func TestBuildChangeSetCaseRenames(t *testing.T) {
	fix := newSnapFixture()
	rows := exportRows()
	rows[0].CategoryPath = "HEALTH"
	rows[1].CategoryPath = "Health > sleep"
	rows[1].Category = "sleep"

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{})

	wantAreas := []EntityUpdate{{
		ID:   fix.healthID,
		Name: "HEALTH",
		Changes: map[string]FieldChange{
			"name": {Old: "Health", New: "HEALTH"},
		},
	}}
	if diff := cmp.Diff(wantAreas, cs.UpdatedAreas); diff != "" {
		t.Errorf("UpdatedAreas mismatch (-want +got):\n%s", diff)
	}

	wantCats := []EntityUpdate{{
		ID:   fix.sleepID,
		Name: "sleep",
		Changes: map[string]FieldChange{
			"name": {Old: "Sleep", New: "sleep"},
		},
	}}
	if diff := cmp.Diff(wantCats, cs.UpdatedCategories); diff != "" {
		t.Errorf("UpdatedCategories mismatch (-want +got):\n%s", diff)
	}

	if len(cs.UpdatedAttributes) != 0 {
		t.Errorf("UpdatedAttributes = %+v, want none", cs.UpdatedAttributes)
	}
}

func TestBuildChangeSetNameMismatchWarning(t *testing.T) {
	fix := newSnapFixture()

	cs := BuildChangeSet(sheetOf(HierarchicalRow{
		Row: 3, Type: "Category", CategoryPath: "Health > Gym", Category: "Gymnasium",
	}), fix.snap, BuildOptions{})

	want := []ValidationIssue{{
		Row:      3,
		Column:   "Category",
		Message:  `Category "Gymnasium" does not match the last part of Category_Path "Health > Gym"`,
		Severity: SeverityWarning,
	}}
	if diff := cmp.Diff(want, cs.Issues.Issues); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
	if len(cs.NewCategories) != 1 || cs.NewCategories[0].Name != "Gymnasium" {
		t.Errorf("NewCategories = %+v, want one named Gymnasium", cs.NewCategories)
	}
}

func TestBuildChangeSetBadValidationBounds(t *testing.T) {
	tests := []struct {
		name    string
		row     HierarchicalRow
		wantCol string
		wantMsg string
	}{
		{
			name: "min not a number",
			row: HierarchicalRow{
				Row: 5, Type: "Attribute", CategoryPath: "Health > Sleep",
				AttributeName: "Hours", DataType: "number", ValidationMin: "low", ValidationMax: "24",
			},
			wantCol: "Validation_Min",
			wantMsg: `Invalid Validation_Min "low". Must be a number`,
		},
		{
			name: "max not a number",
			row: HierarchicalRow{
				Row: 5, Type: "Attribute", CategoryPath: "Health > Sleep",
				AttributeName: "Hours", DataType: "number", ValidationMin: "0", ValidationMax: "plenty",
			},
			wantCol: "Validation_Max",
			wantMsg: `Invalid Validation_Max "plenty". Must be a number`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := newSnapFixture()

			cs := BuildChangeSet(sheetOf(tt.row), fix.snap, BuildOptions{})

			if len(cs.Issues.Issues) != 1 {
				t.Fatalf("issues = %v, want exactly one", cs.Issues.Issues)
			}
			got := cs.Issues.Issues[0]
			if got.Column != tt.wantCol || got.Message != tt.wantMsg {
				t.Errorf("issue = %+v, want column %q message %q", got, tt.wantCol, tt.wantMsg)
			}
		})
	}
}

// ---- Full-Replace Tests ----

func TestFullReplaceAreaRenameCascades(t *testing.T) {
	fix := newSnapFixture()
	rows := exportRows()
	for i := range rows {
		if rows[i].Area == "Health" {
			rows[i].Area = "Health & Mind"
		}
		rows[i].CategoryPath = strings.Replace(rows[i].CategoryPath, "Health", "Health & Mind", 1)
	}

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{FullReplace: true})

	if len(cs.Issues.Issues) != 0 {
		t.Fatalf("issues = %v, want none", cs.Issues.Issues)
	}

	wantUpdates := []EntityUpdate{{
		ID:   fix.healthID,
		Name: "Health & Mind",
		Changes: map[string]FieldChange{
			"name": {Old: "Health", New: "Health & Mind"},
		},
	}}
	if diff := cmp.Diff(wantUpdates, cs.UpdatedAreas); diff != "" {
		t.Errorf("UpdatedAreas mismatch (-want +got):\n%s", diff)
	}
	if got := cs.Inserts() + cs.Deletes(); got != 0 {
		t.Errorf("inserts+deletes = %d, want 0: %+v", got, cs)
	}
	if len(cs.UpdatedCategories) != 0 || len(cs.UpdatedAttributes) != 0 {
		t.Errorf("descendants updated, want none: %+v %+v", cs.UpdatedCategories, cs.UpdatedAttributes)
	}

	if len(cs.Renames) != 1 {
		t.Fatalf("Renames = %+v, want one", cs.Renames)
	}
	r := cs.Renames[0]
	if r.Kind != "area" || r.ID != fix.healthID || r.OldName != "Health" || r.NewName != "Health & Mind" {
		t.Errorf("rename = %+v", r)
	}
	if r.Confidence < reconcile.DefaultThreshold {
		t.Errorf("confidence = %v, want at least %v", r.Confidence, reconcile.DefaultThreshold)
	}
}

func TestFullReplaceCategoryRename(t *testing.T) {
	fix := newSnapFixture()
	rows := exportRows()
	for i := range rows {
		rows[i].CategoryPath = strings.Replace(rows[i].CategoryPath, "Health > Sleep", "Health > Slumber", 1)
		if rows[i].Category == "Sleep" {
			rows[i].Category = "Slumber"
		}
	}

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{FullReplace: true})

	if len(cs.Issues.Issues) != 0 {
		t.Fatalf("issues = %v, want none", cs.Issues.Issues)
	}

	wantUpdates := []EntityUpdate{{
		ID:   fix.sleepID,
		Name: "Slumber",
		Changes: map[string]FieldChange{
			"name": {Old: "Sleep", New: "Slumber"},
		},
	}}
	if diff := cmp.Diff(wantUpdates, cs.UpdatedCategories); diff != "" {
		t.Errorf("UpdatedCategories mismatch (-want +got):\n%s", diff)
	}
	if got := cs.Inserts() + cs.Deletes(); got != 0 {
		t.Errorf("inserts+deletes = %d, want 0: %+v", got, cs)
	}
	if len(cs.UpdatedAreas) != 0 || len(cs.UpdatedAttributes) != 0 {
		t.Errorf("unexpected updates: %+v %+v", cs.UpdatedAreas, cs.UpdatedAttributes)
	}

	if len(cs.Renames) != 1 {
		t.Fatalf("Renames = %+v, want one", cs.Renames)
	}
	r := cs.Renames[0]
	if r.Kind != "category" || r.ID != fix.sleepID || r.OldName != "Sleep" || r.NewName != "Slumber" {
		t.Errorf("rename = %+v", r)
	}
}

func TestFullReplaceAttributeRename(t *testing.T) {
	fix := newSnapFixture()
	rows := exportRows()
	rows[2].AttributeName = "Hours Slept"

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{FullReplace: true})

	if len(cs.Issues.Issues) != 0 {
		t.Fatalf("issues = %v, want none", cs.Issues.Issues)
	}

	wantUpdates := []EntityUpdate{{
		ID:   fix.hoursID,
		Name: "Hours Slept",
		Changes: map[string]FieldChange{
			"name": {Old: "Hours", New: "Hours Slept"},
		},
	}}
	if diff := cmp.Diff(wantUpdates, cs.UpdatedAttributes); diff != "" {
		t.Errorf("UpdatedAttributes mismatch (-want +got):\n%s", diff)
	}
	if got := cs.Inserts() + cs.Deletes(); got != 0 {
		t.Errorf("inserts+deletes = %d, want 0: %+v", got, cs)
	}

	if len(cs.Renames) != 1 {
		t.Fatalf("Renames = %+v, want one", cs.Renames)
	}
	r := cs.Renames[0]
	if r.Kind != "attribute" || r.ID != fix.hoursID || r.NewName != "Hours Slept" {
		t.Errorf("rename = %+v", r)
	}
}

func TestFullReplaceRemovals(t *testing.T) {
	fix := newSnapFixture()
	all := exportRows()
	rows := append(all[:3:3], all[6], all[7])

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{FullReplace: true})

	if len(cs.Issues.Issues) != 0 {
		t.Fatalf("issues = %v, want none", cs.Issues.Issues)
	}

	wantCats := []EntityDelete{{ID: fix.qualityID, Name: "Quality", Path: "Health > Sleep > Quality"}}
	if diff := cmp.Diff(wantCats, cs.DeletedCategories); diff != "" {
		t.Errorf("DeletedCategories mismatch (-want +got):\n%s", diff)
	}

	// Score goes away with Quality and must not be listed separately.
	wantAttrs := []EntityDelete{{ID: fix.moodID, Name: "Mood", Path: "Health > Sleep > Mood"}}
	if diff := cmp.Diff(wantAttrs, cs.DeletedAttributes); diff != "" {
		t.Errorf("DeletedAttributes mismatch (-want +got):\n%s", diff)
	}

	if got := cs.Inserts() + cs.Updates(); got != 0 {
		t.Errorf("inserts+updates = %d, want 0", got)
	}
	if !cs.NeedsConfirmation() {
		t.Error("NeedsConfirmation() = false, want true")
	}
}

func TestFullReplaceAreaRemovalCascades(t *testing.T) {
	fix := newSnapFixture()
	rows := []HierarchicalRow{exportRows()[7]}

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{FullReplace: true})

	wantAreas := []EntityDelete{{ID: fix.healthID, Name: "Health", Path: "Health"}}
	if diff := cmp.Diff(wantAreas, cs.DeletedAreas); diff != "" {
		t.Errorf("DeletedAreas mismatch (-want +got):\n%s", diff)
	}
	if len(cs.DeletedCategories) != 0 || len(cs.DeletedAttributes) != 0 {
		t.Errorf("cascaded children listed: %+v %+v", cs.DeletedCategories, cs.DeletedAttributes)
	}
	if cs.Deletes() != 1 {
		t.Errorf("Deletes() = %d, want 1", cs.Deletes())
	}
	if !cs.NeedsConfirmation() {
		t.Error("NeedsConfirmation() = false, want true")
	}
}

func TestFullReplaceMoveIsDeletePlusInsert(t *testing.T) {
	fix := newSnapFixture()
	rows := exportRows()
	rows[3].CategoryPath = "Health > Fitness"
	rows[3].Category = "Fitness"

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{FullReplace: true})

	if len(cs.Issues.Issues) != 0 {
		t.Fatalf("issues = %v, want none", cs.Issues.Issues)
	}

	wantNew := []NewAttributeChange{{
		Name: "Mood", CategoryID: fix.fitnessID, CategoryPath: "Health > Fitness",
		DataType: TypeText, SortOrder: 2, Row: 6,
	}}
	if diff := cmp.Diff(wantNew, cs.NewAttributes); diff != "" {
		t.Errorf("NewAttributes mismatch (-want +got):\n%s", diff)
	}

	wantDel := []EntityDelete{{ID: fix.moodID, Name: "Mood", Path: "Health > Sleep > Mood"}}
	if diff := cmp.Diff(wantDel, cs.DeletedAttributes); diff != "" {
		t.Errorf("DeletedAttributes mismatch (-want +got):\n%s", diff)
	}

	if len(cs.Renames) != 0 {
		t.Errorf("Renames = %+v, want none", cs.Renames)
	}
	if !cs.NeedsConfirmation() {
		t.Error("NeedsConfirmation() = false, want true")
	}
}

func TestNoRemovalsWithoutFullReplace(t *testing.T) {
	fix := newSnapFixture()
	all := exportRows()
	rows := append(all[:3:3], all[6], all[7])

	cs := BuildChangeSet(sheetOf(rows...), fix.snap, BuildOptions{})

	if !cs.Empty() {
		t.Errorf("Total() = %d, want 0: %+v", cs.Total(), cs)
	}
}

// ---- Helper Tests ----

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Health > Sleep", []string{"Health", "Sleep"}},
		{"Health>Sleep", []string{"Health", "Sleep"}},
		{"  Health  >  Sleep  ", []string{"Health", "Sleep"}},
		{"Health > > Sleep", []string{"Health", "Sleep"}},
		{"Health", []string{"Health"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, SplitPath(tt.in)); diff != "" {
			t.Errorf("SplitPath(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestParseSortOrder(t *testing.T) {
	tests := []struct {
		cell string
		want int
		warn bool
	}{
		{"", 0, false},
		{"3", 3, false},
		{"3.0", 3, false},
		{"3.7", 3, false},
		{"-2", -2, false},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		var issues IssueList
		got := parseSortOrder(&issues, 5, tt.cell)
		if got != tt.want {
			t.Errorf("parseSortOrder(%q) = %d, want %d", tt.cell, got, tt.want)
		}
		if hasWarn := len(issues.Warnings()) > 0; hasWarn != tt.warn {
			t.Errorf("parseSortOrder(%q) warned = %v, want %v", tt.cell, hasWarn, tt.warn)
		}
	}
}

func TestRulesJSON(t *testing.T) {
	tests := []struct {
		name  string
		rules ValidationRules
		want  string
	}{
		{"empty", ValidationRules{}, "{}"},
		{"min only", ValidationRules{Min: fp(5)}, `{"min":5}`},
		{"max only", ValidationRules{Max: fp(1.5)}, `{"max":1.5}`},
		{"both", ValidationRules{Min: fp(0), Max: fp(24)}, `{"min":0,"max":24}`},
	}
	for _, tt := range tests {
		if got := RulesJSON(tt.rules); got != tt.want {
			t.Errorf("RulesJSON(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestIssueListSortByRow(t *testing.T) {
	var issues IssueList
	issues.AddError(9, "Type", "late format error")
	issues.AddError(3, "Category_Path", "early reference error")
	issues.AddWarning(0, "Changes", "sheet-level warning")
	issues.AddError(3, "Data_Type", "second error on the row")

	issues.SortByRow()

	var rows []int
	for _, i := range issues.Issues {
		rows = append(rows, i.Row)
	}
	if diff := cmp.Diff([]int{3, 3, 9, 0}, rows); diff != "" {
		t.Errorf("row order mismatch (-want +got):\n%s", diff)
	}
	if issues.Issues[0].Column != "Category_Path" || issues.Issues[1].Column != "Data_Type" {
		t.Errorf("same-row order = %q then %q, want insertion order kept",
			issues.Issues[0].Column, issues.Issues[1].Column)
	}
}

func TestIssueListMergeRowOrder(t *testing.T) {
	var parse IssueList
	parse.AddError(2, "Date", "bad date")

	var build IssueList
	build.AddError(5, "Type", "bad type")
	build.Merge(&parse)

	rows := []int{build.Issues[0].Row, build.Issues[1].Row}
	if diff := cmp.Diff([]int{2, 5}, rows); diff != "" {
		t.Errorf("merged row order mismatch (-want +got):\n%s", diff)
	}
	if build.ErrorCount() != 2 {
		t.Errorf("ErrorCount() = %d, want 2", build.ErrorCount())
	}
}
