package core

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ----------------------------------------------------------------------------
// buildFieldUpdate Tests
// ----------------------------------------------------------------------------

func TestBuildFieldUpdate(t *testing.T) {
	tests := []struct {
		name     string
		changes  map[string]FieldChange
		allowed  map[string]string
		argStart int
		wantSet  string
		wantArgs []interface{}
	}{
		{
			name:     "single field",
			changes:  map[string]FieldChange{"name": {Old: "Health", New: "Wellness"}},
			allowed:  areaFieldColumns,
			argStart: 3,
			wantSet:  "name = $3",
			wantArgs: []interface{}{"Wellness"},
		},
		{
			name: "fields render in sorted order",
			changes: map[string]FieldChange{
				"sort_order": {New: "4"},
				"icon":       {New: "🏥"},
				"name":       {New: "Wellness"},
			},
			allowed:  areaFieldColumns,
			argStart: 3,
			wantSet:  "icon = $3, name = $4, sort_order = $5",
			wantArgs: []interface{}{"🏥", "Wellness", 4},
		},
		{
			name: "typed columns coerce their args",
			changes: map[string]FieldChange{
				"is_required": {Old: "FALSE", New: "TRUE"},
				"sort_order":  {Old: "1", New: "7"},
			},
			allowed:  attributeFieldColumns,
			argStart: 3,
			wantSet:  "is_required = $3, sort_order = $4",
			wantArgs: []interface{}{true, 7},
		},
		{
			name:     "empty change map",
			changes:  map[string]FieldChange{},
			allowed:  areaFieldColumns,
			argStart: 3,
			wantSet:  "",
			wantArgs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, args, err := buildFieldUpdate(tt.changes, tt.allowed, tt.argStart)
			if err != nil {
				t.Fatalf("buildFieldUpdate: %v", err)
			}
			if set != tt.wantSet {
				t.Errorf("set = %q, want %q", set, tt.wantSet)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildFieldUpdateRejectsUnknownField(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		allowed map[string]string
	}{
		{"column outside the map", "user_id", areaFieldColumns},
		{"area-only column on a category", "icon", categoryFieldColumns},
		{"attribute-only column on an area", "data_type", areaFieldColumns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := buildFieldUpdate(map[string]FieldChange{tt.field: {New: "x"}}, tt.allowed, 3)
			if err == nil {
				t.Fatalf("expected error for field %q", tt.field)
			}
			if !strings.Contains(err.Error(), "not editable") {
				t.Errorf("error = %q, want mention of not editable", err)
			}
		})
	}
}

func TestFieldArg(t *testing.T) {
	tests := []struct {
		field string
		value string
		want  interface{}
	}{
		{"sort_order", "5", 5},
		{"sort_order", "junk", 0},
		{"is_required", "TRUE", true},
		{"is_required", "true", true},
		{"is_required", "FALSE", false},
		{"is_required", "yes", false},
		{"name", "Hours", "Hours"},
		{"description", "", ""},
	}

	for _, tt := range tests {
		if got := fieldArg(tt.field, tt.value); got != tt.want {
			t.Errorf("fieldArg(%q, %q) = %v (%T), want %v (%T)", tt.field, tt.value, got, got, tt.want, tt.want)
		}
	}
}

// ----------------------------------------------------------------------------
// Event filter builder Tests
// ----------------------------------------------------------------------------

func TestEventValueColumn(t *testing.T) {
	tests := []struct {
		dt   DataType
		want string
	}{
		{TypeNumber, "value_number"},
		{TypeDateTime, "value_datetime"},
		{TypeBoolean, "value_boolean"},
		{TypeText, "value_text"},
		{TypeLink, "value_text"},
		{TypeImage, "value_text"},
	}

	for _, tt := range tests {
		if got := eventValueColumn(tt.dt); got != tt.want {
			t.Errorf("eventValueColumn(%s) = %q, want %q", tt.dt, got, tt.want)
		}
	}
}

func TestBuildEventFilterEventColumns(t *testing.T) {
	tests := []struct {
		name     string
		filter   AttributeFilter
		argIdx   int
		wantCond string
		wantArgs []interface{}
		wantNext int
	}{
		{
			name:     "date greater-equal",
			filter:   AttributeFilter{Column: "date", Operator: OpGreaterEq, Value: "2024-01-01"},
			argIdx:   2,
			wantCond: "e.event_date >= $2",
			wantArgs: []interface{}{"2024-01-01"},
			wantNext: 3,
		},
		{
			name:     "column name is case-insensitive",
			filter:   AttributeFilter{Column: "Date", Operator: OpLess, Value: "2024-06-01"},
			argIdx:   4,
			wantCond: "e.event_date < $4",
			wantArgs: []interface{}{"2024-06-01"},
			wantNext: 5,
		},
		{
			name:     "comment contains wraps the value",
			filter:   AttributeFilter{Column: "comment", Operator: OpContains, Value: "gym"},
			argIdx:   2,
			wantCond: "e.comment ILIKE $2",
			wantArgs: []interface{}{"%gym%"},
			wantNext: 3,
		},
		{
			name:     "comment starts-with",
			filter:   AttributeFilter{Column: "comment", Operator: OpStartsWith, Value: "gym"},
			argIdx:   2,
			wantCond: "e.comment ILIKE $2",
			wantArgs: []interface{}{"gym%"},
			wantNext: 3,
		},
		{
			name:     "comment ends-with",
			filter:   AttributeFilter{Column: "comment", Operator: OpEndsWith, Value: "gym"},
			argIdx:   2,
			wantCond: "e.comment ILIKE $2",
			wantArgs: []interface{}{"%gym"},
			wantNext: 3,
		},
		{
			name:     "comment equals",
			filter:   AttributeFilter{Column: "comment", Operator: OpEquals, Value: "rest day"},
			argIdx:   2,
			wantCond: "e.comment = $2",
			wantArgs: []interface{}{"rest day"},
			wantNext: 3,
		},
		{
			name:     "unsupported operator on an event column",
			filter:   AttributeFilter{Column: "date", Operator: OpIn, Value: "a,b"},
			argIdx:   2,
			wantCond: "",
			wantArgs: nil,
			wantNext: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, args, next := buildEventFilter(tt.filter, tt.argIdx)
			if cond != tt.wantCond {
				t.Errorf("cond = %q, want %q", cond, tt.wantCond)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
			if next != tt.wantNext {
				t.Errorf("next = %d, want %d", next, tt.wantNext)
			}
		})
	}
}

func TestBuildEventFilterAttribute(t *testing.T) {
	cond, args, next := buildEventFilter(AttributeFilter{
		Column: "Hours", Type: TypeNumber, Operator: OpGreaterEq, Value: "8",
	}, 2)

	for _, fragment := range []string{
		"EXISTS (",
		"lower(ad.name) = lower($2)",
		"ea.value_number >= $3",
	} {
		if !strings.Contains(cond, fragment) {
			t.Errorf("cond missing %q:\n%s", fragment, cond)
		}
	}
	if diff := cmp.Diff([]interface{}{"Hours", "8"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if next != 4 {
		t.Errorf("next = %d, want 4", next)
	}
}

func TestBuildAttributeFilterOperators(t *testing.T) {
	tests := []struct {
		name     string
		filter   AttributeFilter
		wantCmp  string
		wantArgs []interface{}
	}{
		{
			name:     "contains on text",
			filter:   AttributeFilter{Column: "Mood", Type: TypeText, Operator: OpContains, Value: "good"},
			wantCmp:  "ea.value_text ILIKE $3",
			wantArgs: []interface{}{"Mood", "%good%"},
		},
		{
			name:     "equals on boolean",
			filter:   AttributeFilter{Column: "Fasted", Type: TypeBoolean, Operator: OpEquals, Value: "true"},
			wantCmp:  "ea.value_boolean = $3",
			wantArgs: []interface{}{"Fasted", "true"},
		},
		{
			name:     "less-equal on datetime",
			filter:   AttributeFilter{Column: "Bedtime", Type: TypeDateTime, Operator: OpLessEq, Value: "2024-01-01"},
			wantCmp:  "ea.value_datetime <= $3",
			wantArgs: []interface{}{"Bedtime", "2024-01-01"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, args, next := buildAttributeFilter(tt.filter, 2)
			if !strings.Contains(cond, tt.wantCmp) {
				t.Errorf("cond missing %q:\n%s", tt.wantCmp, cond)
			}
			if diff := cmp.Diff(tt.wantArgs, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
			if next != 4 {
				t.Errorf("next = %d, want 4", next)
			}
		})
	}
}

func TestBuildAttributeFilterIn(t *testing.T) {
	cond, args, next := buildAttributeFilter(AttributeFilter{
		Column: "Mood", Type: TypeText, Operator: OpIn, Value: "good, bad,ok",
	}, 5)

	if !strings.Contains(cond, "ea.value_text IN ($6, $7, $8)") {
		t.Errorf("cond missing IN list:\n%s", cond)
	}
	if !strings.Contains(cond, "lower(ad.name) = lower($5)") {
		t.Errorf("cond missing name match:\n%s", cond)
	}
	if diff := cmp.Diff([]interface{}{"Mood", "good", "bad", "ok"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if next != 9 {
		t.Errorf("next = %d, want 9", next)
	}
}

func TestBuildAttributeFilterUnknownOperator(t *testing.T) {
	cond, args, next := buildAttributeFilter(AttributeFilter{
		Column: "Mood", Type: TypeText, Operator: FilterOperator("between"), Value: "1,2",
	}, 2)

	if cond != "" || args != nil || next != 2 {
		t.Errorf("got (%q, %v, %d), want empty condition", cond, args, next)
	}
}

// ----------------------------------------------------------------------------
// Event order builder Tests
// ----------------------------------------------------------------------------

func TestBuildEventOrderDefault(t *testing.T) {
	parts, sorts, args, idx := buildEventOrder(EventQuery{}, []interface{}{"u1"}, 2)

	wantParts := []string{"e.event_date desc", "e.created_at desc"}
	if diff := cmp.Diff(wantParts, parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]SortSpec{{Column: "date", Dir: "desc"}}, sorts); diff != "" {
		t.Errorf("sorts mismatch (-want +got):\n%s", diff)
	}
	if len(args) != 1 || idx != 2 {
		t.Errorf("args/idx changed: %v, %d", args, idx)
	}
}

func TestBuildEventOrderEventColumns(t *testing.T) {
	q := EventQuery{Sorts: []SortSpec{
		{Column: "date", Dir: "asc"},
		{Column: "comment", Dir: "sideways"},
	}}
	parts, sorts, _, idx := buildEventOrder(q, nil, 2)

	wantParts := []string{"e.event_date asc", "e.comment asc"}
	if diff := cmp.Diff(wantParts, parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
	wantSorts := []SortSpec{{Column: "date", Dir: "asc"}, {Column: "comment", Dir: "asc"}}
	if diff := cmp.Diff(wantSorts, sorts); diff != "" {
		t.Errorf("sorts mismatch (-want +got):\n%s", diff)
	}
	if idx != 2 {
		t.Errorf("idx = %d, want 2", idx)
	}
}

func TestBuildEventOrderAttributeSubquery(t *testing.T) {
	q := EventQuery{
		Sorts:     []SortSpec{{Column: "Hours", Dir: "desc"}},
		AttrTypes: map[string]DataType{"hours": TypeNumber},
	}
	parts, sorts, args, idx := buildEventOrder(q, []interface{}{"u1"}, 2)

	if len(parts) != 1 {
		t.Fatalf("parts = %v, want one subquery order", parts)
	}
	for _, fragment := range []string{
		"SELECT ea.value_number FROM event_attributes ea",
		"lower(ad.name) = lower($2)",
		"NULLS LAST",
		" desc",
	} {
		if !strings.Contains(parts[0], fragment) {
			t.Errorf("order part missing %q:\n%s", fragment, parts[0])
		}
	}
	if diff := cmp.Diff([]interface{}{"u1", "Hours"}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if idx != 3 {
		t.Errorf("idx = %d, want 3", idx)
	}
	if diff := cmp.Diff([]SortSpec{{Column: "Hours", Dir: "desc"}}, sorts); diff != "" {
		t.Errorf("sorts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEventOrderUnknownAttributeFallsBack(t *testing.T) {
	q := EventQuery{Sorts: []SortSpec{{Column: "Bogus", Dir: "asc"}}}
	parts, sorts, _, _ := buildEventOrder(q, nil, 2)

	wantParts := []string{"e.event_date desc", "e.created_at desc"}
	if diff := cmp.Diff(wantParts, parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]SortSpec{{Column: "date", Dir: "desc"}}, sorts); diff != "" {
		t.Errorf("sorts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildEventOrderCapsAtTwoLevels(t *testing.T) {
	q := EventQuery{Sorts: []SortSpec{
		{Column: "", Dir: "asc"},
		{Column: "date", Dir: "asc"},
		{Column: "comment", Dir: "desc"},
		{Column: "created", Dir: "asc"},
	}}
	parts, sorts, _, _ := buildEventOrder(q, nil, 2)

	wantParts := []string{"e.event_date asc", "e.comment desc"}
	if diff := cmp.Diff(wantParts, parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
	if len(sorts) != 2 {
		t.Errorf("sorts = %v, want two levels", sorts)
	}
}
