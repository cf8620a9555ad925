package reconcile

import (
	"testing"

	"github.com/google/uuid"
)

// catNode builds a category node in the Health area under Fitness,
// which is the block most tests exercise.
func catNode(name string, row int, id uuid.UUID) *Node {
	return &Node{
		Row:    row,
		ID:     id,
		Name:   name,
		Kind:   KindCategory,
		Parent: "Fitness",
		Area:   "Health",
		Level:  2,
	}
}

// ----------------------------------------------------------------------------
// Phase 1: uuid identity
// ----------------------------------------------------------------------------

func TestDetectorUUIDMatch(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name     string
		oldName  string
		newName  string
		wantKind MatchKind
	}{
		{
			name:     "same name is exact",
			oldName:  "Running",
			newName:  "Running",
			wantKind: MatchExact,
		},
		{
			name:     "case change is exact",
			oldName:  "Running",
			newName:  "running",
			wantKind: MatchExact,
		},
		{
			name:     "new name is rename",
			oldName:  "Jogging",
			newName:  "Running",
			wantKind: MatchRename,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := []*Node{catNode(tt.oldName, 0, id)}
			new_ := []*Node{catNode(tt.newName, 5, id)}

			res := NewDetector().Match(old, new_)

			if len(res.Matches) != 1 {
				t.Fatalf("got %d matches, want 1", len(res.Matches))
			}
			m := res.Matches[0]
			if m.Kind != tt.wantKind {
				t.Errorf("match kind = %q, want %q", m.Kind, tt.wantKind)
			}
			if m.Confidence != 1.0 {
				t.Errorf("confidence = %v, want 1.0", m.Confidence)
			}
			if m.Signals["uuid"] != 1.0 {
				t.Errorf("uuid signal = %v, want 1.0", m.Signals["uuid"])
			}
			if len(res.RemovedOld) != 0 || len(res.AddedNew) != 0 {
				t.Errorf("leftovers = %d removed, %d added, want none",
					len(res.RemovedOld), len(res.AddedNew))
			}
		})
	}
}

func TestDetectorUUIDBeatsSimilarity(t *testing.T) {
	id := uuid.New()
	old := []*Node{catNode("Running", 3, id)}
	// The uuid pair has a completely different name while a perfect
	// name twin arrives without an id. The id must win.
	new_ := []*Node{
		catNode("Sprinting", 9, id),
		catNode("Running", 3, uuid.Nil),
	}

	res := NewDetector().Match(old, new_)

	if len(res.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(res.Matches))
	}
	m := res.Matches[0]
	if m.Kind != MatchRename || m.New.Name != "Sprinting" {
		t.Errorf("match = %q -> %q (%s), want rename to Sprinting", m.Old.Name, m.New.Name, m.Kind)
	}
	if len(res.AddedNew) != 1 || res.AddedNew[0].Name != "Running" {
		t.Fatalf("AddedNew = %v, want the no-id Running node", res.AddedNew)
	}
}

// ----------------------------------------------------------------------------
// Phase 3: in-block similarity
// ----------------------------------------------------------------------------

func TestDetectorFuzzyRename(t *testing.T) {
	old := []*Node{catNode("Jogging", 5, uuid.Nil)}
	new_ := []*Node{catNode("Running", 5, uuid.Nil)}

	res := NewDetector().Match(old, new_)

	if len(res.Matches) != 1 {
		t.Fatalf("got %d matches, want 1 (removed=%d added=%d)",
			len(res.Matches), len(res.RemovedOld), len(res.AddedNew))
	}
	m := res.Matches[0]
	if m.Kind != MatchRename {
		t.Errorf("match kind = %q, want %q", m.Kind, MatchRename)
	}
	// position 1.0, name 6/14, parent 1.0, sibling 1.0, fields 0.5
	want := 0.20*1.0 + 0.40*(6.0/14.0) + 0.20*1.0 + 0.10*1.0 + 0.10*0.5
	if !almostEqual(m.Confidence, want) {
		t.Errorf("confidence = %v, want %v", m.Confidence, want)
	}
	if !almostEqual(m.Signals["name"], 6.0/14.0) {
		t.Errorf("name signal = %v, want %v", m.Signals["name"], 6.0/14.0)
	}
}

func TestDetectorBelowThresholdSplits(t *testing.T) {
	old := []*Node{catNode("Meditation", 5, uuid.Nil)}
	new_ := []*Node{catNode("Cycling", 9, uuid.Nil)}

	res := NewDetector().Match(old, new_)

	if len(res.Matches) != 0 {
		t.Fatalf("got %d matches, want 0", len(res.Matches))
	}
	if len(res.RemovedOld) != 1 || res.RemovedOld[0].Name != "Meditation" {
		t.Errorf("RemovedOld = %v, want Meditation", res.RemovedOld)
	}
	if len(res.AddedNew) != 1 || res.AddedNew[0].Name != "Cycling" {
		t.Errorf("AddedNew = %v, want Cycling", res.AddedNew)
	}
}

func TestDetectorSameNameIsUpdate(t *testing.T) {
	// A db-side node has no row; position stays neutral at 0.5.
	old := []*Node{catNode("Running", 0, uuid.Nil)}
	new_ := []*Node{catNode("Running", 7, uuid.Nil)}

	res := NewDetector().Match(old, new_)

	if len(res.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(res.Matches))
	}
	m := res.Matches[0]
	if m.Kind != MatchUpdate {
		t.Errorf("match kind = %q, want %q", m.Kind, MatchUpdate)
	}
	want := 0.20*0.5 + 0.40*1.0 + 0.20*1.0 + 0.10*1.0 + 0.10*0.5
	if !almostEqual(m.Confidence, want) {
		t.Errorf("confidence = %v, want %v", m.Confidence, want)
	}
}

func TestDetectorGreedyOneToOne(t *testing.T) {
	old := []*Node{
		catNode("Swiming", 3, uuid.Nil),
		catNode("Swimmin", 4, uuid.Nil),
	}
	new_ := []*Node{catNode("Swimming", 3, uuid.Nil)}

	res := NewDetector().Match(old, new_)

	if len(res.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(res.Matches))
	}
	// Both candidates clear the threshold; the row-3 node scores higher
	// on position and must take the single slot.
	if got := res.Matches[0].Old.Name; got != "Swiming" {
		t.Errorf("matched old = %q, want Swiming", got)
	}
	if len(res.RemovedOld) != 1 || res.RemovedOld[0].Name != "Swimmin" {
		t.Errorf("RemovedOld = %v, want Swimmin", res.RemovedOld)
	}
}

// ----------------------------------------------------------------------------
// Phase 2: blocking
// ----------------------------------------------------------------------------

func TestDetectorBlockingPreventsCrossAreaMatch(t *testing.T) {
	old := []*Node{{
		Row: 4, Name: "Running", Kind: KindCategory,
		Parent: "Fitness", Area: "Health", Level: 2,
	}}
	// Identical name, but moved to another area. A move is a delete
	// plus insert, never a rename.
	new_ := []*Node{{
		Row: 4, Name: "Running", Kind: KindCategory,
		Parent: "Fitness", Area: "Work", Level: 2,
	}}

	res := NewDetector().Match(old, new_)

	if len(res.Matches) != 0 {
		t.Fatalf("got %d matches across areas, want 0", len(res.Matches))
	}
	if len(res.RemovedOld) != 1 || len(res.AddedNew) != 1 {
		t.Errorf("got removed=%d added=%d, want 1 and 1",
			len(res.RemovedOld), len(res.AddedNew))
	}
}

func TestDetectorBlockingSeparatesKinds(t *testing.T) {
	old := []*Node{{
		Row: 2, Name: "Duration", Kind: KindCategory,
		Area: "Health", Level: 1,
	}}
	new_ := []*Node{{
		Row: 2, Name: "Duration", Kind: KindAttribute,
		Area: "Health", Level: 1,
	}}

	res := NewDetector().Match(old, new_)

	if len(res.Matches) != 0 {
		t.Fatalf("category matched attribute, want no match")
	}
}

func TestDetectorLevelChangeSplits(t *testing.T) {
	old := []*Node{{
		Row: 6, Name: "Strength", Kind: KindCategory,
		Parent: "Fitness", Area: "Health", Level: 2,
	}}
	new_ := []*Node{{
		Row: 6, Name: "Strength", Kind: KindCategory,
		Parent: "Fitness", Area: "Health", Level: 3,
	}}

	res := NewDetector().Match(old, new_)

	if len(res.Matches) != 0 {
		t.Fatalf("nodes at different levels matched, want no match")
	}
}

// ----------------------------------------------------------------------------
// Signals
// ----------------------------------------------------------------------------

func TestCompareFields(t *testing.T) {
	tests := []struct {
		name string
		a    map[string]string
		b    map[string]string
		want float64
	}{
		{
			name: "both empty is neutral",
			a:    nil,
			b:    nil,
			want: 0.5,
		},
		{
			name: "one empty is neutral",
			a:    map[string]string{"unit": "km"},
			b:    nil,
			want: 0.5,
		},
		{
			name: "no shared keys is neutral",
			a:    map[string]string{"unit": "km"},
			b:    map[string]string{"icon": "run"},
			want: 0.5,
		},
		{
			name: "all equal",
			a:    map[string]string{"unit": "km", "data_type": "number"},
			b:    map[string]string{"unit": "km", "data_type": "number"},
			want: 1.0,
		},
		{
			name: "half equal",
			a:    map[string]string{"unit": "km", "data_type": "number"},
			b:    map[string]string{"unit": "mi", "data_type": "number"},
			want: 0.5,
		},
		{
			name: "only common keys count",
			a:    map[string]string{"unit": "km", "icon": "run"},
			b:    map[string]string{"unit": "km", "color": "red"},
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compareFields(tt.a, tt.b); !almostEqual(got, tt.want) {
				t.Errorf("compareFields = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchFieldChanges(t *testing.T) {
	m := Match{
		Old: &Node{Name: "Volume", Fields: map[string]string{
			"unit":        "l",
			"description": "intake",
		}},
		New: &Node{Name: "Volume", Fields: map[string]string{
			"unit":        "ml",
			"description": "intake",
			"is_required": "true",
		}},
	}

	changes := m.FieldChanges()
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %v", len(changes), changes)
	}
	if d := changes["unit"]; d.Old != "l" || d.New != "ml" {
		t.Errorf("unit delta = %+v, want l -> ml", d)
	}
	if d := changes["is_required"]; d.Old != "" || d.New != "true" {
		t.Errorf("is_required delta = %+v, want \"\" -> true", d)
	}

	same := Match{Old: m.New, New: m.New}
	if got := same.FieldChanges(); got != nil {
		t.Errorf("FieldChanges on identical fields = %v, want nil", got)
	}
}

// ----------------------------------------------------------------------------
// End to end
// ----------------------------------------------------------------------------

func TestDetectorMixedStructure(t *testing.T) {
	keep := uuid.New()
	renamed := uuid.New()

	old := []*Node{
		catNode("Running", 3, keep),
		catNode("Cardio", 4, renamed),
		catNode("Meditation", 5, uuid.Nil), // deleted below threshold
		catNode("Stretching", 6, uuid.Nil), // fuzzy renamed
	}
	new_ := []*Node{
		catNode("Running", 3, keep),         // exact
		catNode("Endurance", 4, renamed),    // rename via uuid
		catNode("Stretchings", 6, uuid.Nil), // fuzzy rename target
		catNode("Rowing", 7, uuid.Nil),      // brand new
	}

	res := NewDetector().Match(old, new_)
	sum := res.Summary()

	if sum.Matches != 3 {
		t.Fatalf("summary matches = %d, want 3 (%+v)", sum.Matches, sum)
	}
	if sum.Exact != 1 || sum.Renames != 2 {
		t.Errorf("summary = %+v, want 1 exact and 2 renames", sum)
	}
	if sum.Deletes != 1 || sum.Inserts != 1 {
		t.Errorf("summary = %+v, want 1 delete and 1 insert", sum)
	}
	if sum.AvgConfidence <= 0.65 || sum.AvgConfidence > 1.0 {
		t.Errorf("avg confidence = %v, want within (0.65, 1.0]", sum.AvgConfidence)
	}

	if len(res.RemovedOld) != 1 || res.RemovedOld[0].Name != "Meditation" {
		t.Errorf("RemovedOld = %v, want Meditation", res.RemovedOld)
	}
	if len(res.AddedNew) != 1 || res.AddedNew[0].Name != "Rowing" {
		t.Errorf("AddedNew = %v, want Rowing", res.AddedNew)
	}
}
