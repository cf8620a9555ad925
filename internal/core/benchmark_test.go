package core

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/google/uuid"
)

// ============================================================================
// Conversion Benchmarks
// ============================================================================

// BenchmarkParseNumber exercises numeric cell parsing, a hot path for
// every number attribute during imports.
func BenchmarkParseNumber(b *testing.B) {
	cells := []string{
		"123",
		"-456.78",
		"1,234,567.89",
		"  999.99  ",
		"1.5e3",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, c := range cells {
			ParseNumber(c)
		}
	}
}

// BenchmarkParseNumber_Simple is the common case: a plain integer cell.
func BenchmarkParseNumber_Simple(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseNumber("12345")
	}
}

// BenchmarkParseDate exercises date cell parsing across the accepted
// layouts plus Excel serial numbers.
func BenchmarkParseDate(b *testing.B) {
	cells := []string{
		"2024-01-15",
		"01/15/2024",
		"15.01.2024",
		"45306",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, c := range cells {
			ParseDate(c)
		}
	}
}

// BenchmarkParseDate_ISO is the common case written by our own exports.
func BenchmarkParseDate_ISO(b *testing.B) {
	for i := 0; i < b.N; i++ {
		ParseDate("2024-01-15")
	}
}

// BenchmarkCoerceValue covers typed coercion for one cell of each type.
func BenchmarkCoerceValue(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CoerceValue(TypeNumber, "42.5")
		CoerceValue(TypeDateTime, "2024-01-15")
		CoerceValue(TypeBoolean, "TRUE")
		CoerceValue(TypeText, "morning run")
	}
}

// BenchmarkCleanCell measures whitespace normalization including
// non-breaking spaces pasted from browsers.
func BenchmarkCleanCell(b *testing.B) {
	for i := 0; i < b.N; i++ {
		CleanCell("  Personal Development  ")
	}
}

// ============================================================================
// Snapshot Benchmarks
// ============================================================================

// benchStructure builds a two-level structure: areas, categories with
// one layer of children, and attrsPerCat attributes on every category.
func benchStructure(areaCount, catsPerArea, childrenPerCat, attrsPerCat int) ([]Area, []Category, []AttributeDefinition) {
	userID := uuid.New()
	var areas []Area
	var cats []Category
	var attrs []AttributeDefinition

	addAttrs := func(catID uuid.UUID) {
		for k := 0; k < attrsPerCat; k++ {
			dt := TypeNumber
			if k%2 == 1 {
				dt = TypeText
			}
			attrs = append(attrs, AttributeDefinition{
				ID:         uuid.New(),
				CategoryID: catID,
				Name:       fmt.Sprintf("Metric %d", k+1),
				DataType:   dt,
				SortOrder:  k + 1,
			})
		}
	}

	for a := 0; a < areaCount; a++ {
		area := Area{
			ID:        uuid.New(),
			UserID:    userID,
			Name:      fmt.Sprintf("Area %02d", a+1),
			SortOrder: a + 1,
		}
		areas = append(areas, area)

		for c := 0; c < catsPerArea; c++ {
			parent := Category{
				ID:        uuid.New(),
				AreaID:    area.ID,
				Name:      fmt.Sprintf("Category %02d-%02d", a+1, c+1),
				Level:     1,
				SortOrder: c + 1,
			}
			cats = append(cats, parent)
			addAttrs(parent.ID)

			for g := 0; g < childrenPerCat; g++ {
				pid := parent.ID
				child := Category{
					ID:        uuid.New(),
					AreaID:    area.ID,
					ParentID:  &pid,
					Name:      fmt.Sprintf("Sub %02d-%02d-%02d", a+1, c+1, g+1),
					Level:     2,
					SortOrder: g + 1,
				}
				cats = append(cats, child)
				addAttrs(child.ID)
			}
		}
	}
	return areas, cats, attrs
}

// BenchmarkNewSnapshot measures index construction, paid once per
// request that touches the structure.
func BenchmarkNewSnapshot(b *testing.B) {
	areas, cats, attrs := benchStructure(5, 10, 4, 5)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewSnapshot(areas, cats, attrs)
	}
}

// BenchmarkSubtreeIDs measures descendant collection, used for every
// scoped event listing and delete preview.
func BenchmarkSubtreeIDs(b *testing.B) {
	areas, cats, attrs := benchStructure(5, 10, 4, 5)
	snap := NewSnapshot(areas, cats, attrs)
	root := cats[0].ID
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap.SubtreeIDs(root)
	}
}

// ============================================================================
// Change Detection Benchmarks
// ============================================================================

// benchSheet renders a snapshot back into hierarchical rows that match
// it exactly, so change detection sees a steady state.
func benchSheet(snap *Snapshot) *HierarchicalSheet {
	sheet := &HierarchicalSheet{Columns: HierarchicalColumns}
	rowNum := 2

	addRow := func(r HierarchicalRow) {
		r.Row = rowNum
		rowNum++
		sheet.Rows = append(sheet.Rows, r)
	}

	var walk func(cat *Category)
	walk = func(cat *Category) {
		path := snap.PathFor(cat.ID)
		addRow(HierarchicalRow{
			Type:         "Category",
			CategoryPath: path,
			Category:     cat.Name,
			SortOrder:    strconv.Itoa(cat.SortOrder),
		})
		for _, ad := range snap.AttributesFor(cat.ID) {
			addRow(HierarchicalRow{
				Type:          "Attribute",
				CategoryPath:  path,
				AttributeName: ad.Name,
				DataType:      string(ad.DataType),
				SortOrder:     strconv.Itoa(ad.SortOrder),
			})
		}
		for _, child := range snap.ChildCategories(cat.ID) {
			walk(child)
		}
	}

	for _, area := range snap.SortedAreas() {
		addRow(HierarchicalRow{
			Type:         "Area",
			CategoryPath: area.Name,
			SortOrder:    strconv.Itoa(area.SortOrder),
		})
		for _, cat := range snap.RootCategories(area.ID) {
			walk(cat)
		}
	}
	return sheet
}

// BenchmarkBuildChangeSet_NoChanges is the steady state: a re-uploaded
// export that matches the database exactly.
func BenchmarkBuildChangeSet_NoChanges(b *testing.B) {
	areas, cats, attrs := benchStructure(5, 10, 4, 5)
	snap := NewSnapshot(areas, cats, attrs)
	sheet := benchSheet(snap)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cs := BuildChangeSet(sheet, snap, BuildOptions{})
		if !cs.Empty() {
			b.Fatalf("expected empty change set, got %d changes", cs.Total())
		}
	}
}

// BenchmarkBuildChangeSet_AllNew is the first-upload case: every row
// creates something.
func BenchmarkBuildChangeSet_AllNew(b *testing.B) {
	areas, cats, attrs := benchStructure(5, 10, 4, 5)
	full := NewSnapshot(areas, cats, attrs)
	sheet := benchSheet(full)
	empty := NewSnapshot(nil, nil, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cs := BuildChangeSet(sheet, empty, BuildOptions{})
		if cs.Inserts() == 0 {
			b.Fatal("expected inserts")
		}
	}
}
