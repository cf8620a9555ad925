package sqlgen

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxotrack/internal/core"
)

func testSnapshot(t *testing.T) *core.Snapshot {
	t.Helper()

	areaID := uuid.New()
	rootID := uuid.New()
	childID := uuid.New()

	min := 0.0
	max := 300.0

	areas := []core.Area{
		{ID: areaID, Name: "O'Brien & Sons", Icon: "🏠", Color: "#FF0000", SortOrder: 1, Description: "House projects"},
	}
	categories := []core.Category{
		{ID: rootID, AreaID: areaID, Name: "Garden", Level: 1, SortOrder: 1},
		{ID: childID, AreaID: areaID, ParentID: &rootID, Name: "Roses", Level: 2, SortOrder: 1},
	}
	attributes := []core.AttributeDefinition{
		{ID: uuid.New(), CategoryID: rootID, Name: "Hours", DataType: core.TypeNumber, Unit: "h",
			Rules: core.ValidationRules{Min: &min, Max: &max}, SortOrder: 1},
		{ID: uuid.New(), CategoryID: rootID, Name: "Notes", DataType: core.TypeText, SortOrder: 2},
		{ID: uuid.New(), CategoryID: childID, Name: "Watered", DataType: core.TypeBoolean, IsRequired: true, SortOrder: 1},
	}
	return core.NewSnapshot(areas, categories, attributes)
}

func TestSchemaTables(t *testing.T) {
	sql := Schema(Options{})

	for _, table := range []string{
		"templates", "areas", "categories", "attribute_definitions",
		"events", "event_attributes", "event_attachments", "audit_log",
	} {
		assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS "+table,
			"missing table %s", table)
	}
	assert.Contains(t, sql, `CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`)
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS audit_log_archive (LIKE audit_log INCLUDING ALL)")
}

func TestSchemaPolicies(t *testing.T) {
	sql := Schema(Options{})

	// Four per owned table, three for the append-only audit pair.
	assert.Equal(t, 7*4+3, strings.Count(sql, "CREATE POLICY"))
	assert.Contains(t, sql, "is_public = true OR created_by = auth.uid()")
	assert.Contains(t, sql, `CREATE POLICY "Users can view their own areas"`)
	assert.Contains(t, sql, "area_id IN (SELECT id FROM areas WHERE user_id = auth.uid())")
	assert.Contains(t, sql, "event_id IN (SELECT id FROM events WHERE user_id = auth.uid())")

	enabled := strings.Count(sql, "ENABLE ROW LEVEL SECURITY")
	assert.Equal(t, 9, enabled, "every table gets RLS")
}

func TestSchemaConstraints(t *testing.T) {
	sql := Schema(Options{})

	assert.Contains(t, sql, "CONSTRAINT single_value_check")
	assert.Contains(t, sql, "CONSTRAINT event_attribute_unique UNIQUE (event_id, attribute_id)")
	assert.Contains(t, sql, "CHECK (level >= 1 AND level <= 10)")
	assert.Contains(t, sql, "edited_at TIMESTAMPTZ NOT NULL DEFAULT NOW()")

	// The data_type check lists every known type.
	for _, dt := range core.DataTypes {
		assert.Contains(t, sql, "'"+string(dt)+"'")
	}
}

func TestSchemaHelperFunctions(t *testing.T) {
	sql := Schema(Options{})

	assert.Contains(t, sql, "CREATE OR REPLACE FUNCTION user_owns_area")
	assert.Contains(t, sql, "CREATE OR REPLACE FUNCTION get_user_areas")
	assert.Contains(t, sql, "CREATE OR REPLACE FUNCTION category_path")
	assert.Contains(t, sql, "CREATE OR REPLACE FUNCTION category_subtree")
	assert.Equal(t, 4, strings.Count(sql, "SECURITY DEFINER"))
	assert.Contains(t, sql, "string_agg(chain.name, '"+core.PathSeparator+"'")
}

func TestSchemaIndexes(t *testing.T) {
	sql := Schema(Options{})

	for _, idx := range []string{
		"idx_areas_user_id", "idx_categories_parent_id",
		"idx_events_user_date", "idx_events_category_date",
		"idx_event_attr_event_id", "idx_audit_log_user_created",
	} {
		assert.Contains(t, sql, "CREATE INDEX IF NOT EXISTS "+idx)
	}
}

func TestSchemaSeed(t *testing.T) {
	snap := testSnapshot(t)
	sql := Schema(Options{Seed: snap})

	// Quotes in names are doubled, not passed through.
	assert.Contains(t, sql, "'O''Brien & Sons'")
	assert.NotContains(t, sql, "'O'Brien")

	assert.Equal(t, 1, strings.Count(sql, "INSERT INTO areas"))
	assert.Equal(t, 2, strings.Count(sql, "INSERT INTO categories"))
	assert.Equal(t, 3, strings.Count(sql, "INSERT INTO attribute_definitions"))

	// Parent rows come before rows that reference them.
	garden := strings.Index(sql, "'Garden'")
	roses := strings.Index(sql, "'Roses'")
	require.Greater(t, garden, 0)
	require.Greater(t, roses, garden)

	assert.Contains(t, sql, `'{"min":0,"max":300}'::jsonb`)
	assert.Contains(t, sql, "'{}'::jsonb,")

	// No sample block unless asked for.
	assert.NotContains(t, sql, "SAMPLE EVENTS")
}

func TestSchemaSampleEvents(t *testing.T) {
	snap := testSnapshot(t)
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	sql := Schema(Options{Seed: snap, SampleEvents: true, Now: now})

	assert.Contains(t, sql, "SAMPLE EVENTS")
	assert.Equal(t, 3, strings.Count(sql, "WITH new_event AS ("))
	assert.Contains(t, sql, "'2024-06-15'")
	assert.Contains(t, sql, "'2024-06-13'")
	assert.Contains(t, sql, "value_number")
	assert.Contains(t, sql, "'Sample text 2'")
	assert.Contains(t, sql, "'Sample event 1 for Garden'")
}

func TestSchemaDeterministic(t *testing.T) {
	snap := testSnapshot(t)
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	a := Schema(Options{Seed: snap, SampleEvents: true, Now: now})
	b := Schema(Options{Seed: snap, SampleEvents: true, Now: now})
	assert.Equal(t, a, b)
}
