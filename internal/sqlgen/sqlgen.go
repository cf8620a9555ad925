// Package sqlgen emits the provisioning script for a managed Postgres
// database: tables, row level security, helper functions, indexes, and
// optionally seed INSERTs from a structure snapshot plus sample events
// for smoke-testing. The output is plain SQL meant to be pasted into
// the provider's SQL console or piped through psql.
package sqlgen

import (
	"fmt"
	"time"

	"taxotrack/internal/core"
)

// Options select what the generated script contains.
type Options struct {
	// Seed adds structure INSERTs for every area, category, and
	// attribute in the snapshot.
	Seed *core.Snapshot
	// SampleEvents appends a few smoke-test events for the first
	// seeded category. Ignored without Seed.
	SampleEvents bool
	// Now stamps the header and sample event dates. Zero means the
	// current time.
	Now time.Time
}

// Schema renders the full provisioning script.
func Schema(opts Options) string {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	w := &writer{}

	header(w, opts.Now)
	templatesTable(w)
	structureTables(w)
	dataTables(w)
	auditTables(w)
	helperFunctions(w)
	indexes(w)
	if opts.Seed != nil {
		seedInserts(w, opts.Seed)
		if opts.SampleEvents {
			sampleEvents(w, opts.Seed, opts.Now)
		}
	}
	footer(w)

	return w.String()
}

func header(w *writer, now time.Time) {
	w.section("Event Tracker Database Schema")
	w.linef("-- Generated: %s", now.Format("2006-01-02 15:04:05"))
	w.line("--")
	w.line("-- EAV storage with row level security and cascade deletion.")
	w.line("-- Run as the database owner; policies assume the provider's")
	w.line("-- auth.uid() function and auth.users table.")
	w.blank()
	w.line(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`)
	w.blank()
}

func templatesTable(w *writer) {
	w.section("CORE TABLES")
	w.line(`-- Templates: reusable structure configurations
CREATE TABLE IF NOT EXISTS templates (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    name TEXT NOT NULL,
    description TEXT,
    icon TEXT,
    is_public BOOLEAN DEFAULT false,
    created_by UUID REFERENCES auth.users(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE templates ENABLE ROW LEVEL SECURITY;

-- Public templates are readable by everyone, everything else is owner-only.
CREATE POLICY "Users can view public templates"
    ON templates FOR SELECT
    USING (is_public = true OR created_by = auth.uid());

CREATE POLICY "Users can create their own templates"
    ON templates FOR INSERT
    WITH CHECK (created_by = auth.uid());

CREATE POLICY "Users can update their own templates"
    ON templates FOR UPDATE
    USING (created_by = auth.uid());

CREATE POLICY "Users can delete their own templates"
    ON templates FOR DELETE
    USING (created_by = auth.uid());
`)
}

func structureTables(w *writer) {
	w.section("STRUCTURE TABLES")
	w.line(`-- Areas: top-level organization
CREATE TABLE IF NOT EXISTS areas (
    id UUID PRIMARY KEY,
    user_id UUID REFERENCES auth.users(id) ON DELETE CASCADE,
    template_id UUID REFERENCES templates(id) ON DELETE SET NULL,
    name TEXT NOT NULL,
    icon TEXT,
    color TEXT,
    sort_order INTEGER NOT NULL,
    description TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Categories: nested hierarchy within an area
CREATE TABLE IF NOT EXISTS categories (
    id UUID PRIMARY KEY,
    area_id UUID REFERENCES areas(id) ON DELETE CASCADE,
    parent_category_id UUID REFERENCES categories(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT,
    level INTEGER NOT NULL CHECK (level >= 1 AND level <= 10),
    sort_order INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`)
	w.blank()
	w.line("-- Attribute definitions: what each category can capture")
	w.line("CREATE TABLE IF NOT EXISTS attribute_definitions (")
	w.line("    id UUID PRIMARY KEY,")
	w.line("    category_id UUID REFERENCES categories(id) ON DELETE CASCADE,")
	w.line("    name TEXT NOT NULL,")
	w.linef("    data_type TEXT NOT NULL CHECK (data_type IN (%s)),", dataTypeChecks())
	w.line("    unit TEXT,")
	w.line("    is_required BOOLEAN DEFAULT false,")
	w.line("    default_value TEXT,")
	w.line("    validation_rules JSONB DEFAULT '{}'::jsonb,")
	w.line("    sort_order INTEGER NOT NULL,")
	w.line("    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),")
	w.line("    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()")
	w.line(");")
	w.blank()
	w.line("ALTER TABLE areas ENABLE ROW LEVEL SECURITY;")
	w.line("ALTER TABLE categories ENABLE ROW LEVEL SECURITY;")
	w.line("ALTER TABLE attribute_definitions ENABLE ROW LEVEL SECURITY;")
	w.blank()
	w.policies("areas", "their own areas", "user_id = auth.uid()")
	w.policies("categories", "their categories",
		"area_id IN (SELECT id FROM areas WHERE user_id = auth.uid())")
	w.policies("attribute_definitions", "their attribute definitions",
		"category_id IN (SELECT c.id FROM categories c JOIN areas a ON c.area_id = a.id WHERE a.user_id = auth.uid())")
}

func dataTables(w *writer) {
	w.section("DATA TABLES")
	w.line(`-- Events: dated entries under one category
CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES auth.users(id) ON DELETE CASCADE,
    category_id UUID REFERENCES categories(id) ON DELETE CASCADE,
    event_date DATE NOT NULL,
    comment TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    edited_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Event attributes: sparse typed values, one row per filled cell
CREATE TABLE IF NOT EXISTS event_attributes (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event_id UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    attribute_id UUID NOT NULL REFERENCES attribute_definitions(id) ON DELETE CASCADE,

    value_text TEXT,
    value_number DECIMAL,
    value_datetime TIMESTAMPTZ,
    value_boolean BOOLEAN,
    value_json JSONB,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    -- Exactly one value column per row
    CONSTRAINT single_value_check CHECK (
        (value_text IS NOT NULL)::int +
        (value_number IS NOT NULL)::int +
        (value_datetime IS NOT NULL)::int +
        (value_boolean IS NOT NULL)::int +
        (value_json IS NOT NULL)::int = 1
    ),

    -- One value per attribute per event, upserts depend on this
    CONSTRAINT event_attribute_unique UNIQUE (event_id, attribute_id)
);

-- Event attachments: images, links, files
CREATE TABLE IF NOT EXISTS event_attachments (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event_id UUID REFERENCES events(id) ON DELETE CASCADE,
    type TEXT CHECK (type IN ('image', 'link', 'file')),
    url TEXT NOT NULL,
    filename TEXT,
    size_bytes INTEGER,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE events ENABLE ROW LEVEL SECURITY;
ALTER TABLE event_attributes ENABLE ROW LEVEL SECURITY;
ALTER TABLE event_attachments ENABLE ROW LEVEL SECURITY;
`)
	w.policies("events", "their own events", "user_id = auth.uid()")
	w.policies("event_attributes", "their event attributes",
		"event_id IN (SELECT id FROM events WHERE user_id = auth.uid())")
	w.policies("event_attachments", "their event attachments",
		"event_id IN (SELECT id FROM events WHERE user_id = auth.uid())")
}

func auditTables(w *writer) {
	w.section("AUDIT TABLES")
	w.line(`-- Audit log: one row per mutation, written inside the mutation's
-- transaction. The archive table keeps the same shape; the maintenance
-- scheduler moves old rows across with INSERT .. SELECT *.
CREATE TABLE IF NOT EXISTS audit_log (
    id UUID PRIMARY KEY,
    user_id UUID REFERENCES auth.users(id) ON DELETE CASCADE,
    action TEXT NOT NULL,
    severity TEXT NOT NULL,
    summary JSONB,
    ip_address TEXT,
    user_agent TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_log_archive (LIKE audit_log INCLUDING ALL);

ALTER TABLE audit_log ENABLE ROW LEVEL SECURITY;
ALTER TABLE audit_log_archive ENABLE ROW LEVEL SECURITY;

-- The log is append-only for users; archiving runs as the service role.
CREATE POLICY "Users can view their own audit entries"
    ON audit_log FOR SELECT
    USING (user_id = auth.uid());

CREATE POLICY "Users can create their own audit entries"
    ON audit_log FOR INSERT
    WITH CHECK (user_id = auth.uid());

CREATE POLICY "Users can view their archived audit entries"
    ON audit_log_archive FOR SELECT
    USING (user_id = auth.uid());
`)
}

func helperFunctions(w *writer) {
	w.section("HELPER FUNCTIONS")
	w.linef(`-- Ownership check usable inside other definers
CREATE OR REPLACE FUNCTION user_owns_area(area_uuid UUID)
RETURNS BOOLEAN AS $$
BEGIN
    RETURN EXISTS (
        SELECT 1 FROM areas
        WHERE id = area_uuid AND user_id = auth.uid()
    );
END;
$$ LANGUAGE plpgsql SECURITY DEFINER;

-- The caller's areas in display order
CREATE OR REPLACE FUNCTION get_user_areas()
RETURNS SETOF areas AS $$
BEGIN
    RETURN QUERY
    SELECT * FROM areas WHERE user_id = auth.uid()
    ORDER BY sort_order;
END;
$$ LANGUAGE plpgsql SECURITY DEFINER;

-- Full display path of a category, area name included
CREATE OR REPLACE FUNCTION category_path(category_uuid UUID)
RETURNS TEXT AS $$
    WITH RECURSIVE chain AS (
        SELECT c.id, c.parent_category_id, c.name, c.area_id, 1 AS depth
        FROM categories c
        WHERE c.id = category_uuid
        UNION ALL
        SELECT p.id, p.parent_category_id, p.name, p.area_id, chain.depth + 1
        FROM categories p
        JOIN chain ON chain.parent_category_id = p.id
    )
    SELECT a.name || '%[1]s' || string_agg(chain.name, '%[1]s' ORDER BY chain.depth DESC)
    FROM chain
    JOIN areas a ON a.id = chain.area_id
    GROUP BY a.name
$$ LANGUAGE sql SECURITY DEFINER;

-- A category id plus all of its descendants
CREATE OR REPLACE FUNCTION category_subtree(root_uuid UUID)
RETURNS SETOF UUID AS $$
    WITH RECURSIVE tree AS (
        SELECT id FROM categories WHERE id = root_uuid
        UNION ALL
        SELECT c.id FROM categories c
        JOIN tree t ON c.parent_category_id = t.id
    )
    SELECT id FROM tree
$$ LANGUAGE sql SECURITY DEFINER;
`, core.PathSeparator)
}

func indexes(w *writer) {
	w.section("INDEXES")
	w.line(`CREATE INDEX IF NOT EXISTS idx_areas_user_id ON areas(user_id);
CREATE INDEX IF NOT EXISTS idx_areas_template_id ON areas(template_id);

CREATE INDEX IF NOT EXISTS idx_categories_area_id ON categories(area_id);
CREATE INDEX IF NOT EXISTS idx_categories_parent_id ON categories(parent_category_id);

CREATE INDEX IF NOT EXISTS idx_attr_def_category_id ON attribute_definitions(category_id);

CREATE INDEX IF NOT EXISTS idx_events_user_id ON events(user_id);
CREATE INDEX IF NOT EXISTS idx_events_category_id ON events(category_id);
CREATE INDEX IF NOT EXISTS idx_events_date ON events(event_date DESC);
CREATE INDEX IF NOT EXISTS idx_events_user_date ON events(user_id, event_date DESC);
CREATE INDEX IF NOT EXISTS idx_events_category_date ON events(category_id, event_date);

CREATE INDEX IF NOT EXISTS idx_event_attr_event_id ON event_attributes(event_id);
CREATE INDEX IF NOT EXISTS idx_event_attr_def_id ON event_attributes(attribute_id);

CREATE INDEX IF NOT EXISTS idx_event_attach_event_id ON event_attachments(event_id);

CREATE INDEX IF NOT EXISTS idx_audit_log_user_created ON audit_log(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_archive_created ON audit_log_archive(created_at);
`)
}

// seedInserts renders the snapshot as INSERT statements, parents before
// children so the self-referencing category foreign key always resolves.
func seedInserts(w *writer, snap *core.Snapshot) {
	w.section("STRUCTURE SEED")
	w.line("-- Replace auth.uid() with a concrete user UUID when running")
	w.line("-- outside an authenticated session.")
	w.blank()

	w.line("-- Areas")
	for _, a := range snap.SortedAreas() {
		w.linef("INSERT INTO areas (id, user_id, name, icon, color, sort_order, description) VALUES ('%s', auth.uid(), %s, %s, %s, %d, %s);",
			a.ID, quoteLiteral(a.Name), textOrNull(a.Icon), textOrNull(a.Color), a.SortOrder, textOrNull(a.Description))
	}
	w.blank()

	w.line("-- Categories")
	var walk func(cat *core.Category)
	walk = func(cat *core.Category) {
		parent := "NULL"
		if cat.ParentID != nil {
			parent = quoteLiteral(cat.ParentID.String())
		}
		w.linef("INSERT INTO categories (id, area_id, parent_category_id, name, description, level, sort_order) VALUES ('%s', '%s', %s, %s, %s, %d, %d);",
			cat.ID, cat.AreaID, parent, quoteLiteral(cat.Name), textOrNull(cat.Description), cat.Level, cat.SortOrder)
		for _, child := range snap.ChildCategories(cat.ID) {
			walk(child)
		}
	}
	for _, a := range snap.SortedAreas() {
		for _, cat := range snap.RootCategories(a.ID) {
			walk(cat)
		}
	}
	w.blank()

	w.line("-- Attribute definitions")
	for _, cat := range seedCategoryOrder(snap) {
		for _, ad := range snap.AttributesFor(cat.ID) {
			w.linef("INSERT INTO attribute_definitions (id, category_id, name, data_type, unit, is_required, default_value, validation_rules, sort_order) VALUES ('%s', '%s', %s, '%s', %s, %s, %s, %s::jsonb, %d);",
				ad.ID, ad.CategoryID, quoteLiteral(ad.Name), ad.DataType, textOrNull(ad.Unit),
				boolLiteral(ad.IsRequired), textOrNull(ad.DefaultValue),
				quoteLiteral(core.RulesJSON(ad.Rules)), ad.SortOrder)
		}
	}
	w.blank()
}

// seedCategoryOrder walks areas and categories in the same order
// seedInserts emits them.
func seedCategoryOrder(snap *core.Snapshot) []*core.Category {
	var out []*core.Category
	var walk func(cat *core.Category)
	walk = func(cat *core.Category) {
		out = append(out, cat)
		for _, child := range snap.ChildCategories(cat.ID) {
			walk(child)
		}
	}
	for _, a := range snap.SortedAreas() {
		for _, cat := range snap.RootCategories(a.ID) {
			walk(cat)
		}
	}
	return out
}

// sampleEvents appends a small smoke-test block for the first seeded
// category: three dated events with typed values for its first
// attributes.
func sampleEvents(w *writer, snap *core.Snapshot, now time.Time) {
	cats := seedCategoryOrder(snap)
	if len(cats) == 0 {
		return
	}
	cat := cats[0]
	attrs := snap.AttributesFor(cat.ID)
	if len(attrs) > 3 {
		attrs = attrs[:3]
	}

	w.section("SAMPLE EVENTS")
	for i := 0; i < 3; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		w.linef("-- Sample event %d", i+1)
		w.line("WITH new_event AS (")
		w.line("    INSERT INTO events (user_id, category_id, event_date, comment)")
		w.linef("    VALUES (auth.uid(), '%s', '%s', %s)",
			cat.ID, date, quoteLiteral(fmt.Sprintf("Sample event %d for %s", i+1, cat.Name)))
		w.line("    RETURNING id")
		w.line(")")

		inserted := false
		for _, ad := range attrs {
			col, val := sampleValue(ad.DataType, i)
			if col == "" {
				continue
			}
			lead := "INSERT INTO event_attributes (event_id, attribute_id, " + col + ")"
			if inserted {
				// The CTE is out of scope after its first statement.
				w.linef("INSERT INTO event_attributes (event_id, attribute_id, %s)", col)
				w.linef("SELECT e.id, '%s', %s FROM events e WHERE e.category_id = '%s' AND e.event_date = '%s' ORDER BY e.created_at DESC LIMIT 1;",
					ad.ID, val, cat.ID, date)
				continue
			}
			w.line(lead)
			w.linef("VALUES ((SELECT id FROM new_event), '%s', %s);", ad.ID, val)
			inserted = true
		}
		if !inserted {
			w.line("SELECT id FROM new_event;")
		}
		w.blank()
	}
}

// sampleValue picks a demo value for a data type; unsupported types
// are skipped.
func sampleValue(dt core.DataType, i int) (column, literal string) {
	switch dt {
	case core.TypeNumber:
		return "value_number", fmt.Sprintf("%d", (i+1)*10)
	case core.TypeText:
		return "value_text", quoteLiteral(fmt.Sprintf("Sample text %d", i+1))
	case core.TypeBoolean:
		return "value_boolean", boolLiteral(i%2 == 0)
	default:
		return "", ""
	}
}

func footer(w *writer) {
	w.section("SCHEMA CREATION COMPLETE")
	w.line(`-- Summary:
--   tables with row level security and cascade deletion
--   helper functions for paths and subtree lookups
--   performance indexes on the hot foreign keys
--
-- Next steps:
--   1. Verify the schema in the provider dashboard
--   2. Test the policies with a non-admin user
--   3. Point the server at the database and run a structure upload`)
}

func dataTypeChecks() string {
	out := ""
	for i, dt := range core.DataTypes {
		if i > 0 {
			out += ", "
		}
		out += quoteLiteral(string(dt))
	}
	return out
}
