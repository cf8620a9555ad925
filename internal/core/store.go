package core

// store.go holds every SQL statement the service layer issues. Queries
// run through the DBTX interface so the same statements work on a pool
// and inside a transaction; transactional flows build a Store over the
// open pgx.Tx. Categories and attribute definitions carry no user_id of
// their own, so their statements scope through the owning area, the way
// the row-level security policies do.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a scoped lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store executes the application's SQL.
type Store struct {
	db DBTX
}

// NewStore creates a Store over a pool or transaction.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

func textOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ---- Structure reads ----

// ListAreas returns every area owned by the user.
func (st *Store) ListAreas(ctx context.Context, userID uuid.UUID) ([]Area, error) {
	rows, err := st.db.Query(ctx, `
		SELECT id, user_id, name, icon, color, sort_order, description, created_at, updated_at
		FROM areas
		WHERE user_id = $1
		ORDER BY sort_order, lower(name)`, userID)
	if err != nil {
		return nil, fmt.Errorf("query areas: %w", err)
	}
	defer rows.Close()

	var out []Area
	for rows.Next() {
		var a Area
		var icon, color, desc *string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &icon, &color, &a.SortOrder, &desc, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan area: %w", err)
		}
		a.Icon = textOf(icon)
		a.Color = textOf(color)
		a.Description = textOf(desc)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListCategories returns every category under the user's areas.
func (st *Store) ListCategories(ctx context.Context, userID uuid.UUID) ([]Category, error) {
	rows, err := st.db.Query(ctx, `
		SELECT c.id, c.area_id, c.parent_category_id, c.name, c.level, c.sort_order, c.description, c.created_at, c.updated_at
		FROM categories c
		JOIN areas a ON a.id = c.area_id
		WHERE a.user_id = $1
		ORDER BY c.level, c.sort_order, lower(c.name)`, userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		var desc *string
		if err := rows.Scan(&c.ID, &c.AreaID, &c.ParentID, &c.Name, &c.Level, &c.SortOrder, &desc, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Description = textOf(desc)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListAttributes returns every attribute definition under the user's
// categories.
func (st *Store) ListAttributes(ctx context.Context, userID uuid.UUID) ([]AttributeDefinition, error) {
	rows, err := st.db.Query(ctx, `
		SELECT ad.id, ad.category_id, ad.name, ad.data_type, ad.unit, ad.is_required, ad.default_value, ad.validation_rules, ad.sort_order, ad.description, ad.created_at
		FROM attribute_definitions ad
		JOIN categories c ON c.id = ad.category_id
		JOIN areas a ON a.id = c.area_id
		WHERE a.user_id = $1
		ORDER BY ad.sort_order, lower(ad.name)`, userID)
	if err != nil {
		return nil, fmt.Errorf("query attribute definitions: %w", err)
	}
	defer rows.Close()

	var out []AttributeDefinition
	for rows.Next() {
		var ad AttributeDefinition
		var dataType string
		var unit, def, desc *string
		var rules []byte
		if err := rows.Scan(&ad.ID, &ad.CategoryID, &ad.Name, &dataType, &unit, &ad.IsRequired, &def, &rules, &ad.SortOrder, &desc, &ad.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attribute definition: %w", err)
		}
		ad.DataType = DataType(dataType)
		ad.Unit = textOf(unit)
		ad.DefaultValue = textOf(def)
		ad.Description = textOf(desc)
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &ad.Rules); err != nil {
				return nil, fmt.Errorf("attribute %s validation_rules: %w", ad.Name, err)
			}
		}
		out = append(out, ad)
	}
	return out, rows.Err()
}

// ---- Structure writes ----

// InsertArea inserts an area with a caller-generated ID.
func (st *Store) InsertArea(ctx context.Context, a *Area) error {
	_, err := st.db.Exec(ctx, `
		INSERT INTO areas (id, user_id, name, icon, color, sort_order, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.Name, ToPgText(a.Icon), ToPgText(a.Color), a.SortOrder, ToPgText(a.Description))
	if err != nil {
		return fmt.Errorf("insert area %q: %w", a.Name, err)
	}
	return nil
}

// InsertCategory inserts a category with a caller-generated ID.
func (st *Store) InsertCategory(ctx context.Context, c *Category) error {
	_, err := st.db.Exec(ctx, `
		INSERT INTO categories (id, area_id, parent_category_id, name, level, sort_order, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.AreaID, c.ParentID, c.Name, c.Level, c.SortOrder, ToPgText(c.Description))
	if err != nil {
		return fmt.Errorf("insert category %q: %w", c.Name, err)
	}
	return nil
}

// InsertAttribute inserts an attribute definition with a caller-generated ID.
func (st *Store) InsertAttribute(ctx context.Context, ad *AttributeDefinition) error {
	_, err := st.db.Exec(ctx, `
		INSERT INTO attribute_definitions (id, category_id, name, data_type, unit, is_required, default_value, validation_rules, sort_order, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ad.ID, ad.CategoryID, ad.Name, string(ad.DataType), ToPgText(ad.Unit), ad.IsRequired,
		ToPgText(ad.DefaultValue), RulesJSON(ad.Rules), ad.SortOrder, ToPgText(ad.Description))
	if err != nil {
		return fmt.Errorf("insert attribute %q: %w", ad.Name, err)
	}
	return nil
}

// Editable columns per entity. Change-set field names double as the
// column names except where mapped here.
var (
	areaFieldColumns = map[string]string{
		"name":        "name",
		"icon":        "icon",
		"color":       "color",
		"description": "description",
		"sort_order":  "sort_order",
	}
	categoryFieldColumns = map[string]string{
		"name":        "name",
		"description": "description",
		"sort_order":  "sort_order",
	}
	attributeFieldColumns = map[string]string{
		"name":             "name",
		"data_type":        "data_type",
		"unit":             "unit",
		"is_required":      "is_required",
		"default_value":    "default_value",
		"validation_rules": "validation_rules",
		"description":      "description",
		"sort_order":       "sort_order",
	}
)

// buildFieldUpdate renders a SET list for a field-change map. Columns
// come in sorted order so statements are stable.
func buildFieldUpdate(changes map[string]FieldChange, allowed map[string]string, argStart int) (string, []interface{}, error) {
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var sets []string
	var args []interface{}
	i := argStart
	for _, f := range fields {
		col, ok := allowed[f]
		if !ok {
			return "", nil, fmt.Errorf("field %q is not editable", f)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, fieldArg(f, changes[f].New))
		i++
	}
	return strings.Join(sets, ", "), args, nil
}

// fieldArg coerces a change-set string into the column's type.
func fieldArg(field, v string) interface{} {
	switch field {
	case "sort_order":
		n, _ := strconv.Atoi(v)
		return n
	case "is_required":
		return strings.EqualFold(v, "true")
	default:
		return v
	}
}

// UpdateAreaFields applies a field-change map to one area.
func (st *Store) UpdateAreaFields(ctx context.Context, userID, id uuid.UUID, changes map[string]FieldChange) error {
	set, args, err := buildFieldUpdate(changes, areaFieldColumns, 3)
	if err != nil || set == "" {
		return err
	}
	query := fmt.Sprintf("UPDATE areas SET %s, updated_at = now() WHERE id = $1 AND user_id = $2", set)
	tag, err := st.db.Exec(ctx, query, append([]interface{}{id, userID}, args...)...)
	if err != nil {
		return fmt.Errorf("update area: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCategoryFields applies a field-change map to one category.
func (st *Store) UpdateCategoryFields(ctx context.Context, userID, id uuid.UUID, changes map[string]FieldChange) error {
	set, args, err := buildFieldUpdate(changes, categoryFieldColumns, 3)
	if err != nil || set == "" {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE categories SET %s, updated_at = now()
		WHERE id = $1 AND area_id IN (SELECT id FROM areas WHERE user_id = $2)`, set)
	tag, err := st.db.Exec(ctx, query, append([]interface{}{id, userID}, args...)...)
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAttributeFields applies a field-change map to one attribute
// definition.
func (st *Store) UpdateAttributeFields(ctx context.Context, userID, id uuid.UUID, changes map[string]FieldChange) error {
	set, args, err := buildFieldUpdate(changes, attributeFieldColumns, 3)
	if err != nil || set == "" {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE attribute_definitions SET %s
		WHERE id = $1 AND category_id IN (
			SELECT c.id FROM categories c JOIN areas a ON a.id = c.area_id WHERE a.user_id = $2)`, set)
	tag, err := st.db.Exec(ctx, query, append([]interface{}{id, userID}, args...)...)
	if err != nil {
		return fmt.Errorf("update attribute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAreas removes areas by ID. Categories, attributes, and events
// underneath go with them through the cascading foreign keys.
func (st *Store) DeleteAreas(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := st.db.Exec(ctx, `DELETE FROM areas WHERE id = ANY($1) AND user_id = $2`, ids, userID)
	if err != nil {
		return 0, fmt.Errorf("delete areas: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCategories removes categories by ID, cascading to children.
func (st *Store) DeleteCategories(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := st.db.Exec(ctx, `
		DELETE FROM categories
		WHERE id = ANY($1) AND area_id IN (SELECT id FROM areas WHERE user_id = $2)`, ids, userID)
	if err != nil {
		return 0, fmt.Errorf("delete categories: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAttributes removes attribute definitions by ID.
func (st *Store) DeleteAttributes(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := st.db.Exec(ctx, `
		DELETE FROM attribute_definitions
		WHERE id = ANY($1) AND category_id IN (
			SELECT c.id FROM categories c JOIN areas a ON a.id = c.area_id WHERE a.user_id = $2)`, ids, userID)
	if err != nil {
		return 0, fmt.Errorf("delete attributes: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---- Affected-event counts for delete previews ----

// EventCountsByArea returns per-area event counts for the given areas.
func (st *Store) EventCountsByArea(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	return st.countGrouped(ctx, `
		SELECT c.area_id, COUNT(*) FROM events e
		JOIN categories c ON c.id = e.category_id
		WHERE e.user_id = $1 AND c.area_id = ANY($2)
		GROUP BY c.area_id`, userID, ids)
}

// EventCountsByCategory returns per-category event counts. Callers pass
// subtree ID sets and fold them when a cascade spans children.
func (st *Store) EventCountsByCategory(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	return st.countGrouped(ctx, `
		SELECT category_id, COUNT(*) FROM events
		WHERE user_id = $1 AND category_id = ANY($2)
		GROUP BY category_id`, userID, ids)
}

// EventCountsByAttribute returns, per attribute definition, how many
// events carry a value for it.
func (st *Store) EventCountsByAttribute(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	return st.countGrouped(ctx, `
		SELECT ea.attribute_id, COUNT(DISTINCT ea.event_id) FROM event_attributes ea
		JOIN events e ON e.id = ea.event_id
		WHERE e.user_id = $1 AND ea.attribute_id = ANY($2)
		GROUP BY ea.attribute_id`, userID, ids)
}

func (st *Store) countGrouped(ctx context.Context, query string, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := st.db.Query(ctx, query, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("count affected events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan affected count: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// ---- Events ----

const eventColumns = "id, user_id, category_id, event_date, comment, created_at, edited_at"

func scanEvent(rows pgx.Rows) (Event, error) {
	var e Event
	var comment *string
	err := rows.Scan(&e.ID, &e.UserID, &e.CategoryID, &e.EventDate, &comment, &e.CreatedAt, &e.EditedAt)
	e.Comment = textOf(comment)
	return e, err
}

// InsertEvent inserts an event with a caller-generated ID.
func (st *Store) InsertEvent(ctx context.Context, e *Event) error {
	_, err := st.db.Exec(ctx, `
		INSERT INTO events (id, user_id, category_id, event_date, comment)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.UserID, e.CategoryID, e.EventDate, ToPgText(e.Comment))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateEventComment sets the comment and bumps edited_at.
func (st *Store) UpdateEventComment(ctx context.Context, userID, id uuid.UUID, comment string) error {
	tag, err := st.db.Exec(ctx, `
		UPDATE events SET comment = $3, edited_at = now() WHERE id = $1 AND user_id = $2`,
		id, userID, ToPgText(comment))
	if err != nil {
		return fmt.Errorf("update event comment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchEvent bumps edited_at after a value change.
func (st *Store) TouchEvent(ctx context.Context, userID, id uuid.UUID) error {
	_, err := st.db.Exec(ctx, `
		UPDATE events SET edited_at = now() WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("touch event: %w", err)
	}
	return nil
}

// DeleteEvents removes events by ID, cascading to their values and
// attachments.
func (st *Store) DeleteEvents(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := st.db.Exec(ctx, `DELETE FROM events WHERE id = ANY($1) AND user_id = $2`, ids, userID)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExistsEvent reports whether the user already has an event in the
// category on the given date. Used for duplicate detection.
func (st *Store) ExistsEvent(ctx context.Context, userID, categoryID uuid.UUID, date time.Time) (bool, error) {
	var exists bool
	err := st.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM events WHERE user_id = $1 AND category_id = $2 AND event_date = $3)`,
		userID, categoryID, date).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate event: %w", err)
	}
	return exists, nil
}

// GetEvent loads one event with its attribute values.
func (st *Store) GetEvent(ctx context.Context, userID, id uuid.UUID) (*Event, error) {
	var e Event
	var comment *string
	err := st.db.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = $1 AND user_id = $2", id, userID).
		Scan(&e.ID, &e.UserID, &e.CategoryID, &e.EventDate, &comment, &e.CreatedAt, &e.EditedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	e.Comment = textOf(comment)

	values, err := st.ListEventValues(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	e.Values = values[id]
	return &e, nil
}

// EventsByIDs loads the given events with their values, keyed by ID.
// Unknown IDs are simply absent from the result.
func (st *Store) EventsByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]*Event, error) {
	out := make(map[uuid.UUID]*Event, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := st.db.Query(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ANY($1) AND user_id = $2", ids, userID)
	if err != nil {
		return nil, fmt.Errorf("query events by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out[e.ID] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	found := make([]uuid.UUID, 0, len(out))
	for id := range out {
		found = append(found, id)
	}
	values, err := st.ListEventValues(ctx, found)
	if err != nil {
		return nil, err
	}
	for id, vals := range values {
		out[id].Values = vals
	}
	return out, nil
}

// ListEventValues loads event_attributes rows for the given events,
// grouped by event.
func (st *Store) ListEventValues(ctx context.Context, eventIDs []uuid.UUID) (map[uuid.UUID][]AttributeValue, error) {
	out := make(map[uuid.UUID][]AttributeValue)
	if len(eventIDs) == 0 {
		return out, nil
	}
	rows, err := st.db.Query(ctx, `
		SELECT id, event_id, attribute_id, value_text, value_number, value_datetime, value_boolean, value_json
		FROM event_attributes
		WHERE event_id = ANY($1)`, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("query event values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var av AttributeValue
		var jsonVal []byte
		if err := rows.Scan(&av.ID, &av.EventID, &av.AttributeID,
			&av.Value.Text, &av.Value.Number, &av.Value.DateTime, &av.Value.Bool, &jsonVal); err != nil {
			return nil, fmt.Errorf("scan event value: %w", err)
		}
		if len(jsonVal) > 0 {
			av.Value.JSON = json.RawMessage(jsonVal)
		}
		out[av.EventID] = append(out[av.EventID], av)
	}
	return out, rows.Err()
}

// ReplaceEventValue upserts one typed value for (event, attribute).
// An empty value deletes the row instead, so clearing a cell on
// re-import removes the stored value.
func (st *Store) ReplaceEventValue(ctx context.Context, eventID, attributeID uuid.UUID, v Value) error {
	if v.IsZero() {
		_, err := st.db.Exec(ctx, `
			DELETE FROM event_attributes WHERE event_id = $1 AND attribute_id = $2`, eventID, attributeID)
		if err != nil {
			return fmt.Errorf("clear event value: %w", err)
		}
		return nil
	}

	var jsonVal []byte
	if len(v.JSON) > 0 {
		jsonVal = []byte(v.JSON)
	}
	_, err := st.db.Exec(ctx, `
		INSERT INTO event_attributes (id, event_id, attribute_id, value_text, value_number, value_datetime, value_boolean, value_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id, attribute_id) DO UPDATE SET
			value_text = EXCLUDED.value_text,
			value_number = EXCLUDED.value_number,
			value_datetime = EXCLUDED.value_datetime,
			value_boolean = EXCLUDED.value_boolean,
			value_json = EXCLUDED.value_json`,
		uuid.New(), eventID, attributeID, v.Text, ToPgFloat8(v.Number), ToPgTimestamp(v.DateTime), ToPgBool(v.Bool), jsonVal)
	if err != nil {
		return fmt.Errorf("upsert event value: %w", err)
	}
	return nil
}

// ---- Event listing ----

// EventQuery describes one page of the event list. CategoryIDs arrive
// subtree-expanded; AttrTypes maps folded attribute names to their data
// types so attribute sorts pick the right value column.
type EventQuery struct {
	UserID      uuid.UUID
	CategoryIDs []uuid.UUID
	From        *time.Time
	To          *time.Time
	Filters     FilterSet
	Sorts       []SortSpec
	Page        int
	PageSize    int
	AttrTypes   map[string]DataType
}

// EventPage is one page of events with totals and aggregations.
type EventPage struct {
	Events       []Event      `json:"events"`
	TotalRows    int64        `json:"totalRows"`
	Page         int          `json:"page"`
	PageSize     int          `json:"pageSize"`
	TotalPages   int          `json:"totalPages"`
	Sorts        []SortSpec   `json:"sorts,omitempty"`
	Aggregations Aggregations `json:"aggregations,omitempty"`
}

// eventValueColumn picks the event_attributes column for a data type.
func eventValueColumn(dt DataType) string {
	switch dt {
	case TypeNumber:
		return "value_number"
	case TypeDateTime:
		return "value_datetime"
	case TypeBoolean:
		return "value_boolean"
	default:
		return "value_text"
	}
}

// buildEventFilter renders one filter condition. Attribute filters go
// through an EXISTS over event_attributes.
func buildEventFilter(f AttributeFilter, argIdx int) (string, []interface{}, int) {
	operand := map[FilterOperator]string{
		OpEquals:    "= $%d",
		OpGreaterEq: ">= $%d",
		OpLessEq:    "<= $%d",
		OpGreater:   "> $%d",
		OpLess:      "< $%d",
	}

	var col string
	switch strings.ToLower(f.Column) {
	case "date":
		col = "e.event_date"
	case "comment":
		col = "e.comment"
	default:
		return buildAttributeFilter(f, argIdx)
	}

	switch f.Operator {
	case OpContains:
		return fmt.Sprintf("%s ILIKE $%d", col, argIdx), []interface{}{"%" + f.Value + "%"}, argIdx + 1
	case OpStartsWith:
		return fmt.Sprintf("%s ILIKE $%d", col, argIdx), []interface{}{f.Value + "%"}, argIdx + 1
	case OpEndsWith:
		return fmt.Sprintf("%s ILIKE $%d", col, argIdx), []interface{}{"%" + f.Value}, argIdx + 1
	default:
		op, ok := operand[f.Operator]
		if !ok {
			return "", nil, argIdx
		}
		return fmt.Sprintf("%s %s", col, fmt.Sprintf(op, argIdx)), []interface{}{f.Value}, argIdx + 1
	}
}

func buildAttributeFilter(f AttributeFilter, argIdx int) (string, []interface{}, int) {
	valCol := "ea." + eventValueColumn(f.Type)

	var cmp string
	args := []interface{}{f.Column}
	switch f.Operator {
	case OpContains:
		cmp = fmt.Sprintf("%s ILIKE $%d", valCol, argIdx+1)
		args = append(args, "%"+f.Value+"%")
	case OpStartsWith:
		cmp = fmt.Sprintf("%s ILIKE $%d", valCol, argIdx+1)
		args = append(args, f.Value+"%")
	case OpEndsWith:
		cmp = fmt.Sprintf("%s ILIKE $%d", valCol, argIdx+1)
		args = append(args, "%"+f.Value)
	case OpEquals:
		cmp = fmt.Sprintf("%s = $%d", valCol, argIdx+1)
		args = append(args, f.Value)
	case OpGreaterEq:
		cmp = fmt.Sprintf("%s >= $%d", valCol, argIdx+1)
		args = append(args, f.Value)
	case OpLessEq:
		cmp = fmt.Sprintf("%s <= $%d", valCol, argIdx+1)
		args = append(args, f.Value)
	case OpGreater:
		cmp = fmt.Sprintf("%s > $%d", valCol, argIdx+1)
		args = append(args, f.Value)
	case OpLess:
		cmp = fmt.Sprintf("%s < $%d", valCol, argIdx+1)
		args = append(args, f.Value)
	case OpIn:
		values := strings.Split(f.Value, ",")
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = fmt.Sprintf("$%d", argIdx+1+i)
			args = append(args, strings.TrimSpace(v))
		}
		cmp = fmt.Sprintf("%s IN (%s)", valCol, strings.Join(placeholders, ", "))
	default:
		return "", nil, argIdx
	}

	cond := fmt.Sprintf(`EXISTS (
		SELECT 1 FROM event_attributes ea
		JOIN attribute_definitions ad ON ad.id = ea.attribute_id
		WHERE ea.event_id = e.id AND lower(ad.name) = lower($%d) AND %s)`, argIdx, cmp)
	return cond, args, argIdx + len(args)
}

// ListEvents returns one filtered, sorted page of events with their
// values, plus numeric aggregations over the whole filtered set.
func (st *Store) ListEvents(ctx context.Context, q EventQuery) (*EventPage, error) {
	conds := []string{"e.user_id = $1"}
	args := []interface{}{q.UserID}
	idx := 2

	if len(q.CategoryIDs) > 0 {
		conds = append(conds, fmt.Sprintf("e.category_id = ANY($%d)", idx))
		args = append(args, q.CategoryIDs)
		idx++
	}
	if q.From != nil {
		conds = append(conds, fmt.Sprintf("e.event_date >= $%d", idx))
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		conds = append(conds, fmt.Sprintf("e.event_date <= $%d", idx))
		args = append(args, *q.To)
		idx++
	}
	for _, f := range q.Filters.Filters {
		cond, fargs, next := buildEventFilter(f, idx)
		if cond == "" {
			continue
		}
		conds = append(conds, cond)
		args = append(args, fargs...)
		idx = next
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var totalRows int64
	if err := st.db.QueryRow(ctx, "SELECT COUNT(*) FROM events e"+where, args...).Scan(&totalRows); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	page, pageSize := q.Page, q.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	if page < 1 {
		page = 1
	}
	totalPages := int((totalRows + int64(pageSize) - 1) / int64(pageSize))
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	offset := (page - 1) * pageSize

	orderParts, validSorts, args, idx := buildEventOrder(q, args, idx)

	query := fmt.Sprintf("SELECT %s FROM events e%s ORDER BY %s LIMIT $%d OFFSET $%d",
		eventSelectColumns, where, strings.Join(orderParts, ", "), idx, idx+1)
	args = append(args, pageSize, offset)

	rows, err := st.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	var ids []uuid.UUID
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	values, err := st.ListEventValues(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Values = values[events[i].ID]
	}

	aggs, err := st.eventAggregations(ctx, where, args[:len(args)-2])
	if err != nil {
		return nil, err
	}

	return &EventPage{
		Events:       events,
		TotalRows:    totalRows,
		Page:         page,
		PageSize:     pageSize,
		TotalPages:   totalPages,
		Sorts:        validSorts,
		Aggregations: aggs,
	}, nil
}

const eventSelectColumns = "e.id, e.user_id, e.category_id, e.event_date, e.comment, e.created_at, e.edited_at"

// buildEventOrder renders the ORDER BY parts, at most two levels, date
// descending by default. Attribute sorts go through a scalar subquery
// on the attribute's value column.
func buildEventOrder(q EventQuery, args []interface{}, idx int) ([]string, []SortSpec, []interface{}, int) {
	var orderParts []string
	var validSorts []SortSpec

	for _, s := range q.Sorts {
		if s.Column == "" {
			continue
		}
		dir := strings.ToLower(s.Dir)
		if dir != "asc" && dir != "desc" {
			dir = "asc"
		}
		switch strings.ToLower(s.Column) {
		case "date":
			orderParts = append(orderParts, "e.event_date "+dir)
		case "comment":
			orderParts = append(orderParts, "e.comment "+dir)
		case "created":
			orderParts = append(orderParts, "e.created_at "+dir)
		default:
			dt, ok := q.AttrTypes[strings.ToLower(strings.TrimSpace(s.Column))]
			if !ok {
				continue
			}
			sub := fmt.Sprintf(`(
				SELECT ea.%s FROM event_attributes ea
				JOIN attribute_definitions ad ON ad.id = ea.attribute_id
				WHERE ea.event_id = e.id AND lower(ad.name) = lower($%d)
				LIMIT 1)`, eventValueColumn(dt), idx)
			args = append(args, s.Column)
			idx++
			orderParts = append(orderParts, fmt.Sprintf("%s %s NULLS LAST", sub, dir))
		}
		validSorts = append(validSorts, SortSpec{Column: s.Column, Dir: dir})
		if len(validSorts) >= 2 {
			break
		}
	}

	if len(orderParts) == 0 {
		orderParts = append(orderParts, "e.event_date desc", "e.created_at desc")
		validSorts = append(validSorts, SortSpec{Column: "date", Dir: "desc"})
	}
	return orderParts, validSorts, args, idx
}

// eventAggregations computes per-attribute numeric aggregations over
// the same filtered set as the event list.
func (st *Store) eventAggregations(ctx context.Context, where string, args []interface{}) (Aggregations, error) {
	query := fmt.Sprintf(`
		SELECT ad.name,
			SUM(ea.value_number), AVG(ea.value_number), MIN(ea.value_number), MAX(ea.value_number),
			COUNT(ea.value_number)
		FROM event_attributes ea
		JOIN attribute_definitions ad ON ad.id = ea.attribute_id
		JOIN events e ON e.id = ea.event_id
		%s AND ea.value_number IS NOT NULL
		GROUP BY ad.name`, where)

	rows, err := st.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query aggregations: %w", err)
	}
	defer rows.Close()

	aggs := make(Aggregations)
	for rows.Next() {
		agg := &ColumnAggregation{}
		if err := rows.Scan(&agg.Column, &agg.Sum, &agg.Avg, &agg.Min, &agg.Max, &agg.Count); err != nil {
			return nil, fmt.Errorf("scan aggregation: %w", err)
		}
		aggs[agg.Column] = agg
	}
	return aggs, rows.Err()
}

// ---- Attachments ----

// InsertAttachment records a file, image, or link on an event. The
// guarded insert matches no row when the event is missing or owned by
// someone else.
func (st *Store) InsertAttachment(ctx context.Context, userID uuid.UUID, a *Attachment) error {
	err := st.db.QueryRow(ctx, `
		INSERT INTO event_attachments (id, event_id, type, url, filename)
		SELECT $1, $2, $3, $4, $5
		WHERE EXISTS (SELECT 1 FROM events WHERE id = $2 AND user_id = $6)
		RETURNING created_at`,
		a.ID, a.EventID, a.Type, a.URL, ToPgText(a.Filename), userID).Scan(&a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("event %s: %w", a.EventID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// ListAttachments returns the attachments for one event.
func (st *Store) ListAttachments(ctx context.Context, userID, eventID uuid.UUID) ([]Attachment, error) {
	rows, err := st.db.Query(ctx, `
		SELECT at.id, at.event_id, at.type, at.url, at.filename, at.created_at
		FROM event_attachments at
		JOIN events e ON e.id = at.event_id
		WHERE at.event_id = $1 AND e.user_id = $2
		ORDER BY at.created_at`, eventID, userID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var filename *string
		if err := rows.Scan(&a.ID, &a.EventID, &a.Type, &a.URL, &filename, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		a.Filename = textOf(filename)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAttachment removes one attachment.
func (st *Store) DeleteAttachment(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := st.db.Exec(ctx, `
		DELETE FROM event_attachments
		WHERE id = $1 AND event_id IN (SELECT id FROM events WHERE user_id = $2)`, id, userID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- Audit log ----

// InsertAudit appends one audit entry.
func (st *Store) InsertAudit(ctx context.Context, e *AuditEntry) error {
	var summary []byte
	if len(e.Summary) > 0 {
		summary = []byte(e.Summary)
	}
	_, err := st.db.Exec(ctx, `
		INSERT INTO audit_log (id, user_id, action, severity, summary, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, string(e.Action), string(e.Severity), summary,
		ToPgText(e.IPAddress), ToPgText(e.UserAgent))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ArchiveOldAudit moves entries older than the retention window into
// audit_log_archive, at most batch rows per call.
func (st *Store) ArchiveOldAudit(ctx context.Context, days, batch int) (int64, error) {
	tag, err := st.db.Exec(ctx, `
		WITH moved AS (
			DELETE FROM audit_log
			WHERE id IN (
				SELECT id FROM audit_log
				WHERE created_at < now() - make_interval(days => $1)
				ORDER BY created_at
				LIMIT $2)
			RETURNING *
		)
		INSERT INTO audit_log_archive SELECT * FROM moved`, days, batch)
	if err != nil {
		return 0, fmt.Errorf("archive audit log: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeAuditArchive deletes archived entries past the long retention.
func (st *Store) PurgeAuditArchive(ctx context.Context, years int) (int64, error) {
	tag, err := st.db.Exec(ctx, `
		DELETE FROM audit_log_archive WHERE created_at < now() - make_interval(years => $1)`, years)
	if err != nil {
		return 0, fmt.Errorf("purge audit archive: %w", err)
	}
	return tag.RowsAffected(), nil
}
