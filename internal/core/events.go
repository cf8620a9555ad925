package core

// events.go is the typed CRUD surface over events. Raw cell text comes
// in keyed by attribute name; CoerceValue turns it into the one typed
// slot the attribute's data type wants, and required flags and numeric
// bounds are enforced before anything touches the database. Exports and
// the diff re-import share the EventSheet shape with the sheet readers.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateEvent is returned when a category already has an event on
// the same date and the caller did not allow duplicates.
var ErrDuplicateEvent = errors.New("an event already exists for this category and date")

// maxExportRows bounds how many events one export pulls.
const maxExportRows = 100000

// exportDateLayout is the Date cell format on event sheets.
const exportDateLayout = "2006-01-02"

// EventInput is the payload for creating or updating one event. Values
// maps attribute names, as they appear on sheets, to raw cell text.
type EventInput struct {
	CategoryID     uuid.UUID
	Date           time.Time
	Comment        string
	Values         map[string]string
	AllowDuplicate bool
}

type resolvedValue struct {
	attr  *AttributeDefinition
	value Value
}

// coerceEventValues turns raw cell text into typed values for the
// category's attributes and collects every problem instead of stopping
// at the first. With requireAll set, every required attribute must come
// through non-empty; without it, only explicit clears of required
// attributes are flagged, so partial updates stay partial.
func coerceEventValues(snap *Snapshot, categoryID uuid.UUID, raw map[string]string, requireAll bool) ([]resolvedValue, []string) {
	var out []resolvedValue
	var problems []string

	filled := make(map[uuid.UUID]bool, len(raw))
	for _, name := range sortedKeys(raw) {
		ad, ok := snap.AttributeByName(categoryID, name)
		if !ok {
			if strings.TrimSpace(raw[name]) == "" {
				continue
			}
			problems = append(problems, fmt.Sprintf("no attribute named %q in this category", name))
			continue
		}
		v, err := CoerceValue(ad.DataType, raw[name])
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", ad.Name, err))
			continue
		}
		if err := checkBounds(ad, v); err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if ad.IsRequired && v.IsZero() {
			problems = append(problems, fmt.Sprintf("%s is required", ad.Name))
			continue
		}
		filled[ad.ID] = true
		out = append(out, resolvedValue{attr: ad, value: v})
	}

	if requireAll {
		for _, ad := range snap.AttributesFor(categoryID) {
			if ad.IsRequired && !filled[ad.ID] {
				problems = append(problems, fmt.Sprintf("%s is required", ad.Name))
			}
		}
	}
	return out, problems
}

// checkBounds enforces the attribute's min and max rules on numbers.
func checkBounds(ad *AttributeDefinition, v Value) error {
	if v.Number == nil {
		return nil
	}
	if ad.Rules.Min != nil && *v.Number < *ad.Rules.Min {
		return fmt.Errorf("%s must be at least %s", ad.Name, FormatNumber(*ad.Rules.Min))
	}
	if ad.Rules.Max != nil && *v.Number > *ad.Rules.Max {
		return fmt.Errorf("%s must be at most %s", ad.Name, FormatNumber(*ad.Rules.Max))
	}
	return nil
}

// CreateEvent validates and stores one event with its values.
func (s *Service) CreateEvent(ctx context.Context, userID uuid.UUID, in EventInput) (*Event, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, ok := snap.CategoryByID(in.CategoryID); !ok {
		return nil, fmt.Errorf("category %s: %w", in.CategoryID, ErrNotFound)
	}

	values, problems := coerceEventValues(snap, in.CategoryID, in.Values, true)
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(problems, "; "))
	}

	if !in.AllowDuplicate {
		exists, err := s.store.ExistsEvent(ctx, userID, in.CategoryID, in.Date)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateEvent
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin event create: %w", err)
	}
	defer tx.Rollback(ctx)
	store := NewStore(tx)

	event := &Event{
		ID:         uuid.New(),
		UserID:     userID,
		CategoryID: in.CategoryID,
		EventDate:  in.Date,
		Comment:    in.Comment,
	}
	if err := store.InsertEvent(ctx, event); err != nil {
		return nil, err
	}
	for _, rv := range values {
		if rv.value.IsZero() {
			continue
		}
		if err := store.ReplaceEventValue(ctx, event.ID, rv.attr.ID, rv.value); err != nil {
			return nil, err
		}
		event.Values = append(event.Values, AttributeValue{
			EventID:     event.ID,
			AttributeID: rv.attr.ID,
			Value:       rv.value,
		})
	}

	entry := NewAuditEntry(ctx, userID, ActionEventCreate, map[string]interface{}{
		"categoryPath": snap.PathFor(in.CategoryID),
		"date":         in.Date.Format(exportDateLayout),
		"values":       len(event.Values),
	})
	if err := store.InsertAudit(ctx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit event create: %w", err)
	}
	return event, nil
}

// UpdateEvent replaces the comment and the given values of one event.
// Attributes absent from in.Values keep their stored values; a present
// name with blank text clears it.
func (s *Service) UpdateEvent(ctx context.Context, userID, eventID uuid.UUID, in EventInput) error {
	event, err := s.store.GetEvent(ctx, userID, eventID)
	if err != nil {
		return err
	}
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return err
	}

	values, problems := coerceEventValues(snap, event.CategoryID, in.Values, false)
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(problems, "; "))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin event update: %w", err)
	}
	defer tx.Rollback(ctx)
	store := NewStore(tx)

	if in.Comment != event.Comment {
		if err := store.UpdateEventComment(ctx, userID, eventID, in.Comment); err != nil {
			return err
		}
	}
	for _, rv := range values {
		if err := store.ReplaceEventValue(ctx, eventID, rv.attr.ID, rv.value); err != nil {
			return err
		}
	}
	if err := store.TouchEvent(ctx, userID, eventID); err != nil {
		return err
	}

	entry := NewAuditEntry(ctx, userID, ActionEventUpdate, map[string]interface{}{
		"eventId": eventID,
		"values":  len(values),
	})
	if err := store.InsertAudit(ctx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DeleteEvents removes events and their values.
func (s *Service) DeleteEvents(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin event delete: %w", err)
	}
	defer tx.Rollback(ctx)
	store := NewStore(tx)

	n, err := store.DeleteEvents(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	entry := NewAuditEntry(ctx, userID, ActionEventDelete, map[string]interface{}{
		"count": n,
	})
	if err := store.InsertAudit(ctx, entry); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit event delete: %w", err)
	}
	return n, nil
}

// GetEvent loads one event with its values.
func (s *Service) GetEvent(ctx context.Context, userID, id uuid.UUID) (*Event, error) {
	return s.store.GetEvent(ctx, userID, id)
}

// EventListOptions select a page of events. CategoryID of uuid.Nil
// means every category; otherwise the whole subtree is included.
type EventListOptions struct {
	CategoryID uuid.UUID
	From       *time.Time
	To         *time.Time
	Filters    FilterSet
	Sorts      []SortSpec
	Page       int
	PageSize   int
}

// ListEvents returns one filtered, sorted page with aggregations.
func (s *Service) ListEvents(ctx context.Context, userID uuid.UUID, opts EventListOptions) (*EventPage, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	q := EventQuery{
		UserID:    userID,
		From:      opts.From,
		To:        opts.To,
		Filters:   opts.Filters,
		Sorts:     opts.Sorts,
		Page:      opts.Page,
		PageSize:  opts.PageSize,
		AttrTypes: attrTypeIndex(snap),
	}
	if opts.CategoryID != uuid.Nil {
		q.CategoryIDs = snap.SubtreeIDs(opts.CategoryID)
	}
	return s.store.ListEvents(ctx, q)
}

// attrTypeIndex folds attribute names to data types for sort column
// resolution. When categories reuse a name with different types, number
// wins so sorting stays numeric.
func attrTypeIndex(snap *Snapshot) map[string]DataType {
	idx := make(map[string]DataType)
	for _, a := range snap.Attributes {
		key := foldKey(a.Name)
		if prev, ok := idx[key]; ok && prev == TypeNumber {
			continue
		}
		idx[key] = a.DataType
	}
	return idx
}

// ExportEvents assembles the full filtered event set as an EventSheet.
// Attribute columns are the union over the selected categories in
// structure order.
func (s *Service) ExportEvents(ctx context.Context, userID uuid.UUID, opts EventListOptions) (*EventSheet, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	q := EventQuery{
		UserID:    userID,
		From:      opts.From,
		To:        opts.To,
		Filters:   opts.Filters,
		Sorts:     []SortSpec{{Column: "date", Dir: "asc"}},
		Page:      1,
		PageSize:  maxExportRows,
		AttrTypes: attrTypeIndex(snap),
	}
	if opts.CategoryID != uuid.Nil {
		q.CategoryIDs = snap.SubtreeIDs(opts.CategoryID)
	}
	page, err := s.store.ListEvents(ctx, q)
	if err != nil {
		return nil, err
	}

	columns := exportColumns(snap, q.CategoryIDs)
	es := &EventSheet{AttributeColumns: columns}

	attrName := make(map[uuid.UUID]string, len(snap.Attributes))
	for _, a := range snap.Attributes {
		attrName[a.ID] = a.Name
	}

	for i, ev := range page.Events {
		row := EventRow{
			Row:          i + 2,
			EventID:      ev.ID.String(),
			CategoryPath: snap.PathFor(ev.CategoryID),
			Date:         ev.EventDate.Format(exportDateLayout),
			Comment:      ev.Comment,
			Values:       make(map[string]string, len(ev.Values)),
		}
		for _, av := range ev.Values {
			if name, ok := attrName[av.AttributeID]; ok {
				row.Values[name] = av.Value.Display()
			}
		}
		es.Rows = append(es.Rows, row)
	}
	return es, nil
}

// exportColumns returns the attribute column union in structure order,
// deduplicated by folded name.
func exportColumns(snap *Snapshot, categoryIDs []uuid.UUID) []string {
	include := make(map[uuid.UUID]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		include[id] = true
	}

	var columns []string
	seen := make(map[string]bool)
	add := func(catID uuid.UUID) {
		for _, a := range snap.AttributesFor(catID) {
			key := foldKey(a.Name)
			if !seen[key] {
				seen[key] = true
				columns = append(columns, a.Name)
			}
		}
	}

	for _, area := range snap.SortedAreas() {
		var walk func(cats []*Category)
		walk = func(cats []*Category) {
			for _, c := range cats {
				if len(include) == 0 || include[c.ID] {
					add(c.ID)
				}
				walk(snap.ChildCategories(c.ID))
			}
		}
		walk(snap.RootCategories(area.ID))
	}
	return columns
}

// EventsImportResult summarizes one diff re-import of an Events sheet.
type EventsImportResult struct {
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Problems  []string      `json:"problems,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ImportEvents applies an edited Events sheet back onto the stored
// events. Rows are matched strictly by Event_ID; changed cells upsert,
// blank cells clear the stored value, and unknown or missing IDs are
// reported without creating anything. Each row runs under a savepoint
// so one bad row cannot poison the rest.
func (s *Service) ImportEvents(ctx context.Context, userID uuid.UUID, es *EventSheet, progress ProgressCallback) (*EventsImportResult, error) {
	started := time.Now()
	result := &EventsImportResult{}

	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids, rowID := resolveSheetEventIDs(es, result)
	existing, err := s.store.EventsByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin events import: %w", err)
	}
	defer tx.Rollback(ctx)
	store := NewStore(tx)

	prog := ApplyProgress{Phase: PhaseApplying, TotalSteps: len(es.Rows)}
	notify := func() {
		if progress != nil {
			progress(prog)
		}
	}
	notify()

	for i, row := range es.Rows {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		prog.Done = i + 1

		id, ok := rowID[row.Row]
		if !ok {
			continue
		}
		event, ok := existing[id]
		if !ok {
			result.Problems = append(result.Problems, fmt.Sprintf("Row %d: Event_ID %s not found in database", row.Row, row.EventID))
			continue
		}

		savepointName := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, fmt.Sprintf("SAVEPOINT %s", savepointName)); err != nil {
			return nil, fmt.Errorf("create savepoint: %w", err)
		}

		changed, err := s.applyEventRow(ctx, store, snap, userID, event, row)
		if err != nil {
			_, _ = tx.Exec(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", savepointName))
			result.Problems = append(result.Problems, fmt.Sprintf("Row %d: %v", row.Row, err))
			continue
		}
		_, _ = tx.Exec(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", savepointName))

		if changed {
			result.Updated++
		} else {
			result.Unchanged++
		}
		prog.Applied = result.Updated
		prog.Skipped = result.Unchanged
		if i%100 == 0 {
			notify()
		}
	}

	entry := NewAuditEntry(ctx, userID, ActionEventsImport, map[string]interface{}{
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
		"problems":  len(result.Problems),
	})
	if err := store.InsertAudit(ctx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit events import: %w", err)
	}

	result.Duration = time.Since(started)
	prog.Phase = PhaseComplete
	notify()

	s.logger.Info("events import committed",
		"user", userID,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"problems", len(result.Problems),
		"duration", result.Duration)
	return result, nil
}

// resolveSheetEventIDs maps sheet rows to event IDs, reporting rows
// whose Event_ID is missing or unparseable.
func resolveSheetEventIDs(es *EventSheet, result *EventsImportResult) ([]uuid.UUID, map[int]uuid.UUID) {
	ids := make([]uuid.UUID, 0, len(es.Rows))
	rowID := make(map[int]uuid.UUID, len(es.Rows))
	for _, row := range es.Rows {
		if strings.TrimSpace(row.EventID) == "" {
			result.Problems = append(result.Problems, fmt.Sprintf("Row %d: Missing Event_ID", row.Row))
			continue
		}
		id, ok := ParseSheetUUID(row.EventID)
		if !ok || id == uuid.Nil {
			result.Problems = append(result.Problems, fmt.Sprintf("Row %d: Event_ID %s not found in database", row.Row, row.EventID))
			continue
		}
		ids = append(ids, id)
		rowID[row.Row] = id
	}
	return ids, rowID
}

// eventRowDiff is what one sheet row wants to write: changed attribute
// values plus an optional comment update.
type eventRowDiff struct {
	values     []resolvedValue
	setComment bool
}

func (d *eventRowDiff) empty() bool { return len(d.values) == 0 && !d.setComment }

// diffEventRow compares one sheet row against the stored event. Cells
// for attributes outside the event's category are ignored when blank,
// since exported sheets carry the column union across categories.
func diffEventRow(snap *Snapshot, event *Event, row EventRow) (*eventRowDiff, error) {
	current := make(map[uuid.UUID]Value, len(event.Values))
	for _, av := range event.Values {
		current[av.AttributeID] = av.Value
	}

	d := &eventRowDiff{}
	for _, name := range sortedKeys(row.Values) {
		raw := row.Values[name]
		ad, ok := snap.AttributeByName(event.CategoryID, name)
		if !ok {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			return nil, fmt.Errorf("no attribute named %q in category %q", name, snap.PathFor(event.CategoryID))
		}
		v, err := CoerceValue(ad.DataType, raw)
		if err != nil {
			return nil, err
		}
		if err := checkBounds(ad, v); err != nil {
			return nil, err
		}
		if v.Equal(current[ad.ID]) {
			continue
		}
		if ad.IsRequired && v.IsZero() {
			return nil, fmt.Errorf("%s is required", ad.Name)
		}
		d.values = append(d.values, resolvedValue{attr: ad, value: v})
	}
	if row.Comment != event.Comment {
		d.setComment = true
	}
	return d, nil
}

func (s *Service) applyEventRow(ctx context.Context, store *Store, snap *Snapshot, userID uuid.UUID, event *Event, row EventRow) (bool, error) {
	diff, err := diffEventRow(snap, event, row)
	if err != nil {
		return false, err
	}
	if diff.empty() {
		return false, nil
	}

	for _, rv := range diff.values {
		if err := store.ReplaceEventValue(ctx, event.ID, rv.attr.ID, rv.value); err != nil {
			return false, err
		}
	}
	if diff.setComment {
		if err := store.UpdateEventComment(ctx, userID, event.ID, row.Comment); err != nil {
			return false, err
		}
	}
	if err := store.TouchEvent(ctx, userID, event.ID); err != nil {
		return false, err
	}
	return true, nil
}

// PreviewEventsImport reports what ImportEvents would do with the sheet
// without writing anything.
func (s *Service) PreviewEventsImport(ctx context.Context, userID uuid.UUID, es *EventSheet) (*EventsImportResult, error) {
	started := time.Now()
	result := &EventsImportResult{}

	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids, rowID := resolveSheetEventIDs(es, result)
	existing, err := s.store.EventsByIDs(ctx, userID, ids)
	if err != nil {
		return nil, err
	}

	for i, row := range es.Rows {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		id, ok := rowID[row.Row]
		if !ok {
			continue
		}
		event, ok := existing[id]
		if !ok {
			result.Problems = append(result.Problems, fmt.Sprintf("Row %d: Event_ID %s not found in database", row.Row, row.EventID))
			continue
		}
		diff, err := diffEventRow(snap, event, row)
		if err != nil {
			result.Problems = append(result.Problems, fmt.Sprintf("Row %d: %v", row.Row, err))
			continue
		}
		if diff.empty() {
			result.Unchanged++
		} else {
			result.Updated++
		}
	}

	result.Duration = time.Since(started)
	return result, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StartEventsImport runs ImportEvents as a background job.
func (s *Service) StartEventsImport(ctx context.Context, userID uuid.UUID, es *EventSheet, fileName string) (uuid.UUID, error) {
	return s.startJob(ctx, userID, fileName, len(es.Rows), func(jobCtx context.Context, jobID uuid.UUID, progress ProgressCallback) (*ApplyResult, error) {
		res, err := s.ImportEvents(jobCtx, userID, es, progress)
		if err != nil {
			return nil, err
		}
		out := &ApplyResult{
			JobID:    jobID.String(),
			FileName: fileName,
			Applied:  res.Updated,
			Skipped:  res.Unchanged,
			Duration: res.Duration,
		}
		if len(res.Problems) > 0 {
			out.Error = strings.Join(res.Problems, "\n")
		}
		return out, nil
	})
}

// ---- Attachments ----

// ErrInvalidAttachment flags a bad attachment payload.
var ErrInvalidAttachment = errors.New("invalid attachment")

// attachmentTypes are the accepted values of an attachment's Type.
var attachmentTypes = []string{"image", "link", "file"}

// AttachmentInput is the payload for attaching an image, link, or file
// reference to an event. The URL is stored as given; nothing is
// fetched or hosted.
type AttachmentInput struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// AddAttachment validates and stores one attachment on an event the
// user owns.
func (s *Service) AddAttachment(ctx context.Context, userID, eventID uuid.UUID, in AttachmentInput) (*Attachment, error) {
	kind := strings.ToLower(strings.TrimSpace(in.Type))
	ok := false
	for _, t := range attachmentTypes {
		if kind == t {
			ok = true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: type %q must be one of: %s",
			ErrInvalidAttachment, in.Type, strings.Join(attachmentTypes, ", "))
	}
	url := strings.TrimSpace(in.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidAttachment)
	}

	a := &Attachment{
		ID:       uuid.New(),
		EventID:  eventID,
		Type:     kind,
		URL:      url,
		Filename: strings.TrimSpace(in.Filename),
	}
	if err := s.store.InsertAttachment(ctx, userID, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Attachments lists an event's attachments, oldest first. An unknown
// or foreign event lists as empty, matching what its row set shows.
func (s *Service) Attachments(ctx context.Context, userID, eventID uuid.UUID) ([]Attachment, error) {
	return s.store.ListAttachments(ctx, userID, eventID)
}

// RemoveAttachment deletes one attachment off an event the user owns.
func (s *Service) RemoveAttachment(ctx context.Context, userID, attachmentID uuid.UUID) error {
	return s.store.DeleteAttachment(ctx, userID, attachmentID)
}
