package core

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"taxotrack/internal/reconcile"
)

// renameTable accumulates the identity decisions already made in a
// reconcile pass. A renamed ancestor changes the sheet path of every
// descendant, so later stages translate new-side names and paths back
// into database terms before matching.
type renameTable struct {
	areas map[string]string // folded new area name -> old area name
	cats  map[string]string // folded new category path -> old category path
}

func newRenameTable() *renameTable {
	return &renameTable{
		areas: make(map[string]string),
		cats:  make(map[string]string),
	}
}

// oldAreaName translates a sheet area name into its database name.
func (t *renameTable) oldAreaName(name string) string {
	if old, ok := t.areas[foldKey(name)]; ok {
		return old
	}
	return name
}

// oldPath translates a sheet path into database terms by substituting
// the longest already-matched category prefix, falling back to the
// area name alone.
func (t *renameTable) oldPath(path string) string {
	if old, ok := t.cats[foldKey(path)]; ok {
		return old
	}
	parts := SplitPath(path)
	for i := len(parts) - 1; i >= 2; i-- {
		prefix := strings.Join(parts[:i], PathSeparator)
		if old, ok := t.cats[foldKey(prefix)]; ok {
			return old + PathSeparator + strings.Join(parts[i:], PathSeparator)
		}
	}
	if len(parts) > 1 {
		parts[0] = t.oldAreaName(parts[0])
		return strings.Join(parts, PathSeparator)
	}
	return path
}

// reconcileRemovals decides what a full-replace upload removes. The
// matcher pairs unlisted database objects against the sheet's pending
// inserts so renames survive as updates; whatever stays unpaired on the
// old side becomes a pending delete. Areas go first and categories
// level by level, feeding the rename table that lets descendants of a
// renamed ancestor line up despite their changed paths.
func reconcileRemovals(cs *ChangeSet, snap *Snapshot, seen *seenSet) {
	det := reconcile.NewDetector()
	table := newRenameTable()

	goneAreas := reconcileAreas(cs, snap, seen, det, table)
	goneCats := reconcileCategories(cs, snap, seen, det, table, goneAreas)
	reconcileAttributes(cs, snap, seen, det, table, goneCats)
}

// reconcileAreas matches unlisted areas against pending area inserts
// and returns the ids of areas now pending delete.
func reconcileAreas(cs *ChangeSet, snap *Snapshot, seen *seenSet, det *reconcile.Detector, table *renameTable) map[uuid.UUID]bool {
	var oldNodes []*reconcile.Node
	for _, a := range snap.SortedAreas() {
		if !seen.areas[a.ID] {
			oldNodes = append(oldNodes, areaNode(a))
		}
	}
	newNodes := make([]*reconcile.Node, 0, len(cs.NewAreas))
	for i := range cs.NewAreas {
		newNodes = append(newNodes, newAreaNode(&cs.NewAreas[i]))
	}

	res := det.Match(oldNodes, newNodes)

	consumed := make(map[int]bool, len(res.Matches))
	for _, m := range res.Matches {
		if m.Kind == reconcile.MatchRename {
			table.areas[foldKey(m.New.Name)] = m.Old.Name
		}
		applyMatch(cs, m)
		consumed[m.New.Row] = true

		// Pending categories under this area were parsed before the
		// rename was known; bind them to the existing area.
		for i := range cs.NewCategories {
			c := &cs.NewCategories[i]
			if c.AreaID == uuid.Nil && strings.EqualFold(c.AreaName, m.New.Name) {
				c.AreaID = m.Old.ID
			}
		}
	}

	kept := cs.NewAreas[:0]
	for _, c := range cs.NewAreas {
		if !consumed[c.Row] {
			kept = append(kept, c)
		}
	}
	cs.NewAreas = kept

	gone := make(map[uuid.UUID]bool, len(res.RemovedOld))
	for _, n := range res.RemovedOld {
		gone[n.ID] = true
		cs.DeletedAreas = append(cs.DeletedAreas, EntityDelete{ID: n.ID, Name: n.Name, Path: n.Path})
	}
	return gone
}

// reconcileCategories matches unlisted categories against pending
// category inserts one level at a time, parents before children, so
// each level's decisions feed the rename table before the next level
// is compared. Returns the ids of categories now pending delete,
// including those going away with a deleted parent or area.
func reconcileCategories(cs *ChangeSet, snap *Snapshot, seen *seenSet, det *reconcile.Detector, table *renameTable, goneAreas map[uuid.UUID]bool) map[uuid.UUID]bool {
	gone := make(map[uuid.UUID]bool)

	for level := 1; level <= MaxCategoryLevel; level++ {
		var oldNodes []*reconcile.Node
		for i := range snap.Categories {
			c := &snap.Categories[i]
			if c.Level != level || seen.cats[c.ID] {
				continue
			}
			// Children of a pending delete cascade with it and are
			// never delete candidates of their own.
			if goneAreas[c.AreaID] || (c.ParentID != nil && gone[*c.ParentID]) {
				gone[c.ID] = true
				continue
			}
			oldNodes = append(oldNodes, catNode(snap, c))
		}

		var newNodes []*reconcile.Node
		for i := range cs.NewCategories {
			if c := &cs.NewCategories[i]; c.Level == level {
				newNodes = append(newNodes, newCatNode(table, c))
			}
		}
		if len(oldNodes) == 0 && len(newNodes) == 0 {
			continue
		}

		res := det.Match(oldNodes, newNodes)

		consumed := make(map[int]bool, len(res.Matches))
		for _, m := range res.Matches {
			// Every pairing goes in the table: descendants of a renamed
			// ancestor carry changed paths even when their own name is
			// untouched.
			table.cats[foldKey(m.New.Path)] = m.Old.Path
			applyMatch(cs, m)
			consumed[m.New.Row] = true
			rebindChildren(cs, m.New.Path, m.Old.ID)
		}

		kept := cs.NewCategories[:0]
		for _, c := range cs.NewCategories {
			if !consumed[c.Row] {
				kept = append(kept, c)
			}
		}
		cs.NewCategories = kept

		for _, n := range res.RemovedOld {
			gone[n.ID] = true
			cs.DeletedCategories = append(cs.DeletedCategories, EntityDelete{ID: n.ID, Name: n.Name, Path: n.Path})
		}
	}
	return gone
}

// reconcileAttributes matches unlisted attribute definitions against
// pending attribute inserts. Attributes of a category pending delete
// cascade with it.
func reconcileAttributes(cs *ChangeSet, snap *Snapshot, seen *seenSet, det *reconcile.Detector, table *renameTable, goneCats map[uuid.UUID]bool) {
	var oldNodes []*reconcile.Node
	for i := range snap.Attributes {
		a := &snap.Attributes[i]
		if seen.attrs[a.ID] || goneCats[a.CategoryID] {
			continue
		}
		oldNodes = append(oldNodes, attrNode(snap, a))
	}
	newNodes := make([]*reconcile.Node, 0, len(cs.NewAttributes))
	for i := range cs.NewAttributes {
		newNodes = append(newNodes, newAttrNode(table, &cs.NewAttributes[i]))
	}

	res := det.Match(oldNodes, newNodes)

	consumed := make(map[int]bool, len(res.Matches))
	for _, m := range res.Matches {
		applyMatch(cs, m)
		consumed[m.New.Row] = true
	}

	kept := cs.NewAttributes[:0]
	for _, c := range cs.NewAttributes {
		if !consumed[c.Row] {
			kept = append(kept, c)
		}
	}
	cs.NewAttributes = kept

	for _, n := range res.RemovedOld {
		cs.DeletedAttributes = append(cs.DeletedAttributes, EntityDelete{ID: n.ID, Name: n.Name, Path: n.Path})
	}
}

// applyMatch turns one matcher pairing into an update of the existing
// object. Pairings that change nothing emit no update; renames are
// recorded for the preview either way.
func applyMatch(cs *ChangeSet, m reconcile.Match) {
	changes := make(map[string]FieldChange, len(m.Old.Fields)+1)
	for k, d := range m.FieldChanges() {
		changes[k] = FieldChange{Old: d.Old, New: d.New}
	}
	if m.Old.Name != m.New.Name {
		changes["name"] = FieldChange{Old: m.Old.Name, New: m.New.Name}
	}
	if m.Kind == reconcile.MatchRename {
		cs.Renames = append(cs.Renames, RenameDecision{
			Kind:       string(m.Old.Kind),
			ID:         m.Old.ID,
			OldName:    m.Old.Name,
			NewName:    m.New.Name,
			Confidence: m.Confidence,
		})
	}
	if len(changes) == 0 {
		return
	}

	u := EntityUpdate{ID: m.Old.ID, Name: m.New.Name, Changes: changes}
	switch m.Old.Kind {
	case reconcile.KindArea:
		cs.UpdatedAreas = append(cs.UpdatedAreas, u)
	case reconcile.KindCategory:
		cs.UpdatedCategories = append(cs.UpdatedCategories, u)
	case reconcile.KindAttribute:
		cs.UpdatedAttributes = append(cs.UpdatedAttributes, u)
	}
}

// rebindChildren repoints pending inserts that referenced a new parent
// path at the existing object the path turned out to be.
func rebindChildren(cs *ChangeSet, newPath string, oldID uuid.UUID) {
	key := foldKey(newPath)
	for i := range cs.NewCategories {
		c := &cs.NewCategories[i]
		if c.ParentPath != "" && foldKey(c.ParentPath) == key {
			id := oldID
			c.ParentID = &id
			c.ParentPath = ""
		}
	}
	for i := range cs.NewAttributes {
		a := &cs.NewAttributes[i]
		if a.CategoryID == uuid.Nil && foldKey(a.CategoryPath) == key {
			a.CategoryID = oldID
		}
	}
}

// ---- Node builders ----

func areaNode(a *Area) *reconcile.Node {
	return &reconcile.Node{
		ID:   a.ID,
		Name: a.Name,
		Kind: reconcile.KindArea,
		Fields: map[string]string{
			"description": a.Description,
			"sort_order":  strconv.Itoa(a.SortOrder),
		},
		Path: a.Name,
	}
}

func newAreaNode(c *NewAreaChange) *reconcile.Node {
	return &reconcile.Node{
		Row:  c.Row,
		Name: c.Name,
		Kind: reconcile.KindArea,
		Fields: map[string]string{
			"description": c.Description,
			"sort_order":  strconv.Itoa(c.SortOrder),
		},
		Path: c.Name,
	}
}

func catNode(snap *Snapshot, c *Category) *reconcile.Node {
	parent := ""
	if c.ParentID != nil {
		if p, ok := snap.CategoryByID(*c.ParentID); ok {
			parent = p.Name
		}
	}
	area := ""
	if a, ok := snap.AreaByID(c.AreaID); ok {
		area = a.Name
	}
	return &reconcile.Node{
		ID:     c.ID,
		Name:   c.Name,
		Kind:   reconcile.KindCategory,
		Parent: parent,
		Area:   area,
		Level:  c.Level,
		Fields: map[string]string{
			"description": c.Description,
			"sort_order":  strconv.Itoa(c.SortOrder),
		},
		Path: snap.PathFor(c.ID),
	}
}

// newCatNode builds the new-side node for a pending category insert.
// Parent and area names come from the translated path; Path keeps the
// sheet spelling because consumption and rebinding key off it.
func newCatNode(table *renameTable, c *NewCategoryChange) *reconcile.Node {
	parts := SplitPath(table.oldPath(c.Path))
	parent := ""
	if len(parts) > 2 {
		parent = parts[len(parts)-2]
	}
	area := c.AreaName
	if len(parts) > 0 {
		area = parts[0]
	}
	return &reconcile.Node{
		Row:    c.Row,
		Name:   c.Name,
		Kind:   reconcile.KindCategory,
		Parent: parent,
		Area:   area,
		Level:  c.Level,
		Fields: map[string]string{
			"description": c.Description,
			"sort_order":  strconv.Itoa(c.SortOrder),
		},
		Path: c.Path,
	}
}

func attrNode(snap *Snapshot, a *AttributeDefinition) *reconcile.Node {
	catPath := snap.PathFor(a.CategoryID)
	parent := ""
	area := ""
	if c, ok := snap.CategoryByID(a.CategoryID); ok {
		parent = c.Name
		if ar, ok := snap.AreaByID(c.AreaID); ok {
			area = ar.Name
		}
	}
	return &reconcile.Node{
		ID:       a.ID,
		Name:     a.Name,
		Kind:     reconcile.KindAttribute,
		Parent:   parent,
		Area:     area,
		Category: catPath,
		Level:    len(SplitPath(catPath)),
		Fields: map[string]string{
			"data_type":        string(a.DataType),
			"unit":             a.Unit,
			"is_required":      boolCell(a.IsRequired),
			"default_value":    a.DefaultValue,
			"validation_rules": RulesJSON(a.Rules),
			"description":      a.Description,
			"sort_order":       strconv.Itoa(a.SortOrder),
		},
		Path: catPath + PathSeparator + a.Name,
	}
}

func newAttrNode(table *renameTable, c *NewAttributeChange) *reconcile.Node {
	oldCatPath := table.oldPath(c.CategoryPath)
	parts := SplitPath(oldCatPath)
	parent := ""
	area := ""
	if len(parts) > 1 {
		parent = parts[len(parts)-1]
		area = parts[0]
	}
	return &reconcile.Node{
		Row:      c.Row,
		Name:     c.Name,
		Kind:     reconcile.KindAttribute,
		Parent:   parent,
		Area:     area,
		Category: oldCatPath,
		Level:    len(parts),
		Fields: map[string]string{
			"data_type":        string(c.DataType),
			"unit":             c.Unit,
			"is_required":      boolCell(c.IsRequired),
			"default_value":    c.DefaultValue,
			"validation_rules": RulesJSON(c.Rules),
			"description":      c.Description,
			"sort_order":       strconv.Itoa(c.SortOrder),
		},
		Path: c.CategoryPath + PathSeparator + c.Name,
	}
}
