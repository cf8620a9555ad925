package core

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Snapshot is the full structure for one user with case-insensitive
// lookup indexes. Build with NewSnapshot so the indexes stay consistent
// with the slices.
type Snapshot struct {
	Areas      []Area
	Categories []Category
	Attributes []AttributeDefinition

	areaByName map[string]*Area
	areaByID   map[uuid.UUID]*Area
	catByPath  map[string]*Category
	catByID    map[uuid.UUID]*Category
	attrsByCat map[uuid.UUID][]*AttributeDefinition
	pathByCat  map[uuid.UUID]string
}

// NewSnapshot indexes the given structure. Categories may arrive in any
// order; paths are resolved through parent links.
func NewSnapshot(areas []Area, categories []Category, attributes []AttributeDefinition) *Snapshot {
	s := &Snapshot{
		Areas:      areas,
		Categories: categories,
		Attributes: attributes,
		areaByName: make(map[string]*Area, len(areas)),
		areaByID:   make(map[uuid.UUID]*Area, len(areas)),
		catByPath:  make(map[string]*Category, len(categories)),
		catByID:    make(map[uuid.UUID]*Category, len(categories)),
		attrsByCat: make(map[uuid.UUID][]*AttributeDefinition),
		pathByCat:  make(map[uuid.UUID]string, len(categories)),
	}

	for i := range s.Areas {
		a := &s.Areas[i]
		s.areaByName[foldKey(a.Name)] = a
		s.areaByID[a.ID] = a
	}
	for i := range s.Categories {
		c := &s.Categories[i]
		s.catByID[c.ID] = c
	}
	for i := range s.Categories {
		c := &s.Categories[i]
		path := s.resolvePath(c)
		s.pathByCat[c.ID] = path
		s.catByPath[foldKey(path)] = c
	}
	for i := range s.Attributes {
		d := &s.Attributes[i]
		s.attrsByCat[d.CategoryID] = append(s.attrsByCat[d.CategoryID], d)
	}
	for _, attrs := range s.attrsByCat {
		sort.SliceStable(attrs, func(i, j int) bool {
			if attrs[i].SortOrder != attrs[j].SortOrder {
				return attrs[i].SortOrder < attrs[j].SortOrder
			}
			return foldKey(attrs[i].Name) < foldKey(attrs[j].Name)
		})
	}
	return s
}

// resolvePath walks parent links up to the root category and prefixes
// the area name, so paths read "Area > Category > Subcategory".
func (s *Snapshot) resolvePath(c *Category) string {
	parts := []string{c.Name}
	cur := c
	// Level bound guards against parent cycles in bad data.
	for i := 0; cur.ParentID != nil && i < MaxCategoryLevel; i++ {
		parent, ok := s.catByID[*cur.ParentID]
		if !ok {
			break
		}
		parts = append([]string{parent.Name}, parts...)
		cur = parent
	}
	if area, ok := s.areaByID[cur.AreaID]; ok {
		parts = append([]string{area.Name}, parts...)
	}
	return strings.Join(parts, PathSeparator)
}

// AreaByName looks up an area by name, case-insensitively.
func (s *Snapshot) AreaByName(name string) (*Area, bool) {
	a, ok := s.areaByName[foldKey(name)]
	return a, ok
}

// AreaByID looks up an area by id.
func (s *Snapshot) AreaByID(id uuid.UUID) (*Area, bool) {
	a, ok := s.areaByID[id]
	return a, ok
}

// CategoryByPath looks up a category by its full hierarchical path,
// case-insensitively.
func (s *Snapshot) CategoryByPath(path string) (*Category, bool) {
	c, ok := s.catByPath[foldKey(path)]
	return c, ok
}

// CategoryByID looks up a category by id.
func (s *Snapshot) CategoryByID(id uuid.UUID) (*Category, bool) {
	c, ok := s.catByID[id]
	return c, ok
}

// AttributesFor returns the attribute definitions of a category.
func (s *Snapshot) AttributesFor(categoryID uuid.UUID) []*AttributeDefinition {
	return s.attrsByCat[categoryID]
}

// AttributeByName looks up an attribute of a category by name,
// case-insensitively.
func (s *Snapshot) AttributeByName(categoryID uuid.UUID, name string) (*AttributeDefinition, bool) {
	key := foldKey(name)
	for _, a := range s.attrsByCat[categoryID] {
		if foldKey(a.Name) == key {
			return a, true
		}
	}
	return nil, false
}

// PathFor returns the hierarchical path of a category id, "" when the
// id is unknown.
func (s *Snapshot) PathFor(categoryID uuid.UUID) string {
	return s.pathByCat[categoryID]
}

// CategoryPaths returns every known path, used for close-match
// suggestions on bulk imports.
func (s *Snapshot) CategoryPaths() []string {
	out := make([]string, 0, len(s.Categories))
	for i := range s.Categories {
		out = append(out, s.pathByCat[s.Categories[i].ID])
	}
	return out
}

// SortedAreas returns the areas ordered by sort order, then name.
func (s *Snapshot) SortedAreas() []*Area {
	out := make([]*Area, 0, len(s.Areas))
	for i := range s.Areas {
		out = append(out, &s.Areas[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return foldKey(out[i].Name) < foldKey(out[j].Name)
	})
	return out
}

// RootCategories returns an area's top-level categories ordered by sort
// order, then name.
func (s *Snapshot) RootCategories(areaID uuid.UUID) []*Category {
	var out []*Category
	for i := range s.Categories {
		c := &s.Categories[i]
		if c.AreaID == areaID && c.ParentID == nil {
			out = append(out, c)
		}
	}
	sortCategories(out)
	return out
}

// ChildCategories returns the direct children of a category ordered by
// sort order, then name.
func (s *Snapshot) ChildCategories(parentID uuid.UUID) []*Category {
	var out []*Category
	for i := range s.Categories {
		c := &s.Categories[i]
		if c.ParentID != nil && *c.ParentID == parentID {
			out = append(out, c)
		}
	}
	sortCategories(out)
	return out
}

func sortCategories(cats []*Category) {
	sort.SliceStable(cats, func(i, j int) bool {
		if cats[i].SortOrder != cats[j].SortOrder {
			return cats[i].SortOrder < cats[j].SortOrder
		}
		return foldKey(cats[i].Name) < foldKey(cats[j].Name)
	})
}

// SubtreeIDs returns a category id and all its descendants.
func (s *Snapshot) SubtreeIDs(root uuid.UUID) []uuid.UUID {
	children := make(map[uuid.UUID][]uuid.UUID)
	for i := range s.Categories {
		c := &s.Categories[i]
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		}
	}

	var out []uuid.UUID
	stack := []uuid.UUID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, id)
		stack = append(stack, children[id]...)
	}
	return out
}

// foldKey normalizes a lookup key for case-insensitive maps. Casers
// are stateful, so each call builds its own.
func foldKey(s string) string { return cases.Fold().String(strings.TrimSpace(s)) }
