package reconcile

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies what a node describes.
type Kind string

const (
	KindArea      Kind = "area"
	KindCategory  Kind = "category"
	KindAttribute Kind = "attribute"
)

// Node is one structure object on either side of a comparison, built
// from a workbook or from the database.
type Node struct {
	Row      int       // source row number, 0 when not from a sheet
	ID       uuid.UUID // zero for objects that never had an id
	Name     string
	Kind     Kind
	Parent   string // parent category name, "" for roots
	Area     string // owning area name, "" for areas themselves
	Category string // owning category path, attributes only
	Level    int
	Fields   map[string]string // descriptive fields, compared by the fields signal
	Path     string            // hierarchical path for display
}

// blockKey groups nodes that are allowed to fuzzy-match: same kind,
// area, parent, and level. A node whose block changed is treated as
// delete plus insert, never a rename.
func (n *Node) blockKey() string {
	var sb strings.Builder
	sb.WriteString(string(n.Kind))
	if n.Area != "" {
		sb.WriteString("|area:")
		sb.WriteString(fold(n.Area))
	}
	sb.WriteString("|parent:")
	if n.Parent == "" {
		sb.WriteString("ROOT")
	} else {
		sb.WriteString(fold(n.Parent))
	}
	sb.WriteString("|level:")
	sb.WriteString(strconv.Itoa(n.Level))
	return sb.String()
}

// TableFor maps a node kind to its backing table.
func TableFor(k Kind) string {
	switch k {
	case KindArea:
		return "areas"
	case KindCategory:
		return "categories"
	case KindAttribute:
		return "attribute_definitions"
	}
	return string(k)
}
