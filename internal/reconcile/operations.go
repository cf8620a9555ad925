package reconcile

import "github.com/google/uuid"

// Op is a database operation kind.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Operation is one database action derived from a detection result.
type Operation struct {
	Op         Op                    `json:"operation"`
	Table      string                `json:"table"`
	ID         uuid.UUID             `json:"id,omitempty"`
	Name       string                `json:"name"`
	OldName    string                `json:"oldName,omitempty"` // renames only
	Changes    map[string]FieldDelta `json:"changes,omitempty"` // updates only
	Fields     map[string]string     `json:"fields,omitempty"`  // inserts only
	Node       *Node                 `json:"-"`                 // source node, inserts only
	Confidence float64               `json:"confidence,omitempty"`

	// RequiresConfirmation marks deletions, which are never applied
	// without an explicit user confirm.
	RequiresConfirmation bool `json:"requiresConfirmation,omitempty"`
}

// Operations flattens the result into ordered database operations:
// updates from matches, then deletions, then insertions. Matched pairs
// with nothing changed emit nothing.
func (r *Result) Operations() []Operation {
	var ops []Operation

	for _, m := range r.Matches {
		changes := m.FieldChanges()
		switch m.Kind {
		case MatchRename:
			ops = append(ops, Operation{
				Op:         OpUpdate,
				Table:      TableFor(m.Old.Kind),
				ID:         m.Old.ID,
				Name:       m.New.Name,
				OldName:    m.Old.Name,
				Changes:    changes,
				Confidence: m.Confidence,
			})
		case MatchExact, MatchUpdate:
			if changes == nil {
				continue
			}
			ops = append(ops, Operation{
				Op:         OpUpdate,
				Table:      TableFor(m.Old.Kind),
				ID:         m.Old.ID,
				Name:       m.Old.Name,
				Changes:    changes,
				Confidence: m.Confidence,
			})
		}
	}

	for _, n := range r.RemovedOld {
		ops = append(ops, Operation{
			Op:                   OpDelete,
			Table:                TableFor(n.Kind),
			ID:                   n.ID,
			Name:                 n.Name,
			RequiresConfirmation: true,
		})
	}

	for _, n := range r.AddedNew {
		ops = append(ops, Operation{
			Op:     OpInsert,
			Table:  TableFor(n.Kind),
			Name:   n.Name,
			Fields: n.Fields,
			Node:   n,
		})
	}

	return ops
}

// Summary aggregates a detection run for logging and previews.
type Summary struct {
	Matches       int     `json:"matches"`
	Exact         int     `json:"exact"`
	Renames       int     `json:"renames"`
	Updates       int     `json:"updates"`
	Inserts       int     `json:"inserts"`
	Deletes       int     `json:"deletes"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// Summary reports match counts per kind and the mean confidence over
// all matches.
func (r *Result) Summary() Summary {
	s := Summary{
		Matches: len(r.Matches),
		Inserts: len(r.AddedNew),
		Deletes: len(r.RemovedOld),
	}
	var sum float64
	for _, m := range r.Matches {
		sum += m.Confidence
		switch m.Kind {
		case MatchExact:
			s.Exact++
		case MatchRename:
			s.Renames++
		case MatchUpdate:
			s.Updates++
		}
	}
	if len(r.Matches) > 0 {
		s.AvgConfidence = sum / float64(len(r.Matches))
	}
	return s
}
