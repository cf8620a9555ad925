// Package reconcile tells renames apart from delete-plus-insert when a
// user re-uploads an edited structure. Matching is multi-signal: uuid
// identity wins outright, then name similarity, sheet position, parent
// and sibling context, and descriptive fields blend into a weighted
// score within hierarchy blocks.
package reconcile

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Signal weights. Must sum to 1.0.
const (
	weightPosition = 0.20
	weightName     = 0.40
	weightParent   = 0.20
	weightSibling  = 0.10
	weightFields   = 0.10
)

// DefaultThreshold is the minimum blended score for a fuzzy match.
const DefaultThreshold = 0.65

// MatchKind classifies how a pair was matched.
type MatchKind string

const (
	// MatchExact pairs share an id and a name.
	MatchExact MatchKind = "exact"
	// MatchRename pairs are the same object under a new name.
	MatchRename MatchKind = "rename"
	// MatchUpdate pairs keep their name but differ in fields.
	MatchUpdate MatchKind = "update"
)

// Match pairs an old node with its new counterpart.
type Match struct {
	Old        *Node
	New        *Node
	Confidence float64
	Kind       MatchKind
	Signals    map[string]float64
}

// FieldChanges diffs the descriptive fields of the pair over the union
// of keys. Returns nil when nothing changed. The name is not a field;
// renames are tracked by Kind.
func (m Match) FieldChanges() map[string]FieldDelta {
	changes := make(map[string]FieldDelta)
	for k, ov := range m.Old.Fields {
		if nv := m.New.Fields[k]; nv != ov {
			changes[k] = FieldDelta{Old: ov, New: nv}
		}
	}
	for k, nv := range m.New.Fields {
		if _, ok := m.Old.Fields[k]; !ok && nv != "" {
			changes[k] = FieldDelta{Old: "", New: nv}
		}
	}
	if len(changes) == 0 {
		return nil
	}
	return changes
}

// FieldDelta is one field moving from Old to New.
type FieldDelta struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Result of one detection run.
type Result struct {
	Matches    []Match
	RemovedOld []*Node // old nodes with no counterpart: candidate deletions
	AddedNew   []*Node // new nodes with no counterpart: insertions
}

// Detector matches two sides of a structure. Zero value is not ready;
// use NewDetector or set Threshold explicitly.
type Detector struct {
	Threshold float64
}

// NewDetector returns a detector with the default threshold.
func NewDetector() *Detector {
	return &Detector{Threshold: DefaultThreshold}
}

// Match runs the four phases: id identity, blocking, in-block
// similarity, and leftover classification. Output is deterministic for
// a given input order; score ties resolve to the earlier pair.
func (d *Detector) Match(oldNodes, newNodes []*Node) *Result {
	res := &Result{}

	oldLeft, newLeft := d.matchByID(oldNodes, newNodes, res)

	blocks, keys := groupBlocks(oldLeft, newLeft)
	for _, key := range keys {
		b := blocks[key]
		d.matchBlock(b.old, b.new, res)
	}

	matchedOld := make(map[*Node]bool, len(res.Matches))
	matchedNew := make(map[*Node]bool, len(res.Matches))
	for _, m := range res.Matches {
		matchedOld[m.Old] = true
		matchedNew[m.New] = true
	}
	for _, n := range oldNodes {
		if !matchedOld[n] {
			res.RemovedOld = append(res.RemovedOld, n)
		}
	}
	for _, n := range newNodes {
		if !matchedNew[n] {
			res.AddedNew = append(res.AddedNew, n)
		}
	}

	return res
}

// matchByID pairs nodes sharing a non-zero uuid with confidence 1.0 and
// returns both leftovers for the fuzzy phases.
func (d *Detector) matchByID(oldNodes, newNodes []*Node, res *Result) (oldLeft, newLeft []*Node) {
	newByID := make(map[uuid.UUID]*Node, len(newNodes))
	for _, n := range newNodes {
		if n.ID == uuid.Nil {
			continue
		}
		if _, dup := newByID[n.ID]; !dup {
			newByID[n.ID] = n
		}
	}

	matchedNew := make(map[*Node]bool)
	for _, o := range oldNodes {
		n, ok := newByID[o.ID]
		if o.ID == uuid.Nil || !ok || matchedNew[n] {
			oldLeft = append(oldLeft, o)
			continue
		}
		kind := MatchRename
		if strings.EqualFold(o.Name, n.Name) {
			kind = MatchExact
		}
		res.Matches = append(res.Matches, Match{
			Old:        o,
			New:        n,
			Confidence: 1.0,
			Kind:       kind,
			Signals:    map[string]float64{"uuid": 1.0},
		})
		matchedNew[n] = true
	}

	for _, n := range newNodes {
		if !matchedNew[n] {
			newLeft = append(newLeft, n)
		}
	}
	return oldLeft, newLeft
}

type block struct {
	old []*Node
	new []*Node
}

// groupBlocks buckets nodes by block key. Keys come back in first-seen
// order so the whole run stays deterministic.
func groupBlocks(oldNodes, newNodes []*Node) (map[string]*block, []string) {
	blocks := make(map[string]*block)
	var keys []string
	get := func(key string) *block {
		b, ok := blocks[key]
		if !ok {
			b = &block{}
			blocks[key] = b
			keys = append(keys, key)
		}
		return b
	}
	for _, n := range oldNodes {
		b := get(n.blockKey())
		b.old = append(b.old, n)
	}
	for _, n := range newNodes {
		b := get(n.blockKey())
		b.new = append(b.new, n)
	}
	return blocks, keys
}

// matchBlock scores every old/new pair in the block and assigns greedily
// best-first under a one-to-one constraint.
func (d *Detector) matchBlock(oldNodes, newNodes []*Node, res *Result) {
	if len(oldNodes) == 0 || len(newNodes) == 0 {
		return
	}

	type candidate struct {
		score   float64
		i, j    int
		signals map[string]float64
	}
	var candidates []candidate
	for i, o := range oldNodes {
		for j, n := range newNodes {
			score, signals := d.similarity(o, n)
			if score >= d.Threshold {
				candidates = append(candidates, candidate{score, i, j, signals})
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	matchedOld := make(map[int]bool, len(oldNodes))
	matchedNew := make(map[int]bool, len(newNodes))
	for _, c := range candidates {
		if matchedOld[c.i] || matchedNew[c.j] {
			continue
		}
		o, n := oldNodes[c.i], newNodes[c.j]
		kind := MatchUpdate
		if !strings.EqualFold(o.Name, n.Name) {
			kind = MatchRename
		}
		res.Matches = append(res.Matches, Match{
			Old:        o,
			New:        n,
			Confidence: c.score,
			Kind:       kind,
			Signals:    c.signals,
		})
		matchedOld[c.i] = true
		matchedNew[c.j] = true
	}
}

// similarity blends the five signals into one score.
func (d *Detector) similarity(o, n *Node) (float64, map[string]float64) {
	signals := make(map[string]float64, 5)

	// Position: rows must both be known to count.
	position := 0.5
	if o.Row > 0 && n.Row > 0 {
		if o.Row == n.Row {
			position = 1.0
		} else {
			position = 0.0
		}
	}
	signals["position"] = position

	name := Ratio(fold(o.Name), fold(n.Name))
	signals["name"] = name

	parent := 0.0
	if strings.EqualFold(o.Parent, n.Parent) {
		parent = 1.0
	}
	signals["parent"] = parent

	// Sibling context collapses to the parent signal: same parent means
	// the same sibling set within a block.
	signals["sibling"] = parent

	fields := compareFields(o.Fields, n.Fields)
	signals["fields"] = fields

	total := weightPosition*position +
		weightName*name +
		weightParent*parent +
		weightSibling*parent +
		weightFields*fields
	return total, signals
}

// compareFields returns the fraction of common keys with equal values,
// 0.5 when the maps share nothing to compare.
func compareFields(a, b map[string]string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.5
	}
	common, equal := 0, 0
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			continue
		}
		common++
		if av == bv {
			equal++
		}
	}
	if common == 0 {
		return 0.5
	}
	return float64(equal) / float64(common)
}
