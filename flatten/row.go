// Package flatten is the event flattener adapter named in spec.md §2: it
// walks a parsed JSON event and emits the ordered (path, value) pairs the
// name machine and byte machine consume, using github.com/tidwall/gjson for
// allocation-light traversal (SPEC_FULL.md's Domain Stack) instead of
// encoding/json unmarshal.
//
// Two distinct flattening semantics coexist, per spec.md §4.7/§6, because
// which one is "correct" for arrays of objects is left an open question
// upstream: JSONRows produces the Cartesian-product rows
// engine.Machine.RulesForJSONEvent wants, while FlatRow produces the older
// flat-multiset row engine.Machine.RulesForFlatEvent wants.
package flatten

import "github.com/coregx/ruler/automaton"

// Row is one complete flattened instantiation of an event: every (path,
// value) pair observed in it (possibly several values per path — arrays of
// primitives, or a number's dual raw-text/ComparableNumber encoding, see
// addScalar), plus the full set of distinct paths present, which
// engine.Machine needs to evaluate Exists(false) sub-rules (spec.md §4.7
// step 3: "unless the field that s awaits was observed in the event").
type Row struct {
	Fields []automaton.EventField
	Paths  map[string]struct{}
}

func newRow() *Row {
	return &Row{Paths: make(map[string]struct{})}
}

func (r *Row) add(path string, value []byte) {
	r.Paths[path] = struct{}{}
	r.Fields = append(r.Fields, automaton.EventField{Path: path, Value: value})
}

// merge appends other's fields and paths into r, used to combine sibling
// object keys and to fold array-of-object elements in the flat semantics.
func (r *Row) merge(other *Row) {
	r.Fields = append(r.Fields, other.Fields...)
	for p := range other.Paths {
		r.Paths[p] = struct{}{}
	}
}

// clone returns an independent copy of r, used when the Cartesian-product
// builder needs to branch one accumulated row into several.
func (r *Row) clone() *Row {
	c := newRow()
	c.Fields = append(c.Fields, r.Fields...)
	for p := range r.Paths {
		c.Paths[p] = struct{}{}
	}
	return c
}
