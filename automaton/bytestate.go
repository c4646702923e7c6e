// Package automaton implements the field-level and byte-level automata at
// the heart of the matching engine: NameState/NameMatcher walk JSON paths,
// and ByteMachine/ByteState/ByteTransition/ByteMatch walk a field's value
// byte-by-byte, sharing structure across every pattern attached to that
// field (spec.md §2–§4).
//
// Nodes are held in per-ByteMachine arenas addressed by stateID, following
// the teacher's nfa.Builder convention (StateID, InvalidState), because
// unlike a compiled-once NFA this graph is mutated at runtime: rules are
// added and deleted while other goroutines read it (spec.md §5), and
// deletion must reclaim exactly the structure no other pattern references
// (spec.md §9) — an explicit per-entry refcount inside the arena is the
// natural way to do that in Go without relying on GC object identity.
package automaton

import "github.com/coregx/ruler/pattern"

// stateID addresses an entry in a ByteMachine's state arena.
type stateID uint32

// invalidState marks the absence of a transition.
const invalidState stateID = 0xFFFFFFFF

// vt is the pseudo-byte appended after a value's real bytes so complete
// patterns (Exact, EqualsIgnoreCase, NumericEquals, NumericRange) can
// terminate unambiguously, distinct from any real byte value 0-255.
const vt = 256

// byteMatch is a terminal reached at the end of a pattern: it names the
// Pattern it completes and the NameState execution advances to. Several
// ByteMatches anchored at the same transition are chained through
// nextMatch (spec.md: "Multiple ByteMatches on the same byte position are
// chained via a singly-linked nextMatch").
type byteMatch struct {
	pattern   pattern.Pattern
	next      *NameState
	nextMatch *byteMatch
}

// byteTransition is the edge leaving a byteState on one symbol. It may
// carry a next state, a terminal match, or both at once — a Composite
// transition in spec.md's terms — which is exactly how "al" (Prefix) and
// "albert" (Exact) share a trunk: the edge for the 'l' in "albert"
// continues toward "bert" (next) while also terminating the Prefix match.
type byteTransition struct {
	next  stateID // invalidState if this edge does not continue
	match *byteMatch
}

func (t *byteTransition) hasNext() bool { return t.next != invalidState }

// shortcut represents "any byte in [lo, hi] from this state leads to
// state next", the compact encoding used for numeric-range subgraphs
// (spec.md: ShortcutTransition) so that a range spanning many bytes at one
// trie position does not require 256 individual edges.
type shortcut struct {
	lo, hi byte
	next   stateID
}

// byteState is one node of the per-field byte automaton. Sharing is by
// reference (by stateID): the same state is reused across patterns for as
// long as their outgoing edges agree, which is what gives the machine
// sub-linear-in-pattern-count behavior.
type byteState struct {
	id        stateID
	refcount  int // number of edges and shortcuts referencing this state; the two roots are not counted
	edges     map[int]*byteTransition // key: byte value 0-255, or vt
	shortcuts []shortcut
}

func newByteState(id stateID) *byteState {
	return &byteState{id: id, edges: make(map[int]*byteTransition)}
}

// lookup returns the transition for symbol sym (0-255 or vt), consulting
// explicit edges first and then shortcuts, and reports whether one exists.
func (s *byteState) lookup(sym int) (*byteTransition, bool) {
	if t, ok := s.edges[sym]; ok {
		return t, true
	}
	if sym >= 0 && sym <= 0xFF {
		b := byte(sym)
		for _, sc := range s.shortcuts {
			if b >= sc.lo && b <= sc.hi {
				return &byteTransition{next: sc.next}, true
			}
		}
	}
	return nil, false
}

// expandShortcut demotes a shortcut covering [sc.lo, sc.hi] into individual
// explicit edges, per spec.md §4.3: "Shortcut transitions are demoted to
// explicit byte edges the moment a non-range edge requires a different
// destination within the shortcut's byte range." Returns true if a
// matching shortcut was found and expanded.
func (s *byteState) expandShortcut(b byte) bool {
	for i, sc := range s.shortcuts {
		if b < sc.lo || b > sc.hi {
			continue
		}
		s.shortcuts = append(s.shortcuts[:i], s.shortcuts[i+1:]...)
		for v := int(sc.lo); v <= int(sc.hi); v++ {
			if _, exists := s.edges[v]; !exists {
				s.edges[v] = &byteTransition{next: sc.next}
			}
		}
		return true
	}
	return false
}
