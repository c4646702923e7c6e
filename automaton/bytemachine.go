package automaton

import (
	"errors"
	"fmt"

	"github.com/coregx/ruler/pattern"
)

// ErrTooComplex is wrapped by TooComplexError, returned when AddPattern
// would push a field's wildcard-state budget above its configured cap
// (spec.md §4.3, §4.6's maxComplexity).
var ErrTooComplex = errors.New("byte machine: pattern too complex")

// TooComplexError names the field and the complexity bound that was
// exceeded.
type TooComplexError struct {
	Field string
	Limit int
}

func (e *TooComplexError) Error() string {
	return fmt.Sprintf("byte machine: field %q exceeds complexity limit %d", e.Field, e.Limit)
}

func (e *TooComplexError) Unwrap() error { return ErrTooComplex }

// ErrPatternNotFound is returned by DeletePattern when the (pattern, next)
// pair was never added. Per spec.md §7, callers above GenericMachine
// absorb it silently; it is exported so tests can assert on it directly.
var ErrPatternNotFound = errors.New("byte machine: pattern not found")

// wildcardAhoCorasickThreshold mirrors the teacher's own UseAhoCorasick
// strategy threshold (meta/strategy.go): beyond this many literal-bearing
// wildcard patterns on one field, build a multi-pattern automaton over
// their segments instead of scanning each pattern's segments independently
// (see wildcard.go).
const wildcardAhoCorasickThreshold = 32

// Match is the opaque handle AddPattern returns: it identifies one
// (pattern, next) terminal association. DeletePattern takes that same
// (pattern, next) pair rather than a Match.
type Match struct {
	pattern pattern.Pattern
	next    *NameState

	// For trie-backed kinds, the recursive add/delete routines below
	// operate directly on the ByteMachine's state graph using the
	// pattern's own literal/range bytes as the recursion key, so no extra
	// per-call path bookkeeping is kept beyond the Pattern itself (delete
	// recomputes the same recursion deterministically). For
	// Wildcard/AnythingBut, the pattern is evaluated directly against a
	// value (see wildcard.go, anythingbut.go) and this Match is simply
	// appended to/removed from a flat slice.
}

// ByteMachine is the value-level automaton attached to one field name. It
// shares trie structure across every Exact/Prefix/Suffix/EqualsIgnoreCase/
// NumericEquals/NumericRange (including CIDR) pattern on the field; Wildcard
// and AnythingBut patterns are evaluated directly against the value
// (documented in DESIGN.md) but still produce a Match with the same
// (Pattern, NameState) semantics as every other kind.
type ByteMachine struct {
	field  string // the JSON field name this machine matches values for, used only for error messages
	states map[stateID]*byteState
	nextID stateID

	start       *byteState // forward trie: Exact/Prefix/EqualsIgnoreCase/Numeric*
	suffixStart *byteState // reverse trie: Suffix literals only

	direct []*Match // Wildcard and AnythingBut matches, evaluated directly

	wildcardAccel *wildcardAccelerator // rebuilt on every Wildcard add/delete, see wildcard.go

	complexity int // running upper bound, see EvaluateComplexity
}

// NewByteMachine constructs an empty byte automaton for one field (used only
// to label TooComplexError; any string is fine).
func NewByteMachine(field string) *ByteMachine {
	m := &ByteMachine{field: field, states: make(map[stateID]*byteState)}
	m.start = m.newState()
	m.suffixStart = m.newState()
	return m
}

func (m *ByteMachine) newState() *byteState {
	id := m.nextID
	m.nextID++
	s := newByteState(id)
	m.states[id] = s
	return s
}

// StateCount reports how many live ByteStates this machine currently owns,
// used by engine.Machine.ApproximateObjectCount (spec.md §4.6, §8
// invariant 3).
func (m *ByteMachine) StateCount() int { return len(m.states) }

// AddPattern creates (or reuses) the terminal for p and associates it with
// next, per spec.md §4.3. Re-adding the same pattern with the same next
// returns a fresh but equivalent Match; callers (NameState) are expected to
// dedupe at the (field, pattern.Key(), next) level before calling, which
// is what the NameState reuse rule (§4.4) requires anyway.
func (m *ByteMachine) AddPattern(p pattern.Pattern, next *NameState, limit int) (*Match, error) {
	match := &Match{pattern: p, next: next}

	switch p.Kind() {
	case pattern.Exact:
		m.addLiteralChain(m.start, p.Literal(), true, next)
	case pattern.Prefix:
		m.addLiteralChain(m.start, p.Literal(), false, next)
	case pattern.Suffix:
		// p.Literal() is already reversed (see pattern.NewSuffix); this
		// builds a prefix chain in the reverse trie, matched at query
		// time by walking the value backwards (spec.md §4.3).
		m.addLiteralChain(m.suffixStart, p.Literal(), false, next)
	case pattern.EqualsIgnoreCase:
		m.addFoldedChain(m.start, p.Literal(), next)
	case pattern.NumericEquals, pattern.NumericRange:
		r := p.Range()
		m.addRangeChain(m.start, r.Lo, r.LoInclusive, r.Hi, r.HiInclusive, next)
	case pattern.Wildcard:
		if err := m.addWildcardComplexity(p, limit); err != nil {
			return nil, err
		}
		m.direct = append(m.direct, match)
		next.IncRef()
		m.invalidateAccelerator()
	case pattern.Exists:
		// Exists is tracked at NameState, not in the byte machine
		// (spec.md §4.3); AddPattern should never be called with it.
		return nil, fmt.Errorf("byte machine: Exists patterns are tracked at NameState, not ByteMachine")
	case pattern.AnythingBut:
		m.direct = append(m.direct, match)
		next.IncRef()
	default:
		return nil, fmt.Errorf("byte machine: unsupported pattern kind %v", p.Kind())
	}

	return match, nil
}

// DeletePattern removes the (p, next) terminal added by a prior AddPattern,
// pruning any byte states and edges that become unreferenced as a result
// (spec.md §4.3). It is a no-op (ErrPatternNotFound) if no such terminal
// exists, absorbed by callers per spec.md §7.
func (m *ByteMachine) DeletePattern(p pattern.Pattern, next *NameState) error {
	// The trie delete helpers report whether a state still has content, not
	// whether the terminal was found; a detached terminal always releases
	// at least one reference on next, so that is the found signal.
	before := next.Refcount()
	switch p.Kind() {
	case pattern.Exact:
		m.deleteLiteralChain(m.start, p.Literal(), true, next)
	case pattern.Prefix:
		m.deleteLiteralChain(m.start, p.Literal(), false, next)
	case pattern.Suffix:
		m.deleteLiteralChain(m.suffixStart, p.Literal(), false, next)
	case pattern.EqualsIgnoreCase:
		m.deleteFoldedChain(m.start, p.Literal(), next)
	case pattern.NumericEquals, pattern.NumericRange:
		r := p.Range()
		m.deleteRangeChain(m.start, r.Lo, r.LoInclusive, r.Hi, r.HiInclusive, next)
	case pattern.Wildcard, pattern.AnythingBut:
		if !m.removeDirect(p, next) {
			return ErrPatternNotFound
		}
		if p.Kind() == pattern.Wildcard {
			m.invalidateAccelerator()
		}
		return nil
	default:
		return ErrPatternNotFound
	}
	if next.Refcount() >= before {
		return ErrPatternNotFound
	}
	return nil
}

func (m *ByteMachine) removeDirect(p pattern.Pattern, next *NameState) bool {
	for i, match := range m.direct {
		if match.next == next && match.pattern.Key() == p.Key() {
			m.direct = append(m.direct[:i], m.direct[i+1:]...)
			next.DecRef()
			return true
		}
	}
	return false
}

// TransitionOn runs value (followed by the VT sentinel) through every
// pattern in the machine simultaneously and returns every NameState reached
// by a matching pattern, per spec.md §4.3/§4.7.
func (m *ByteMachine) TransitionOn(value []byte) []*NameState {
	var out []*NameState

	m.walkTrie(m.start, value, &out)
	if hasSuffixMatches(m.suffixStart) {
		m.walkTrie(m.suffixStart, reverseBytes(value), &out)
	}

	wildcardsMayMatch := m.wildcardAccel.mayMatch(value)
	for _, match := range m.direct {
		if match.pattern.Kind() == pattern.Wildcard && !wildcardsMayMatch {
			continue
		}
		if directMatches(match.pattern, value) {
			out = append(out, match.next)
		}
	}
	return out
}

// walkTrie advances the shared trie: at each step, every currently-live
// state that has an edge for the next byte advances; this naturally models
// the "run all patterns simultaneously" contract without needing explicit
// NFA subset construction, since the trie itself is the shared structure.
func (m *ByteMachine) walkTrie(start *byteState, value []byte, out *[]*NameState) {
	state := start
	for _, b := range value {
		t, ok := state.lookup(int(b))
		if !ok {
			return
		}
		m.collectMatches(t, out)
		if !t.hasNext() {
			return
		}
		state = m.states[t.next]
	}
	if t, ok := state.lookup(vt); ok {
		m.collectMatches(t, out)
	}
}

func (m *ByteMachine) collectMatches(t *byteTransition, out *[]*NameState) {
	for bm := t.match; bm != nil; bm = bm.nextMatch {
		*out = append(*out, bm.next)
	}
}

func hasSuffixMatches(suffixStart *byteState) bool {
	return len(suffixStart.edges) > 0 || len(suffixStart.shortcuts) > 0
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

// EvaluateComplexity returns an upper bound on how many wildcard-prefix
// states could coexist on a worst-case input, capped at limit, per
// spec.md §4.3. Non-wildcard patterns never contribute: their trie
// structure is always linear in the literal length regardless of how many
// patterns share it.
func (m *ByteMachine) EvaluateComplexity(limit int) int {
	if m.complexity > limit {
		return limit
	}
	return m.complexity
}

func (m *ByteMachine) addWildcardComplexity(p pattern.Pattern, limit int) error {
	// Each wildcard segment boundary can, in the worst case, keep one
	// additional candidate search alive per byte of input; approximate the
	// contribution as the number of '*' markers (segments-1), which is
	// the number of independent skip-scans directWildcardMatch may have to
	// track internally for this one pattern.
	contribution := len(p.Segments()) - 1
	if contribution < 0 {
		contribution = 0
	}
	if m.complexity+contribution > limit {
		return &TooComplexError{Field: m.field, Limit: limit}
	}
	m.complexity += contribution
	return nil
}

// getOrCreateEdge returns the transition for (state, sym), creating an
// empty one (no next, no match) if absent.
func (m *ByteMachine) getOrCreateEdge(state *byteState, sym int) *byteTransition {
	if t, ok := state.edges[sym]; ok {
		return t
	}
	t := &byteTransition{next: invalidState}
	state.edges[sym] = t
	return t
}

// getOrCreateChild returns the state reached from state via byte b,
// creating a new state (and incrementing its refcount) if the edge did not
// already exist. Existing edges are reused untouched, which is the sharing
// that makes the trie sub-linear in pattern count.
func (m *ByteMachine) getOrCreateChild(state *byteState, b byte) *byteState {
	sym := int(b)
	if t, ok := state.edges[sym]; ok && t.hasNext() {
		return m.states[t.next]
	}
	t := m.getOrCreateEdge(state, sym)
	child := m.newState()
	t.next = child.id
	child.refcount++
	return child
}

func (m *ByteMachine) removeEdge(state *byteState, sym int) {
	t, ok := state.edges[sym]
	if !ok {
		return
	}
	delete(state.edges, sym)
	if t.hasNext() {
		m.releaseStateRef(m.states[t.next])
	}
}

func (m *ByteMachine) removeShortcut(state *byteState, lo, hi byte, next stateID) {
	for i, sc := range state.shortcuts {
		if sc.lo == lo && sc.hi == hi && sc.next == next {
			state.shortcuts = append(state.shortcuts[:i], state.shortcuts[i+1:]...)
			m.releaseStateRef(m.states[next])
			return
		}
	}
}

// releaseStateRef decrements s's refcount and, once it reaches zero,
// reclaims it: s is unreachable from the start state by construction (no
// remaining edge anywhere references it), so any structure still hanging
// off it cannot be reached either and is torn down too. Every byteMatch
// chained on a torn-down edge is itself a live reference to a NameState
// (attachMatch took it via next.IncRef()), so it must be released here
// the same way detachMatch would release a single match: cascading
// deletion is the only path that tears down a whole subtree of matches at
// once rather than one terminal at a time, and it must not skip the
// DecRef that path implies.
func (m *ByteMachine) releaseStateRef(s *byteState) {
	s.refcount--
	if s.refcount > 0 {
		return
	}
	for sym, t := range s.edges {
		for bm := t.match; bm != nil; bm = bm.nextMatch {
			bm.next.DecRef()
		}
		if t.hasNext() {
			m.releaseStateRef(m.states[t.next])
		}
		delete(s.edges, sym)
	}
	for _, sc := range s.shortcuts {
		m.releaseStateRef(m.states[sc.next])
	}
	s.shortcuts = nil
	delete(m.states, s.id)
}

func stateHasContent(s *byteState) bool {
	return len(s.edges) > 0 || len(s.shortcuts) > 0
}

// invalidateAccelerator rebuilds the wildcard accelerator after the set of
// Wildcard patterns changed. It runs on the writer side, so TransitionOn
// only ever reads m.wildcardAccel.
func (m *ByteMachine) invalidateAccelerator() {
	m.wildcardAccel = nil
	m.ensureWildcardAccelerator()
}

// AllNexts returns every NameState this machine's terminals point at,
// structurally (not value-driven), with duplicates where multiple terminals
// share a destination. Used by engine.Machine.ApproximateObjectCount to walk
// the live object graph from the root NameState.
func (m *ByteMachine) AllNexts() []*NameState {
	var out []*NameState
	for _, s := range m.states {
		for _, t := range s.edges {
			m.collectMatches(t, &out)
		}
	}
	for _, match := range m.direct {
		out = append(out, match.next)
	}
	return out
}
