package automaton

import "github.com/coregx/ruler/internal/sparse"

// NameState is one position in the field-path automaton: "every rule whose
// remaining required fields are exactly these, given the fields already
// consistent with it so far." Rules with more than one required field are
// compiled so their fields are visited in a fixed canonical order (sorted by
// path, enforced by the builder above this package); a NameState therefore
// only ever holds entries for paths greater than or equal to the one that
// led to it, which is what lets NameMatcher.Match below run in a single
// pass over an event's sorted fields with no backtracking (spec.md §4.4,
// §4.5: "eager materialization, exact hash lookup, no runtime failure links
// needed").
//
// Every NameState carries a small sequential ID, assigned by its owning
// engine.Machine the same way ByteMachine assigns stateIDs to its own
// arena: not for addressing (NameStates are still held and shared by
// pointer) but so NameMatcher.Match can track its live frontier in a
// sparse.SparseSet instead of a Go map, the same tradeoff the teacher makes
// for NFA state-set tracking during PikeVM simulation.
type NameState struct {
	ID uint32

	fields map[string]*ByteMachine // path -> value automaton for that field

	// existsTrue records, per field, every NameState reached when that
	// field is present in the event with any value — the NameState-level
	// counterpart of ByteMachine's byte-driven matches, used for
	// Exists(true) patterns, which spec.md §4.3 excludes from the byte
	// machine entirely ("not represented in the ByteMachine").
	existsTrue map[string][]*NameState

	// terminalSubRules holds every SubRuleContext whose last required field
	// is satisfied by reaching this NameState.
	terminalSubRules []*SubRuleContext

	// reuseIndex records, per field and pattern key (or the existsTrueKey
	// sentinel), which NameState a previous sub-rule addition already
	// threads that exact (field, pattern) pair to. engine.Machine consults
	// it to implement the NameState reuse rule (spec.md §4.4) without
	// having to ask ByteMachine to reconstruct reachability from its trie.
	reuseIndex map[string]map[string]*NameState

	refcount int // ByteMatches/existsTrue edges (anywhere) pointing at this NameState
}

// ExistsTrueKey is the reuseIndex pattern-key sentinel for Exists(true),
// which has no pattern.Pattern of its own to derive a Key() from. Exported
// so engine.Machine's chain builder can record and look up exists-true
// continuations in the same per-field reuse index it uses for every other
// pattern kind.
const ExistsTrueKey = "\x00exists-true"

// NewNameState returns an empty NameState with the given ID. The root
// NameState of a NameMatcher is just one of these (conventionally ID 0),
// with no incoming references.
func NewNameState(id uint32) *NameState {
	return &NameState{ID: id, fields: make(map[string]*ByteMachine)}
}

// Field returns (creating if absent) the ByteMachine for path.
func (ns *NameState) Field(path string) *ByteMachine {
	bm, ok := ns.fields[path]
	if !ok {
		bm = NewByteMachine(path)
		ns.fields[path] = bm
	}
	return bm
}

// FieldIfPresent returns the ByteMachine for path without creating one.
func (ns *NameState) FieldIfPresent(path string) (*ByteMachine, bool) {
	bm, ok := ns.fields[path]
	return bm, ok
}

// FieldNames returns every field path with a ByteMachine at this NameState,
// used by engine.Machine.ApproximateObjectCount to walk the live graph.
func (ns *NameState) FieldNames() []string {
	out := make([]string, 0, len(ns.fields))
	for f := range ns.fields {
		out = append(out, f)
	}
	return out
}

// PruneFieldIfEmpty removes path's ByteMachine entry once it has no more
// patterns and no states besides its two empty roots, keeping NameState's
// field map from accumulating dead entries across many AddRule/DeleteRule
// cycles.
func (ns *NameState) PruneFieldIfEmpty(path string) {
	bm, ok := ns.fields[path]
	if !ok {
		return
	}
	if len(bm.direct) == 0 && bm.StateCount() <= 2 {
		delete(ns.fields, path)
	}
}

// IsEmpty reports whether this NameState carries no structure at all: no
// field machines, no exists-true edges, no terminal sub-rules. Used by the
// reuse rule (spec.md §4.4) and by pruning during DeleteRule.
func (ns *NameState) IsEmpty() bool {
	return len(ns.fields) == 0 && len(ns.existsTrue) == 0 && len(ns.terminalSubRules) == 0
}

// IsGarbage reports whether ns has become unreachable and can be reclaimed,
// per spec.md §3: "A NameState is garbage iff its reference count is zero
// and it carries no terminal sub-rules." (IsEmpty is slightly stronger:
// DeleteRule only needs to check garbage collection once fields/existsTrue
// are already pruned down, at which point the two coincide.)
func (ns *NameState) IsGarbage() bool {
	return ns.refcount <= 0 && len(ns.terminalSubRules) == 0
}

// Refcount reports the current number of ByteMatches/existsTrue edges that
// reference ns, exposed for tests asserting on reclamation.
func (ns *NameState) Refcount() int { return ns.refcount }

// IncRef increments ns's reference count. Called whenever a new ByteMatch
// or existsTrue edge is created pointing at ns.
func (ns *NameState) IncRef() { ns.refcount++ }

// DecRef decrements ns's reference count. Called whenever a ByteMatch or
// existsTrue edge pointing at ns is torn down.
func (ns *NameState) DecRef() {
	if ns.refcount > 0 {
		ns.refcount--
	}
}

// Reusable reports whether ns can serve as the `next` NameState for a fresh
// (field, pattern) addition that must eventually lead to exactly the sub-rule
// set wanted, per the basic reuse rule (spec.md §4.4): ns is reusable when it
// is otherwise empty (nothing else depends on its shape) or, under
// additionalNameStateReuse, when every one of its existing field machines is
// also one the new continuation would need (a conservative superset check
// left to the caller, which holds the full picture of what's being added).
func (ns *NameState) Reusable(additionalNameStateReuse bool) bool {
	if ns.IsEmpty() {
		return true
	}
	return additionalNameStateReuse
}

// AddTerminal records that sub registers as complete when matching reaches
// ns.
func (ns *NameState) AddTerminal(sub *SubRuleContext) {
	for _, existing := range ns.terminalSubRules {
		if existing == sub {
			return
		}
	}
	ns.terminalSubRules = append(ns.terminalSubRules, sub)
}

// RemoveTerminal undoes AddTerminal.
func (ns *NameState) RemoveTerminal(sub *SubRuleContext) {
	for i, existing := range ns.terminalSubRules {
		if existing == sub {
			ns.terminalSubRules = append(ns.terminalSubRules[:i], ns.terminalSubRules[i+1:]...)
			return
		}
	}
}

// ReuseIndexFor returns (creating if absent) the pattern-key -> NameState
// map for field at ns, used by engine.Machine's chain builder to decide
// reuse and record new (field, patternKey) -> next associations.
func (ns *NameState) ReuseIndexFor(field string) map[string]*NameState {
	if ns.reuseIndex == nil {
		ns.reuseIndex = make(map[string]map[string]*NameState)
	}
	idx, ok := ns.reuseIndex[field]
	if !ok {
		idx = make(map[string]*NameState)
		ns.reuseIndex[field] = idx
	}
	return idx
}

// ExistsTrueFields returns every field with at least one Exists(true) edge
// at this NameState, used by engine.Machine.ApproximateObjectCount.
func (ns *NameState) ExistsTrueFields() []string {
	out := make([]string, 0, len(ns.existsTrue))
	for f := range ns.existsTrue {
		out = append(out, f)
	}
	return out
}

// ExistsTrueEdges returns every NameState reached when field is present in
// the event, regardless of value.
func (ns *NameState) ExistsTrueEdges(field string) []*NameState {
	return ns.existsTrue[field]
}

// AddExistsTrue records that observing field present (with any value)
// advances matching from ns to next, for an Exists(true) pattern. Returns
// false if this exact (field, next) edge already existed (idempotent).
func (ns *NameState) AddExistsTrue(field string, next *NameState) bool {
	if ns.existsTrue == nil {
		ns.existsTrue = make(map[string][]*NameState)
	}
	for _, n := range ns.existsTrue[field] {
		if n == next {
			return false
		}
	}
	ns.existsTrue[field] = append(ns.existsTrue[field], next)
	next.IncRef()
	return true
}

// RemoveExistsTrue undoes one AddExistsTrue(field, next) call.
func (ns *NameState) RemoveExistsTrue(field string, next *NameState) bool {
	edges := ns.existsTrue[field]
	for i, n := range edges {
		if n != next {
			continue
		}
		ns.existsTrue[field] = append(edges[:i], edges[i+1:]...)
		if len(ns.existsTrue[field]) == 0 {
			delete(ns.existsTrue, field)
		}
		next.DecRef()
		return true
	}
	return false
}

// EventField is one flattened (path, value) pair from an event, tagged with
// the byte encoding NameMatcher.Match should feed into the path's
// ByteMachine: raw bytes for strings, number.Encode output for numbers
// (package flatten produces these, often two EventFields per numeric leaf —
// see its doc comment).
type EventField struct {
	Path  string
	Value []byte
}

// NameMatcher drives the field-path automaton across one event's fields.
// Match makes a single forward pass over fields, advancing the live
// frontier (tracked by NameState.ID via sparse.SparseSet) as each field is
// consumed; it never revisits an earlier field against a NameState reached
// later, so fields must already arrive in the same canonical order AddRule
// threaded a sub-rule's own fields in — non-decreasing by Path (spec.md
// §4.5). Match itself does no sorting: callers that cannot guarantee their
// input is already in that order (engine.Machine.RulesForEvent, since the
// flattener preserves raw document order) must sort fields by Path before
// calling Match, which is what makes matching insensitive to the order
// fields were encountered in the original event.
type NameMatcher struct {
	Root *NameState
}

// NewNameMatcher returns a matcher with a fresh, empty root (ID 0).
func NewNameMatcher() *NameMatcher {
	return &NameMatcher{Root: NewNameState(0)}
}

// Match runs fields through the automaton and returns every SubRuleContext
// whose required fields were all satisfied. fields must already be ordered
// non-decreasing by Path (see the NameMatcher doc comment); capacity must
// be at least one greater than the highest NameState.ID currently reachable
// in this matcher's graph (engine.Machine tracks this as NameStates are
// allocated).
func (nm *NameMatcher) Match(fields []EventField, capacity uint32) []*SubRuleContext {
	seen := sparse.NewSparseSet(capacity)
	seen.Insert(nm.Root.ID)
	frontier := []*NameState{nm.Root}
	results := append([]*SubRuleContext(nil), nm.Root.terminalSubRules...)

	advance := func(next *NameState) *NameState {
		if seen.Contains(next.ID) {
			return nil
		}
		seen.Insert(next.ID)
		results = append(results, next.terminalSubRules...)
		return next
	}

	for _, f := range fields {
		var advanced []*NameState
		for _, ns := range frontier {
			if bm, ok := ns.fields[f.Path]; ok {
				for _, next := range bm.TransitionOn(f.Value) {
					if n := advance(next); n != nil {
						advanced = append(advanced, n)
					}
				}
			}
			for _, next := range ns.existsTrue[f.Path] {
				if n := advance(next); n != nil {
					advanced = append(advanced, n)
				}
			}
		}
		frontier = append(frontier, advanced...)
	}
	return results
}
