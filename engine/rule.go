package engine

import (
	"github.com/coregx/ruler/automaton"
	"github.com/coregx/ruler/pattern"
)

// FieldPatterns is the caller-supplied set of patterns a rule alternative
// requires of one JSON field path. Per spec.md §2's external-collaborator
// boundary, this is the normalized shape the rule-syntax parser is assumed
// to already produce; engine.Machine never parses rule-definition JSON
// itself. A single Exists(false) pattern marks the path as one that must be
// absent from the event rather than a value to match (spec.md §4.7,
// tracked via SubRuleContext.MustNotExist, not threaded into the
// automaton at all); a single Exists(true) pattern is threaded via
// NameState.existsTrue rather than a ByteMachine.
type FieldPatterns struct {
	Path     string
	Patterns []pattern.Pattern
}

// Alternative is one disjunctive branch of a rule: a conjunction of field
// requirements that, taken together, is sufficient for the rule to match
// (spec.md §6's `$or`). A rule with a single Alternative has no `$or` at
// all; AddRule treats both uniformly.
type Alternative []FieldPatterns

// chainStep records one (NameState, field) extension made while threading
// an Alternative through the automaton, so AddRule can roll back every
// step it already took if a later step in the same call fails (spec.md
// §4.6: "addRule... is all-or-nothing"). bm is nil for an Exists(true)
// step, which extends via NameState.existsTrue instead of a ByteMachine.
type chainStep struct {
	from          *automaton.NameState
	field         string
	next          *automaton.NameState
	bm            *automaton.ByteMachine
	addedPatterns []pattern.Pattern
	addedKeys     []string // reuseIndex keys newly set by addedPatterns, same order
	addedExists   bool
}

// undo reverses exactly the structure this step added, leaving any
// previously-existing (field, pattern/exists) -> next association, reached
// from an earlier AddRule call, untouched. It also clears the reuseIndex
// entries it created: leaving them would let a later AddRule believe a
// pattern still threads to `next` after the edge that made that true has
// actually been torn down, reusing a NameState that is no longer reachable
// from the ByteMachine trie instead of rebuilding the edge.
func (s *chainStep) undo() {
	idx := s.from.ReuseIndexFor(s.field)
	if s.addedExists {
		s.from.RemoveExistsTrue(s.field, s.next)
		delete(idx, automaton.ExistsTrueKey)
		return
	}
	for i, p := range s.addedPatterns {
		_ = s.bm.DeletePattern(p, s.next)
		delete(idx, s.addedKeys[i])
	}
	s.from.PruneFieldIfEmpty(s.field)
}

// ruleEntry is one compiled Alternative: the SubRuleContext readers check
// for satisfaction, the terminal NameState it was threaded to, and every
// chainStep taken to build it, needed by DeleteRule to tear it down exactly
// (spec.md §4.6: "deleteRule... reclaims only structure not used by other
// rules").
type ruleEntry struct {
	sub      *automaton.SubRuleContext
	terminal *automaton.NameState
	steps    []*chainStep
}

func isExistsTrue(fp FieldPatterns) bool {
	return len(fp.Patterns) == 1 && fp.Patterns[0].Kind() == pattern.Exists && fp.Patterns[0].ExistsValue()
}

func isExistsFalse(fp FieldPatterns) bool {
	return len(fp.Patterns) == 1 && fp.Patterns[0].Kind() == pattern.Exists && !fp.Patterns[0].ExistsValue()
}

func patternKeys(patterns []pattern.Pattern) []string {
	keys := make([]string, len(patterns))
	for i, p := range patterns {
		keys[i] = p.Key()
	}
	return keys
}

// candidateFor decides, per the reuse rule (spec.md §4.4), which existing
// NameState (if any) an extension by keys should land on: the basic rule
// requires every key in keys already map to the very same NameState in
// idx; the relaxed (additionalNameStateReuse) rule accepts a NameState
// reached by at least one key. Reuse only ever adds edges to an existing
// NameState — it never removes or redirects one — so it cannot change any
// previously-matched event's result.
func candidateFor(idx map[string]*automaton.NameState, keys []string, relaxed bool) (next *automaton.NameState, created bool) {
	var candidate *automaton.NameState
	matchedAll := true
	for _, k := range keys {
		n, ok := idx[k]
		if !ok {
			matchedAll = false
			continue
		}
		if candidate == nil {
			candidate = n
		} else if candidate != n {
			matchedAll = false
		}
	}
	if candidate != nil && (matchedAll || relaxed) {
		return candidate, false
	}
	return nil, true
}

// applyFieldStep threads one FieldPatterns requirement from `from`,
// allocating a fresh NameState via alloc only if reuse does not apply, and
// returns the chainStep describing what it built (for rollback) along with
// the NameState matching now continues from.
func applyFieldStep(from *automaton.NameState, fp FieldPatterns, maxComplexity int, relaxedReuse bool, alloc func() *automaton.NameState) (*chainStep, error) {
	idx := from.ReuseIndexFor(fp.Path)

	if isExistsTrue(fp) {
		next, created := candidateFor(idx, []string{automaton.ExistsTrueKey}, relaxedReuse)
		if created {
			next = alloc()
		}
		added := from.AddExistsTrue(fp.Path, next)
		idx[automaton.ExistsTrueKey] = next
		return &chainStep{from: from, field: fp.Path, next: next, addedExists: added}, nil
	}

	keys := patternKeys(fp.Patterns)
	next, created := candidateFor(idx, keys, relaxedReuse)
	if created {
		next = alloc()
	}

	bm := from.Field(fp.Path)
	var added []pattern.Pattern
	var addedKeys []string
	for i, p := range fp.Patterns {
		if existing, ok := idx[keys[i]]; ok && existing == next {
			continue // already threaded to this exact NameState; AddPattern would duplicate structure
		}
		if _, err := bm.AddPattern(p, next, maxComplexity); err != nil {
			for j, ap := range added {
				_ = bm.DeletePattern(ap, next)
				delete(idx, addedKeys[j])
			}
			from.PruneFieldIfEmpty(fp.Path)
			return nil, err
		}
		added = append(added, p)
		addedKeys = append(addedKeys, keys[i])
		idx[keys[i]] = next
	}
	return &chainStep{from: from, field: fp.Path, next: next, bm: bm, addedPatterns: added, addedKeys: addedKeys}, nil
}
