package engine

import (
	"sort"
	"sync/atomic"

	"github.com/coregx/ruler/automaton"
	"github.com/coregx/ruler/flatten"
)

// RulesForEvent evaluates one pre-flattened event (fields in any order,
// plus the full set of distinct paths observed in it) and returns the
// deduplicated names of every rule that matches, order unspecified
// (spec.md §6). observedPaths is what lets a sub-rule's Exists(false)
// requirements (SubRuleContext.MustNotExist) be checked: absence from the
// event, not from the matched field set.
//
// AddRule threads each rule's fields into the NameState chain sorted by
// Path (spec.md §4.5: every NameState "only ever holds entries for paths
// greater than or equal to the one that led to it"), so a multi-field
// chain only unlocks in that same order. fields arrives in whatever order
// the flattener (or caller) produced it — raw JSON document order for
// flatten.JSONRows/flatten.FlatRow, not sorted by path — so it is sorted
// here by Path before being handed to the matcher, the same canonical
// order AddRule already committed the automaton to. This is what makes
// matching genuinely order-independent rather than merely tolerant of
// whatever order happened to already agree with the chain.
func (m *Machine) RulesForEvent(fields []automaton.EventField, observedPaths map[string]struct{}) []string {
	ordered := append([]automaton.EventField(nil), fields...)
	sort.SliceStable(ordered, func(a, b int) bool { return ordered[a].Path < ordered[b].Path })

	m.mu.RLock()
	capacity := m.nextNameStateID
	subs := m.matcher.Match(ordered, capacity)
	m.mu.RUnlock()

	atomic.AddUint64(&m.matchCalls, 1)
	return reduce(subs, observedPaths)
}

// reduce filters out sub-rules blocked by an observed MustNotExist path
// and deduplicates by RuleName: several SubRuleContexts (one per `$or`
// branch) can share a RuleName, but a rule fires at most once per event.
func reduce(subs []*automaton.SubRuleContext, observedPaths map[string]struct{}) []string {
	if len(subs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(subs))
	var names []string
	for _, sub := range subs {
		if seen[sub.RuleName] {
			continue
		}
		if subBlockedByMustNotExist(sub, observedPaths) {
			continue
		}
		seen[sub.RuleName] = true
		names = append(names, sub.RuleName)
	}
	return names
}

func subBlockedByMustNotExist(sub *automaton.SubRuleContext, observedPaths map[string]struct{}) bool {
	for _, p := range sub.MustNotExist {
		if _, ok := observedPaths[p]; ok {
			return true
		}
	}
	return false
}

// RulesForJSONEvent parses event as a JSON object and evaluates it under
// the Cartesian-product array-of-objects semantics (spec.md §4.7, §6):
// each row flatten.JSONRows produces is matched independently and the
// rule names are unioned, since an array of objects represents several
// alternative "shapes" the event could be read as, any one of which
// satisfying a rule is enough.
func (m *Machine) RulesForJSONEvent(event []byte) ([]string, error) {
	rows, err := flatten.JSONRows(event)
	if err != nil {
		return nil, &InvalidEventError{Err: err}
	}
	seen := make(map[string]bool)
	var out []string
	for _, row := range rows {
		for _, name := range m.RulesForEvent(row.Fields, row.Paths) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out, nil
}

// RulesForFlatEvent parses event as a JSON object under the flat-multiset
// semantics (spec.md §6's Open Question resolution in SPEC_FULL.md): every
// leaf anywhere in the event, including inside arrays of objects,
// contributes to one shared row.
func (m *Machine) RulesForFlatEvent(event []byte) ([]string, error) {
	row, err := flatten.FlatRow(event)
	if err != nil {
		return nil, &InvalidEventError{Err: err}
	}
	return m.RulesForEvent(row.Fields, row.Paths), nil
}

// RulesForFlatTokens evaluates the "flat event" wire format (spec.md §6):
// an ordered sequence of alternating (pathString, valueString) tokens, the
// shape the out-of-scope upstream tokenizer (spec.md §2) is assumed to
// produce.
func (m *Machine) RulesForFlatTokens(tokens []string) ([]string, error) {
	row, err := flatten.ParseTokens(tokens)
	if err != nil {
		return nil, &InvalidEventError{Err: err}
	}
	return m.RulesForEvent(row.Fields, row.Paths), nil
}
