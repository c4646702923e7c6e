// Package engine is the concurrency-safe rule store: it owns the
// automaton.NameMatcher root, threads rule definitions through it via the
// reuse-aware chain builder in rule.go, and answers RulesForEvent/
// RulesForJSONEvent/RulesForFlatEvent queries against it (spec.md §2's
// "Rule store & matcher core").
package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coregx/ruler/automaton"
)

// Machine is the concurrency-safe rule store. A single sync.RWMutex guards
// the entire automaton graph: AddRule/DeleteRule take the write lock and
// either complete in full or leave the graph exactly as it was (spec.md
// §4.6, §5); RulesForEvent and friends take only the read lock, so any
// number of them run concurrently with each other, never with a writer
// (spec.md §5's reader-writer model, the same shape as the teacher's own
// lazy-DFA cache guarding concurrent determinization).
type Machine struct {
	mu sync.RWMutex

	cfg             Config
	matcher         *automaton.NameMatcher
	nextNameStateID uint32
	rules           map[string][]*ruleEntry

	stats      Stats
	matchCalls uint64 // tracked outside mu: readers must never block each other
}

// NewMachine returns an empty Machine configured by cfg.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		cfg:             cfg,
		matcher:         automaton.NewNameMatcher(),
		nextNameStateID: 1, // root already holds ID 0
		rules:           make(map[string][]*ruleEntry),
	}
}

func (m *Machine) allocNameState() *automaton.NameState {
	id := m.nextNameStateID
	m.nextNameStateID++
	return automaton.NewNameState(id)
}

// IsEmpty reports whether the machine currently holds no rules.
func (m *Machine) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules) == 0
}

// AddRule compiles every alternative (each a conjunction of field
// requirements; more than one models a rule's `$or`) and threads them into
// the shared automaton, honoring the reuse rule (spec.md §4.4) and
// Config.AdditionalNameStateReuse. The whole call is all-or-nothing: if any
// alternative fails construction (PatternSyntaxError-wrapping callers,
// NumericOutOfRange, TooComplexError, or DuplicatePathError), every
// alternative already built in this call is rolled back before AddRule
// returns, and the machine is left exactly as it was found (spec.md §4.6).
//
// With Config.RuleOverriding false (the default), re-adding a name already
// present is additive: both definitions remain independently matchable.
// With it true, the new definition atomically replaces the old one.
func (m *Machine) AddRule(name string, alternatives []Alternative) error {
	if len(alternatives) == 0 {
		return &InvalidRuleError{RuleName: name, Reason: "rule has no alternatives"}
	}

	prepared := make([]Alternative, len(alternatives))
	for i, alt := range alternatives {
		if len(alt) == 0 {
			return &InvalidRuleError{RuleName: name, Reason: "alternative has no field requirements"}
		}
		sorted := append(Alternative(nil), alt...)
		sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Path < sorted[b].Path })
		if !m.cfg.PathAllowedMultipleTimes {
			for j := 1; j < len(sorted); j++ {
				if sorted[j].Path == sorted[j-1].Path {
					return &DuplicatePathError{RuleName: name, Path: sorted[j].Path}
				}
			}
		}
		prepared[i] = sorted
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]*ruleEntry, 0, len(prepared))
	for _, alt := range prepared {
		entry, err := m.buildAlternative(name, alt)
		if err != nil {
			for _, e := range entries {
				m.teardownEntry(e)
			}
			return err
		}
		entries = append(entries, entry)
	}

	if old, ok := m.rules[name]; ok && m.cfg.RuleOverriding {
		for _, e := range old {
			m.teardownEntry(e)
		}
		m.stats.RulesDeleted++
		m.stats.SubRulesDeleted += uint64(len(old))
		m.rules[name] = entries
	} else {
		m.rules[name] = append(m.rules[name], entries...)
	}
	m.stats.RulesAdded++
	m.stats.SubRulesAdded += uint64(len(entries))
	return nil
}

// buildAlternative threads one Alternative through the automaton from the
// root, splitting off Exists(false) requirements into sub.MustNotExist
// (spec.md §4.7: absence is checked after matching, never threaded into
// the field-progress graph) and building one chainStep per remaining
// field.
func (m *Machine) buildAlternative(name string, alt Alternative) (*ruleEntry, error) {
	sub := automaton.NewSubRuleContext(name)
	var steps []*chainStep
	cur := m.matcher.Root
	fieldCount := 0

	for _, fp := range alt {
		if isExistsFalse(fp) {
			sub.MustNotExist = append(sub.MustNotExist, fp.Path)
			continue
		}
		step, err := applyFieldStep(cur, fp, m.cfg.MaxComplexity, m.cfg.AdditionalNameStateReuse, m.allocNameState)
		if err != nil {
			for i := len(steps) - 1; i >= 0; i-- {
				steps[i].undo()
			}
			return nil, err
		}
		steps = append(steps, step)
		cur = step.next
		fieldCount++
	}

	sub.FieldCount = fieldCount
	cur.AddTerminal(sub)
	return &ruleEntry{sub: sub, terminal: cur, steps: steps}, nil
}

func (m *Machine) teardownEntry(e *ruleEntry) {
	e.terminal.RemoveTerminal(e.sub)
	for i := len(e.steps) - 1; i >= 0; i-- {
		e.steps[i].undo()
	}
}

// DeleteRule removes every alternative registered under name, reclaiming
// any automaton structure that becomes unreferenced as a result but
// leaving structure still shared with other rules untouched (spec.md
// §4.6). Deleting a name that does not exist returns ErrRuleNotFound,
// which per spec.md §7 callers are expected to treat as a non-fatal,
// idempotent outcome.
func (m *Machine) DeleteRule(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.rules[name]
	if !ok {
		return ErrRuleNotFound
	}
	for _, e := range entries {
		m.teardownEntry(e)
	}
	delete(m.rules, name)
	m.stats.RulesDeleted++
	m.stats.SubRulesDeleted += uint64(len(entries))
	return nil
}

// ApproximateObjectCount walks the live automaton graph reachable from the
// root and counts NameStates plus every ByteState each field's ByteMachine
// currently owns. It is a structural recount on every call rather than an
// incremental counter, which sidesteps having to keep a running total in
// sync with NameState reuse/garbage-collection: invariant 3 (spec.md §8 —
// "after an equal number of adds and deletes of the same rule, the count
// returns to its prior value") holds because the walk only ever sees
// currently-reachable structure, by construction.
func (m *Machine) ApproximateObjectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[*automaton.NameState]bool)
	count := 0

	var visit func(ns *automaton.NameState)
	visit = func(ns *automaton.NameState) {
		if ns == nil || seen[ns] {
			return
		}
		seen[ns] = true
		count++

		for _, f := range ns.FieldNames() {
			bm, ok := ns.FieldIfPresent(f)
			if !ok {
				continue
			}
			count += bm.StateCount()
			for _, next := range bm.AllNexts() {
				visit(next)
			}
		}
		for _, f := range ns.ExistsTrueFields() {
			for _, next := range ns.ExistsTrueEdges(f) {
				visit(next)
			}
		}
	}
	visit(m.matcher.Root)
	return count
}

// Describe returns a deterministic, human-readable dump of every rule
// currently registered, for tests and debugging only — never consulted by
// matching logic (spec.md §8's end-to-end scenarios use this shape to
// assert structural expectations without reaching into automaton
// internals).
func (m *Machine) Describe() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.rules))
	for name := range m.rules {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		entries := m.rules[name]
		fmt.Fprintf(&b, "%s: %d sub-rule(s)\n", name, len(entries))
		for _, e := range entries {
			fmt.Fprintf(&b, "  fields=%d mustNotExist=%v\n", e.sub.FieldCount, e.sub.MustNotExist)
		}
	}
	return b.String()
}

// StatsSnapshot returns a point-in-time copy of the machine's diagnostic
// counters.
func (m *Machine) StatsSnapshot() Stats {
	m.mu.RLock()
	stats := m.stats
	m.mu.RUnlock()
	stats.MatchCalls = atomic.LoadUint64(&m.matchCalls)
	return stats
}
