package automaton

import "sync/atomic"

// subRuleSeq is a process-wide monotonic counter. SubRuleContext identity
// must stay comparable (and distinct) across every Machine in a process, the
// same way the teacher's nfa.StateID values are only meaningful within one
// arena but never need to collide with another arena's — here the arena is
// the whole process, so a single atomic counter is simpler than threading a
// per-Machine sequence through every call site.
var subRuleSeq uint64

// SubRuleContext represents one conjunction of required fields: a whole
// rule, or one disjunct of a rule's top-level "$or" (spec.md §6). Reaching
// every field's terminal NameState for a given SubRuleContext means that
// conjunction is satisfied; the owning rule fires once at least one of its
// SubRuleContexts is satisfied and every one of its MustNotExist paths was
// absent from the event.
type SubRuleContext struct {
	ID uint64

	// RuleName is the name of the rule this sub-rule contributes to,
	// exposed so RulesForEvent/RulesForJSONEvent can dedupe: several
	// SubRuleContexts (one per $or branch) can share the same RuleName, but
	// a rule should only be reported once per matching event.
	RuleName string

	// MustNotExist lists field paths that must be absent from the event
	// for this sub-rule to count, i.e. patterns built from
	// pattern.NewExists(false). Checked by the engine after NameMatcher.Match
	// returns, against the full set of paths actually present in the event
	// — absence never depends on other fields' matched values, so it does
	// not need to participate in the NameState progress graph itself.
	MustNotExist []string

	// FieldCount is the total number of value-bearing (non-MustNotExist)
	// patterns this sub-rule requires. It exists for diagnostics
	// (Describe()) only; satisfaction itself is driven entirely by
	// reaching this SubRuleContext's terminal NameState, not by counting.
	FieldCount int
}

// NewSubRuleContext allocates a SubRuleContext with a fresh process-wide ID.
func NewSubRuleContext(ruleName string) *SubRuleContext {
	return &SubRuleContext{ID: atomic.AddUint64(&subRuleSeq, 1), RuleName: ruleName}
}
