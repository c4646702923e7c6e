package engine

// Config controls engine.Machine behavior, modeled on the teacher's
// meta.Config/lazy.Config: a plain struct constructed once via
// DefaultConfig() and passed to NewMachine, with no flag/env parsing layer
// (this is a library, not a CLI — see SPEC_FULL.md's Ambient Stack).
type Config struct {
	// AdditionalNameStateReuse enables the conservative extended NameState
	// reuse described in spec.md §4.4: a fresh (field, patterns) addition
	// may reuse an existing next-NameState as soon as ANY one of its
	// patterns already threads to that NameState, rather than requiring
	// ALL of them to already agree on it. Reuse only ever adds structure
	// (more ways to reach an existing NameState), so this is always safe;
	// it is just more willing to share than the basic rule. Default: false.
	AdditionalNameStateReuse bool

	// RuleOverriding controls what AddRule does when a rule with the same
	// name already exists: false (default) adds the new definition
	// alongside the old one (both are independently matchable, which is
	// usually not what callers want for a re-AddRule of the same name, but
	// matches spec.md §4.6's default); true atomically replaces it.
	RuleOverriding bool

	// PathAllowedMultipleTimes controls whether a single disjunctive
	// alternative may mention the same field path more than once. Default:
	// true. When false, AddRule rejects such an alternative with
	// DuplicatePathError (spec.md §4.6, §6).
	PathAllowedMultipleTimes bool

	// MaxComplexity caps ByteMachine.EvaluateComplexity's wildcard-state
	// budget per field (spec.md §4.3, §4.6): AddRule fails with
	// TooComplexError if adding a pattern would push any field over this
	// bound. Default: 1000.
	MaxComplexity int
}

// DefaultConfig returns the Config new Machines should use absent an
// explicit override, matching the teacher's DefaultConfig() convention.
func DefaultConfig() Config {
	return Config{
		AdditionalNameStateReuse: false,
		RuleOverriding:           false,
		PathAllowedMultipleTimes: true,
		MaxComplexity:            1000,
	}
}
