package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidRule is wrapped by InvalidRuleError, returned when AddRule is
// given a rule with no alternatives or an alternative with no fields
// (spec.md §7).
var ErrInvalidRule = errors.New("engine: invalid rule")

// InvalidRuleError names the rule and the reason it was rejected.
type InvalidRuleError struct {
	RuleName string
	Reason   string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("engine: rule %q is invalid: %s", e.RuleName, e.Reason)
}

func (e *InvalidRuleError) Unwrap() error { return ErrInvalidRule }

// ErrDuplicatePath is wrapped by DuplicatePathError, returned when
// Config.PathAllowedMultipleTimes is false and a single alternative mentions
// the same field path more than once (spec.md §4.6, §7).
var ErrDuplicatePath = errors.New("engine: duplicate path")

// DuplicatePathError names the rule and the path that appeared twice in one
// disjunctive alternative.
type DuplicatePathError struct {
	RuleName string
	Path     string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("engine: rule %q: path %q appears more than once in one alternative", e.RuleName, e.Path)
}

func (e *DuplicatePathError) Unwrap() error { return ErrDuplicatePath }

// ErrInvalidEvent is wrapped by InvalidEventError, returned by RulesForEvent/
// RulesForJSONEvent when the event cannot be parsed (spec.md §5, §7: "A
// reader that encounters a malformed event fails the individual call with
// InvalidEvent; the machine is unaffected.").
var ErrInvalidEvent = errors.New("engine: invalid event")

// InvalidEventError wraps the underlying parse failure.
type InvalidEventError struct {
	Err error
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("engine: invalid event: %v", e.Err)
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// ErrRuleNotFound is returned by DeleteRule when name names no rule
// currently in the machine. Per spec.md §7 ("PatternNotFound is absorbed
// silently... deleteRule is idempotent"), callers are expected to treat this
// as a non-fatal outcome; it is exported only so tests and diagnostics can
// distinguish a no-op delete from one that actually removed something.
var ErrRuleNotFound = errors.New("engine: rule not found")
