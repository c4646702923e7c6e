package automaton

import (
	"bytes"

	"github.com/coregx/ruler/pattern"
)

// matchesNegation evaluates an AnythingBut pattern directly against value
// (spec.md §6): value matches iff it falls outside the negated set or fails
// the nested pattern.
func matchesNegation(p pattern.Pattern, value []byte) bool {
	n := p.Negation()
	if n.Nested != nil {
		return !matchesBase(*n.Nested, value)
	}
	for _, lit := range n.Literals {
		if bytes.Equal(lit, value) {
			return false
		}
	}
	return true
}

// matchesBase evaluates one of the pattern kinds AnythingBut is allowed to
// nest (Prefix, Suffix, EqualsIgnoreCase, Wildcard; see
// pattern.NewAnythingButNested) directly against value, independent of any
// trie structure — the nested pattern never gets its own trie presence,
// only this direct evaluation.
func matchesBase(p pattern.Pattern, value []byte) bool {
	switch p.Kind() {
	case pattern.Prefix:
		return bytes.HasPrefix(value, p.Literal())
	case pattern.Suffix:
		return bytes.HasSuffix(value, reverseBytes(p.Literal()))
	case pattern.EqualsIgnoreCase:
		return bytes.Equal(bytes.ToLower(value), p.Literal())
	case pattern.Wildcard:
		return directWildcardMatch(p, value)
	default:
		return false
	}
}
