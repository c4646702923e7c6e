package automaton

import (
	"bytes"

	"github.com/coregx/ahocorasick"
	"github.com/coregx/ruler/pattern"
)

// directWildcardMatch tests value against a Wildcard pattern's ordered
// segments directly (spec.md invariant 8: "segments are matched in the
// order they appear in the pattern and never overlap"). The first segment
// must be a prefix when the pattern doesn't start with '*'; the last must
// be a suffix when it doesn't end with '*'; every segment in between is
// found by scanning forward from the end of the previous match.
func directWildcardMatch(p pattern.Pattern, value []byte) bool {
	segments := p.Segments()
	n := len(segments)

	if n == 1 {
		// No '*' at all: the literal must equal the whole value.
		return bytes.Equal(value, segments[0])
	}

	pos := 0
	first := segments[0]
	if len(first) > 0 {
		if !bytes.HasPrefix(value, first) {
			return false
		}
		pos = len(first)
	}

	last := segments[n-1]
	limit := len(value)
	if len(last) > 0 {
		if !bytes.HasSuffix(value, last) || len(value)-len(last) < pos {
			return false
		}
		limit = len(value) - len(last)
	}

	for i := 1; i < n-1; i++ {
		seg := segments[i]
		if len(seg) == 0 {
			continue // consecutive '*' are rejected at construction time; an
			// interior segment is only ever empty here if it's adjacent to
			// one of the two ends already handled above.
		}
		idx := bytes.Index(value[pos:limit], seg)
		if idx < 0 {
			return false
		}
		pos += idx + len(seg)
	}
	return true
}

// directMatches dispatches a value-level Match test for the two pattern
// kinds the byte machine evaluates directly instead of through shared trie
// structure: Wildcard and AnythingBut.
func directMatches(p pattern.Pattern, value []byte) bool {
	switch p.Kind() {
	case pattern.Wildcard:
		return directWildcardMatch(p, value)
	case pattern.AnythingBut:
		return matchesNegation(p, value)
	default:
		return false
	}
}

// wildcardAccelerator is a cheap existence pre-filter over every non-empty
// segment across a field's Wildcard patterns: if none of those segments
// occur anywhere in a value, no Wildcard pattern on the field can match it,
// so the (potentially many) per-pattern ordered scans can be skipped
// entirely. This mirrors the teacher's own Teddy/prefilter strategy
// (prefilter/teddy.go, meta/strategy.go): a fast reject in front of the
// precise-but-slower per-pattern path, built only once enough literal
// material exists to be worth it (meta/strategy.go's own threshold logic).
type wildcardAccelerator struct {
	automaton *ahocorasick.Automaton
}

// buildWildcardAccelerator compiles every non-empty segment of every
// Wildcard pattern in direct into one automaton, or returns nil if there
// are too few patterns to be worth accelerating, if some Wildcard pattern
// has no non-empty segment (such as "*", which no segment scan can rule
// out), or if the automaton fails to build.
func buildWildcardAccelerator(direct []*Match) *wildcardAccelerator {
	count := 0
	b := ahocorasick.NewBuilder()
	for _, match := range direct {
		if match.pattern.Kind() != pattern.Wildcard {
			continue
		}
		count++
		hasSegment := false
		for _, seg := range match.pattern.Segments() {
			if len(seg) > 0 {
				b.AddPattern(seg)
				hasSegment = true
			}
		}
		if !hasSegment {
			return nil
		}
	}
	if count <= wildcardAhoCorasickThreshold {
		return nil
	}
	auto, err := b.Build()
	if err != nil {
		return nil
	}
	return &wildcardAccelerator{automaton: auto}
}

// mayMatch reports whether value could possibly satisfy any Wildcard
// pattern covered by this accelerator. A false result is authoritative; a
// true result still requires the precise per-pattern check.
func (a *wildcardAccelerator) mayMatch(value []byte) bool {
	if a == nil || a.automaton == nil {
		return true
	}
	return a.automaton.IsMatch(value)
}

// ensureWildcardAccelerator builds the accelerator if it is not present.
// Only invalidateAccelerator calls it, on the writer side.
func (m *ByteMachine) ensureWildcardAccelerator() *wildcardAccelerator {
	if m.wildcardAccel == nil {
		m.wildcardAccel = buildWildcardAccelerator(m.direct)
	}
	return m.wildcardAccel
}
