// Package pattern defines the value-level match kinds the byte machine
// compiles: exact/prefix/suffix literals, case-insensitive equality,
// wildcards, numeric equality and ranges, CIDR, anything-but negation, and
// field existence.
//
// A Pattern is immutable once constructed and, except for Exists, denotes a
// set of byte strings: two Patterns are equal iff their sets are equal by
// construction (spec.md §3). Construction is the only place patterns are
// validated; everything downstream treats a Pattern as already-normalized.
package pattern

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/coregx/ruler/number"
	"github.com/coregx/ruler/numrange"
)

// Kind tags which variant a Pattern holds, mirroring the teacher's
// StateKind-tagged State: a single struct, fields interpreted by Kind.
type Kind uint8

const (
	Exact Kind = iota
	Prefix
	Suffix
	EqualsIgnoreCase
	Wildcard
	NumericEquals
	NumericRange
	AnythingBut
	Exists
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "Exact"
	case Prefix:
		return "Prefix"
	case Suffix:
		return "Suffix"
	case EqualsIgnoreCase:
		return "EqualsIgnoreCase"
	case Wildcard:
		return "Wildcard"
	case NumericEquals:
		return "NumericEquals"
	case NumericRange:
		return "NumericRange"
	case AnythingBut:
		return "AnythingBut"
	case Exists:
		return "Exists"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ErrSyntax is the sentinel wrapped by SyntaxError, the error kind surfaced
// for malformed pattern literals (spec.md §7's PatternSyntaxError).
var ErrSyntax = errors.New("pattern syntax error")

// SyntaxError reports a malformed pattern, naming the offending substring
// and its byte offset, as required by §7's propagation policy.
type SyntaxError struct {
	Pattern string
	Offset  int
	Reason  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("pattern: invalid %q at offset %d: %s", e.Pattern, e.Offset, e.Reason)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// Pattern is a tagged, immutable value-level match specification.
type Pattern struct {
	kind Kind

	// literal holds the matched bytes for Exact/Prefix/EqualsIgnoreCase
	// (case-folded), and the reversed literal for Suffix.
	literal []byte

	// segments holds the literal runs between '*' for Wildcard, decoded
	// (escapes resolved). len(segments) == number of '*' + 1.
	segments [][]byte

	// numRange holds the encoded interval for NumericEquals (a degenerate
	// Lo==Hi, both inclusive) and NumericRange.
	numRange numrange.Range

	// anythingBut holds the negated base pattern or literal set.
	anythingBut *Negation

	// existsValue holds the operand of an Exists pattern.
	existsValue bool
}

// Negation describes the operand of an AnythingBut pattern: either a set of
// homogeneous literals (strings or NumericEquals-encoded numbers) or a
// nested Prefix/Suffix/EqualsIgnoreCase/Wildcard pattern, per spec.md §6.
type Negation struct {
	Literals [][]byte // sorted, deduplicated
	Numeric  bool      // Literals are number.Encode outputs
	Nested   *Pattern  // non-nil for prefix/suffix/equals-ignore-case/wildcard
}

// Kind returns the pattern's variant tag.
func (p Pattern) Kind() Kind { return p.kind }

// Literal returns the matched bytes for Exact/Prefix/EqualsIgnoreCase, and
// the (already-reversed) literal for Suffix. Panics for other kinds.
func (p Pattern) Literal() []byte {
	switch p.kind {
	case Exact, Prefix, Suffix, EqualsIgnoreCase:
		return p.literal
	default:
		panic("pattern: Literal() called on " + p.kind.String())
	}
}

// Segments returns the decoded literal segments of a Wildcard pattern.
func (p Pattern) Segments() [][]byte {
	if p.kind != Wildcard {
		panic("pattern: Segments() called on " + p.kind.String())
	}
	return p.segments
}

// Range returns the encoded interval of a NumericEquals or NumericRange
// pattern.
func (p Pattern) Range() numrange.Range {
	if p.kind != NumericEquals && p.kind != NumericRange {
		panic("pattern: Range() called on " + p.kind.String())
	}
	return p.numRange
}

// Negation returns the operand of an AnythingBut pattern.
func (p Pattern) Negation() *Negation {
	if p.kind != AnythingBut {
		panic("pattern: Negation() called on " + p.kind.String())
	}
	return p.anythingBut
}

// ExistsValue returns the operand of an Exists pattern.
func (p Pattern) ExistsValue() bool {
	if p.kind != Exists {
		panic("pattern: ExistsValue() called on " + p.kind.String())
	}
	return p.existsValue
}

// NewExact builds an ExactMatch pattern over literal bytes (exactly as
// provided; no escaping).
func NewExact(literal []byte) Pattern {
	return Pattern{kind: Exact, literal: append([]byte(nil), literal...)}
}

// NewPrefix builds a PrefixMatch pattern.
func NewPrefix(literal []byte) Pattern {
	return Pattern{kind: Prefix, literal: append([]byte(nil), literal...)}
}

// NewSuffix builds a SuffixMatch pattern. The literal is stored reversed
// (spec.md §4.3: "build as a prefix automaton run against the reversed
// value"), so Literal() already returns the reversed form the byte machine
// wants.
func NewSuffix(literal []byte) Pattern {
	return Pattern{kind: Suffix, literal: reversed(literal)}
}

// NewEqualsIgnoreCase builds an EqualsIgnoreCase pattern; the literal is
// stored case-folded (ASCII fold — case folding is defined over ASCII
// letters only, matching spec.md §4.3's "branches on both cases at each
// ASCII letter").
func NewEqualsIgnoreCase(literal []byte) Pattern {
	return Pattern{kind: EqualsIgnoreCase, literal: []byte(strings.ToLower(string(literal)))}
}

// NewWildcard parses and validates a wildcard literal: '*' is the any-run
// marker, consecutive '*' are forbidden, a trailing unescaped '\' is
// forbidden, and only '*' and '\' are escapable with '\'.
func NewWildcard(literal string) (Pattern, error) {
	segments, err := parseWildcardSegments(literal)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{kind: Wildcard, segments: segments}, nil
}

func parseWildcardSegments(literal string) ([][]byte, error) {
	var segments [][]byte
	var cur []byte
	lastWasStar := false

	for i := 0; i < len(literal); i++ {
		c := literal[i]
		switch c {
		case '\\':
			if i+1 >= len(literal) {
				return nil, &SyntaxError{Pattern: literal, Offset: i, Reason: "trailing backslash"}
			}
			next := literal[i+1]
			if next != '*' && next != '\\' {
				return nil, &SyntaxError{Pattern: literal, Offset: i, Reason: "only '*' and '\\' are escapable"}
			}
			cur = append(cur, next)
			i++
			lastWasStar = false
		case '*':
			if lastWasStar {
				return nil, &SyntaxError{Pattern: literal, Offset: i, Reason: "consecutive '*' are forbidden"}
			}
			segments = append(segments, cur)
			cur = nil
			lastWasStar = true
		default:
			cur = append(cur, c)
			lastWasStar = false
		}
	}
	segments = append(segments, cur)
	return segments, nil
}

// NewNumericEquals builds a NumericEquals pattern from a decimal literal.
func NewNumericEquals(literal string) (Pattern, error) {
	enc, err := number.Encode(literal)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{
		kind: NumericEquals,
		numRange: numrange.Range{
			Lo: enc, LoInclusive: true,
			Hi: enc, HiInclusive: true,
		},
	}, nil
}

// NewNumericRange builds a NumericRange pattern over [lo, hi] with the
// given inclusivity.
func NewNumericRange(lo string, loInclusive bool, hi string, hiInclusive bool) (Pattern, error) {
	r, err := numrange.NumericRange(lo, loInclusive, hi, hiInclusive)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{kind: NumericRange, numRange: r}, nil
}

// NewCIDR builds a NumericRange pattern over a CIDR block (spec.md §4.2).
func NewCIDR(cidr string) (Pattern, error) {
	r, err := numrange.CompileCIDR(cidr)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{kind: NumericRange, numRange: r}, nil
}

// NewAnythingButLiterals builds an AnythingBut pattern negating a set of
// homogeneous string literals.
func NewAnythingButLiterals(literals [][]byte) Pattern {
	return Pattern{kind: AnythingBut, anythingBut: &Negation{Literals: dedupSorted(literals)}}
}

// NewAnythingButNumbers builds an AnythingBut pattern negating a set of
// numeric literals.
func NewAnythingButNumbers(literals []string) (Pattern, error) {
	encoded := make([][]byte, 0, len(literals))
	for _, lit := range literals {
		enc, err := number.Encode(lit)
		if err != nil {
			return Pattern{}, err
		}
		encoded = append(encoded, enc)
	}
	return Pattern{kind: AnythingBut, anythingBut: &Negation{Literals: dedupSorted(encoded), Numeric: true}}, nil
}

// NewAnythingButNested builds an AnythingBut pattern negating a nested
// prefix/suffix/equals-ignore-case/wildcard pattern (spec.md §6).
func NewAnythingButNested(nested Pattern) (Pattern, error) {
	switch nested.kind {
	case Prefix, Suffix, EqualsIgnoreCase, Wildcard:
	default:
		return Pattern{}, &SyntaxError{Reason: "anything-but nesting only supports prefix/suffix/equals-ignore-case/wildcard, got " + nested.kind.String()}
	}
	return Pattern{kind: AnythingBut, anythingBut: &Negation{Nested: &nested}}, nil
}

// NewExists builds an Exists pattern.
func NewExists(value bool) Pattern {
	return Pattern{kind: Exists, existsValue: value}
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

func dedupSorted(lits [][]byte) [][]byte {
	cp := make([][]byte, len(lits))
	copy(cp, lits)
	sortBytes(cp)
	out := cp[:0]
	var prev []byte
	for i, l := range cp {
		if i == 0 || !bytes.Equal(l, prev) {
			out = append(out, l)
			prev = l
		}
	}
	return out
}

func sortBytes(lits [][]byte) {
	// insertion sort: pattern literal sets are small (rule authoring time,
	// not query time), so an O(n^2) sort keeps this dependency-free and
	// avoids importing sort for a handful of elements.
	for i := 1; i < len(lits); i++ {
		for j := i; j > 0 && bytes.Compare(lits[j-1], lits[j]) > 0; j-- {
			lits[j-1], lits[j] = lits[j], lits[j-1]
		}
	}
}

// Key returns a canonical, collision-free string identifying this pattern's
// byte-string set, used by the byte machine to deduplicate identical
// patterns added more than once (spec.md §4.3: addPattern is idempotent up
// to the `next` association).
func (p Pattern) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|", p.kind)
	switch p.kind {
	case Exact, Prefix, Suffix, EqualsIgnoreCase:
		writeLenPrefixed(&b, p.literal)
	case Wildcard:
		for _, seg := range p.segments {
			writeLenPrefixed(&b, seg)
		}
	case NumericEquals, NumericRange:
		fmt.Fprintf(&b, "%v|%v|", p.numRange.LoInclusive, p.numRange.HiInclusive)
		writeLenPrefixed(&b, p.numRange.Lo)
		writeLenPrefixed(&b, p.numRange.Hi)
	case AnythingBut:
		n := p.anythingBut
		if n.Nested != nil {
			b.WriteString("nested:")
			b.WriteString(n.Nested.Key())
		} else {
			fmt.Fprintf(&b, "numeric=%v;", n.Numeric)
			for _, l := range n.Literals {
				writeLenPrefixed(&b, l)
			}
		}
	case Exists:
		fmt.Fprintf(&b, "%v", p.existsValue)
	}
	return b.String()
}

func writeLenPrefixed(b *strings.Builder, v []byte) {
	fmt.Fprintf(b, "%d:", len(v))
	b.Write(v)
}
