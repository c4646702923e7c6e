package flatten

import (
	"fmt"
	"strconv"

	"github.com/coregx/ruler/number"
)

// ParseTokens builds a flat-multiset Row from the "flat event" wire format
// (spec.md §6): an ordered sequence of alternating (pathString, valueString)
// tokens, where a string value arrives already JSON-quoted and numbers/
// booleans arrive as raw literals. This is the format produced by the
// upstream tokenizer spec.md §2 treats as an out-of-scope external
// collaborator; ParseTokens is the boundary that turns its output into
// EventFields.
func ParseTokens(tokens []string) (*Row, error) {
	if len(tokens)%2 != 0 {
		return nil, fmt.Errorf("flatten: odd number of tokens, expected alternating path/value pairs")
	}
	r := newRow()
	for i := 0; i < len(tokens); i += 2 {
		path, raw := tokens[i], tokens[i+1]
		if err := addRawToken(r, path, raw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// addRawToken decodes one valueString token and appends it to r at path.
// Quoted tokens are string literals (JSON-unescaped); "true"/"false" are
// booleans; "null" is the null literal; anything else must parse as a
// decimal number, which also gets the dual raw-text/ComparableNumber
// encoding addScalar gives JSON numbers.
func addRawToken(r *Row, path, raw string) error {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("flatten: invalid quoted token %q for path %q: %w", raw, path, err)
		}
		r.add(path, []byte(s))
		return nil
	}
	switch raw {
	case "true", "false", "null":
		r.add(path, []byte(raw))
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("flatten: unrecognized token %q for path %q", raw, path)
	}
	r.add(path, []byte(raw))
	if enc, err := number.Encode(number.CanonicalizeFloat(f)); err == nil {
		r.add(path, enc)
	}
	return nil
}
