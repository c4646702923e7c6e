package flatten

import (
	"fmt"

	"github.com/coregx/ruler/number"
	"github.com/tidwall/gjson"
)

// addScalar appends one JSON leaf value at path into r. Numbers get two
// EventFields at the same path: the value's raw JSON text (so Exact/Prefix/
// Suffix/Wildcard patterns written against a number's literal text still
// match it, spec.md §4.1) and its number.Encode'd ComparableNumber form (so
// NumericEquals/NumericRange patterns can match it as a byte range).
// Strings use their decoded text (no quotes, escapes resolved), the same
// form ParseTokens produces. Strings are not converted to IP address bytes,
// so CIDR patterns never match a flattened value. Booleans and null use
// their raw JSON text only; null still registers path as observed, which is
// what distinguishes Exists(false) from "absent".
func addScalar(r *Row, path string, v gjson.Result) {
	switch v.Type {
	case gjson.Number:
		r.add(path, []byte(v.Raw))
		if enc, err := number.Encode(number.CanonicalizeFloat(v.Num)); err == nil {
			r.add(path, enc)
		}
	case gjson.String:
		r.add(path, []byte(v.Str))
	default:
		r.add(path, []byte(v.Raw))
	}
}

// flattenValue dispatches on v's JSON type, building the Cartesian-product
// rows rooted at path (spec.md §4.7: an array of objects multiplies out
// every combination of its elements' own field sets, rather than merging
// them into one row).
func flattenValue(path string, v gjson.Result) ([]*Row, error) {
	switch v.Type {
	case gjson.JSON:
		if v.IsArray() {
			return flattenArray(path, v)
		}
		return flattenObject(path, v)
	default:
		r := newRow()
		addScalar(r, path, v)
		return []*Row{r}, nil
	}
}

// flattenObject folds each of v's keys into the accumulated rows via
// cartesian, after first collapsing repeated keys down to their last
// occurrence (spec.md §6: "Duplicate keys keep the last value") — gjson's
// ForEach walks raw JSON tokens and does not itself deduplicate, so two
// occurrences of the same key would otherwise each contribute their own
// EventField instead of the second silently overwriting the first.
func flattenObject(prefix string, v gjson.Result) ([]*Row, error) {
	order, latest := lastValuePerKey(v)

	rows := []*Row{newRow()}
	for _, key := range order {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		sub, err := flattenValue(path, latest[key])
		if err != nil {
			return nil, err
		}
		rows = cartesian(rows, sub)
	}
	return rows, nil
}

// lastValuePerKey walks v's object keys in document order, keeping only
// the last Result seen for each distinct key name, and also returns the
// distinct keys in first-seen order so iteration stays deterministic.
func lastValuePerKey(v gjson.Result) ([]string, map[string]gjson.Result) {
	var order []string
	latest := make(map[string]gjson.Result)

	v.ForEach(func(key, val gjson.Result) bool {
		k := key.String()
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = val
		return true
	})
	return order, latest
}

func flattenArray(prefix string, v gjson.Result) ([]*Row, error) {
	var rows []*Row
	var outerErr error

	v.ForEach(func(_, val gjson.Result) bool {
		sub, err := flattenValue(prefix, val)
		if err != nil {
			outerErr = err
			return false
		}
		rows = append(rows, sub...)
		return true
	})
	if outerErr != nil {
		return nil, outerErr
	}
	if rows == nil {
		rows = []*Row{newRow()}
	}
	return rows, nil
}

// cartesian combines every row in a with every row in b, the same way
// flattenObject folds one more key's rows into the rows accumulated for its
// sibling keys so far.
func cartesian(a, b []*Row) []*Row {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]*Row, 0, len(a)*len(b))
	for _, ra := range a {
		for _, rb := range b {
			c := ra.clone()
			c.merge(rb)
			out = append(out, c)
		}
	}
	return out
}

// JSONRows parses event as JSON and returns every Cartesian-product row an
// array-of-objects field can produce (spec.md §4.7). A top-level scalar or
// array event (rather than an object) is rejected, matching the teacher's
// treatment of malformed top-level input as a hard parse error rather than
// a silent no-match.
func JSONRows(event []byte) ([]*Row, error) {
	if !gjson.ValidBytes(event) {
		return nil, fmt.Errorf("flatten: invalid JSON")
	}
	root := gjson.ParseBytes(event)
	if !root.IsObject() {
		return nil, fmt.Errorf("flatten: top-level event must be a JSON object")
	}
	return flattenObject("", root)
}
