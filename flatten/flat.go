package flatten

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// FlatRow parses event as JSON and returns the single flat-multiset Row the
// older semantics (spec.md §6's Open Question on array-of-objects) produce:
// every leaf contributes its (path, value) pair to one shared Row regardless
// of how many array elements or objects it passed through, so an array of
// objects is equivalent to merging every element's fields together rather
// than producing one row per element (contrast with JSONRows).
func FlatRow(event []byte) (*Row, error) {
	if !gjson.ValidBytes(event) {
		return nil, fmt.Errorf("flatten: invalid JSON")
	}
	root := gjson.ParseBytes(event)
	if !root.IsObject() {
		return nil, fmt.Errorf("flatten: top-level event must be a JSON object")
	}
	r := newRow()
	if err := flattenFlatObject(r, "", root); err != nil {
		return nil, err
	}
	return r, nil
}

func flattenFlatValue(r *Row, path string, v gjson.Result) error {
	switch v.Type {
	case gjson.JSON:
		if v.IsArray() {
			return flattenFlatArray(r, path, v)
		}
		return flattenFlatObject(r, path, v)
	default:
		addScalar(r, path, v)
		return nil
	}
}

// flattenFlatObject applies the same last-value-wins duplicate-key
// collapsing as flattenObject (spec.md §6) before recursing into each
// distinct key once.
func flattenFlatObject(r *Row, prefix string, v gjson.Result) error {
	order, latest := lastValuePerKey(v)
	for _, key := range order {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if err := flattenFlatValue(r, path, latest[key]); err != nil {
			return err
		}
	}
	return nil
}

func flattenFlatArray(r *Row, prefix string, v gjson.Result) error {
	var outerErr error
	v.ForEach(func(_, val gjson.Result) bool {
		if err := flattenFlatValue(r, prefix, val); err != nil {
			outerErr = err
			return false
		}
		return true
	})
	return outerErr
}
