package emulator

import (
	"cmp"
	"strings"
	"time"

	"github.com/kartikbazzad/bunquery/wire"
)

// matches evaluates a filter against a document. A filter with nested
// filters is their conjunction.
func matches(f *wire.Filter, name string, fields map[string]interface{}) (bool, error) {
	if len(f.Filters) > 0 {
		for i := range f.Filters {
			ok, err := matches(&f.Filters[i], name, fields)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}

	var v interface{} = name
	ok := true
	if f.Field != wire.FieldDocumentName {
		v, ok = lookup(fields, f.Field)
	}
	if !ok {
		// missing fields only satisfy !=
		return f.Op == wire.OpNotEqual, nil
	}

	c, sameKind := compareValues(v, f.Value)
	switch f.Op {
	case wire.OpEqual:
		return sameKind && c == 0, nil
	case wire.OpNotEqual:
		return !sameKind || c != 0, nil
	case wire.OpLessThan:
		return sameKind && c < 0, nil
	case wire.OpLessThanOrEqual:
		return sameKind && c <= 0, nil
	case wire.OpGreaterThan:
		return sameKind && c > 0, nil
	case wire.OpGreaterThanOrEqual:
		return sameKind && c >= 0, nil
	default:
		return false, invalid("unsupported operator %q", f.Op)
	}
}

// lookup resolves a dotted field path.
func lookup(fields map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compareValues orders two field values of the same kind. Values of
// different kinds are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		return 0, a == nil && b == nil
	}
	if x, ok := asFloat(a); ok {
		y, ok := asFloat(b)
		return cmp.Compare(x, y), ok
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return strings.Compare(x, y), ok
	case bool:
		y, ok := b.(bool)
		switch {
		case !ok:
			return 0, false
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		y, ok := b.(time.Time)
		return x.Compare(y), ok
	}
	return 0, false
}
