package feed

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// The upstream document is decoded into an untyped tree of
// map[string]any, []any, string, json.Number, float64, bool and nil.
// These accessors never fail; missing or oddly shaped values collapse to
// empty results.

// AsList normalizes a value to a list: nil becomes empty, a list is
// returned as is, anything else becomes a singleton.
func AsList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// AsObject returns v as an object, taking the first element of a list
func AsObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		return AsObject(t[0])
	default:
		return nil
	}
}

// UnwrapScalar peels wrapping off a leaf: lists yield their first element
// and objects yield their "value" key, or failing that their "text" key.
// Unwrapping repeats until a non-container value is reached.
func UnwrapScalar(v any) any {
	for {
		switch t := v.(type) {
		case []any:
			if len(t) == 0 {
				return nil
			}
			v = t[0]
		case map[string]any:
			if inner, ok := lookup(t, "value"); ok {
				v = inner
			} else if inner, ok := lookup(t, "text"); ok {
				v = inner
			} else {
				return nil
			}
		default:
			return t
		}
	}
}

// Text renders a leaf as a string; missing values become ""
func Text(v any) string {
	switch t := UnwrapScalar(v).(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Number coerces a leaf to a finite float. ok is false when the value is
// missing, unparsable or not finite.
func Number(v any) (float64, bool) {
	var f float64
	switch t := UnwrapScalar(v).(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Field returns the first of names present with a non-nil value in obj.
// Exact keys are tried before a case-insensitive match.
func Field(obj map[string]any, names ...string) any {
	if obj == nil {
		return nil
	}
	for _, name := range names {
		if v, ok := lookup(obj, name); ok && v != nil {
			return v
		}
	}
	return nil
}

// FirstText returns the first non-empty Text among the named fields
func FirstText(obj map[string]any, names ...string) string {
	for _, name := range names {
		if s := Text(Field(obj, name)); s != "" {
			return s
		}
	}
	return ""
}

// Path walks keys from root. Every step accepts a single object or a list
// of objects, so the result is the flattened list of values found.
func Path(root any, keys ...string) []any {
	current := AsList(root)
	for _, key := range keys {
		var next []any
		for _, node := range current {
			obj, ok := node.(map[string]any)
			if !ok {
				continue
			}
			next = append(next, AsList(Field(obj, key))...)
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// FirstNonEmptyPath returns the values at the first path that resolves to
// something non-empty
func FirstNonEmptyPath(root any, paths ...[]string) []any {
	for _, p := range paths {
		if values := Path(root, p...); hasContent(values) {
			return values
		}
	}
	return nil
}

func hasContent(values []any) bool {
	for _, v := range values {
		switch t := v.(type) {
		case nil:
			continue
		case map[string]any:
			if len(t) > 0 {
				return true
			}
		case []any:
			if len(t) > 0 {
				return true
			}
		case string:
			if t != "" {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func lookup(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	// several keys may differ only by case; take the smallest so the
	// answer does not depend on map order
	match, found := "", false
	for k := range obj {
		if strings.EqualFold(k, key) && (!found || k < match) {
			match, found = k, true
		}
	}
	if !found {
		return nil, false
	}
	return obj[match], true
}
