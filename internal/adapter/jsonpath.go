package adapter

import (
	"sort"
	"strconv"
	"strings"
)

// lookupPath walks a decoded JSON value by dotted path, e.g.
// "data.items.0.title". Segments index objects by key and arrays by
// decimal position.
func lookupPath(v any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch t := cur.(type) {
		case map[string]any:
			next, ok := t[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, false
			}
			cur = t[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// pathString resolves path and renders the value as a string. Numbers
// keep their shortest decimal form so downstream raw-string parsers
// see "4.5" rather than "4.500000".
func pathString(v any, path string) string {
	val, ok := lookupPath(v, path)
	if !ok {
		return ""
	}
	switch t := val.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// firstObjectArray finds the first array-of-objects in a decoded JSON
// document: the root itself, or a top-level value, keys scanned in
// sorted order so the fallback is deterministic.
func firstObjectArray(v any) ([]any, bool) {
	if arr, ok := objectArray(v); ok {
		return arr, true
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if arr, ok := objectArray(obj[k]); ok {
			return arr, true
		}
	}
	return nil, false
}

func objectArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	if _, ok := arr[0].(map[string]any); !ok {
		return nil, false
	}
	return arr, true
}
