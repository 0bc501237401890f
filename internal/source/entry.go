package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Entry is a single log record as returned by a log store. The schema varies
// per source; accessors take dotted paths ("@fields.http_url") and make the
// "field absent" case explicit.
type Entry map[string]any

// Lookup walks a dotted path through nested objects. A top-level key
// containing dots ("kubernetes.namespace_name") matches as is.
func (e Entry) Lookup(path string) (any, bool) {
	if v, ok := e[path]; ok {
		return v, v != nil
	}

	var cur any = map[string]any(e)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// Has reports whether the path resolves to a non-null value.
func (e Entry) Has(path string) bool {
	_, ok := e.Lookup(path)
	return ok
}

// Str returns the value at path as a string. Numbers and booleans are
// formatted; objects and absent values yield "".
func (e Entry) Str(path string) string {
	s, _ := e.StrOK(path)
	return s
}

// StrOK is Str with an explicit presence flag.
func (e Entry) StrOK(path string) (string, bool) {
	v, ok := e.Lookup(path)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// StrOr returns the string at path or def when it is absent.
func (e Entry) StrOr(path, def string) string {
	if s, ok := e.StrOK(path); ok {
		return s
	}
	return def
}

// Int returns the value at path as an int.
func (e Entry) Int(path string) (int, bool) {
	f, ok := e.Float(path)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Float returns the value at path as a float64. Numeric strings are parsed.
func (e Entry) Float(path string) (float64, bool) {
	v, ok := e.Lookup(path)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns true only when the value at path is the boolean true.
func (e Entry) Bool(path string) bool {
	v, ok := e.Lookup(path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Map returns the object at path, or nil.
func (e Entry) Map(path string) Entry {
	v, ok := e.Lookup(path)
	if !ok {
		return nil
	}
	m, _ := asMap(v)
	return m
}

// Strings returns the list of strings at path. Non-string items are skipped.
func (e Entry) Strings(path string) []string {
	v, ok := e.Lookup(path)
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// JSON renders the value at path (or the whole entry for "") as indented JSON.
// Absent values render as "{}".
func (e Entry) JSON(path string) string {
	var v any = map[string]any(e)
	if path != "" {
		var ok bool
		if v, ok = e.Lookup(path); !ok {
			return "{}"
		}
	}
	out, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Entry:
		return t, true
	default:
		return nil, false
	}
}
