package evidence

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// decode parses a raw boundary value. Malformed or null input is reported
// as absent rather than as an error.
func decode(raw json.RawMessage) (any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

// unwrap parses strings that carry an encoded JSON object or array.
// Anything else is returned unchanged.
func unwrap(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return v
	}
	var inner any
	if err := json.Unmarshal([]byte(t), &inner); err != nil {
		return v
	}
	return inner
}

// object returns v as a JSON object, unwrapping string-encoded objects.
func object(v any) (map[string]any, bool) {
	m, ok := unwrap(v).(map[string]any)
	return m, ok
}

// objectOf decodes a raw value as an object.
func objectOf(raw json.RawMessage) map[string]any {
	v, ok := decode(raw)
	if !ok {
		return nil
	}
	m, _ := object(v)
	return m
}

// present reports whether key holds a non-null value.
func present(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// empty reports whether v carries no data.
func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// text renders a scalar or structured value as display text.
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case map[string]any:
		if len(x) == 0 {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// firstString returns the first non-blank string found under keys.
func firstString(m map[string]any, keys ...string) (string, string) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := strings.TrimSpace(text(v)); s != "" {
				return k, s
			}
		}
	}
	return "", ""
}
