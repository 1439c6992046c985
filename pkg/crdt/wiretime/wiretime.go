// Package wiretime boxes and unboxes time.Time values crossing the CRDT
// wire boundary as { "__type": "Date", "value": <RFC3339Nano> }, so a raw
// time.Time never has to survive a JSON round-trip through a map[string]any
// (where it would otherwise decode back as a plain string).
package wiretime

import "time"

const dateType = "Date"

// Box returns the wire representation of t.
func Box(t time.Time) map[string]any {
	return map[string]any{
		"__type": dateType,
		"value":  t.UTC().Format(time.RFC3339Nano),
	}
}

// IsBoxed reports whether v is a boxed date value.
func IsBoxed(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	typ, ok := m["__type"].(string)
	return ok && typ == dateType
}

// Unbox extracts the time.Time from a boxed date value.
func Unbox(v any) (time.Time, bool) {
	if !IsBoxed(v) {
		return time.Time{}, false
	}
	m := v.(map[string]any)
	raw, ok := m["value"].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MarshalRecordValue walks a record (map[string]any, as decoded from JSON)
// and boxes every time.Time field found at the top level or inside nested
// maps/slices. Typed callers build records with real time.Time values in Go
// code; this is the one place those values get boxed before entering the
// CRDT.
func MarshalRecordValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return Box(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = MarshalRecordValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = MarshalRecordValue(e)
		}
		return out
	default:
		return v
	}
}

// UnmarshalRecordValue is the inverse of MarshalRecordValue: it walks a
// decoded record and unboxes every boxed date back into a time.Time.
func UnmarshalRecordValue(v any) any {
	if IsBoxed(v) {
		if t, ok := Unbox(v); ok {
			return t
		}
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = UnmarshalRecordValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = UnmarshalRecordValue(e)
		}
		return out
	default:
		return v
	}
}
