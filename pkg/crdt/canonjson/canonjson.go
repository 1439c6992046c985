// Package canonjson encodes arbitrary JSON-shaped values (maps, slices,
// scalars decoded via encoding/json) with map keys sorted, so that two
// values that are equal under Go's == on their decoded form always
// produce byte-identical output. Document.EncodeStateAsUpdate relies on
// this for round-trip byte-equality at quiescence.
package canonjson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal encodes v as canonical JSON: object keys sorted lexicographically,
// no extra whitespace.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		return encodeObject(buf, val)
	case []any:
		return encodeArray(buf, val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonjson: %w", err)
		}
		buf.Write(data)
		return nil
	}
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		if err := encode(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// Unmarshal decodes canonical JSON the same way encoding/json would;
// canonical form is only an output property.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
