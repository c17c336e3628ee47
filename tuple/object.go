package tuple

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// decodeObject reads a JSON object into an ordered field list. A repeated
// key keeps its first position and its last value.
func decodeObject(obj []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("not a JSON object")
	}

	var fields []Field
	index := make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", keyTok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}

		if i, seen := index[key]; seen {
			fields[i].Value = value
			continue
		}
		index[key] = len(fields)
		fields = append(fields, Field{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

// marshalFields writes fields as a compact JSON object, skipping any field
// for which skip returns true. Nested objects are filtered the same way.
func marshalFields(fields []Field, skip func(Field) bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range fields {
		if skip != nil && skip(f) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := quote(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
			continue
		}
		value, err := filterValue(f.Value, skip)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// filterValue applies skip inside objects, also those held in arrays.
// Array elements themselves are always kept; scalars pass through.
func filterValue(raw json.RawMessage, skip func(Field) bool) ([]byte, error) {
	if skip == nil {
		return raw, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return raw, nil
	}

	switch trimmed[0] {
	case '{':
		fields, err := decodeObject(trimmed)
		if err != nil {
			return nil, err
		}
		return marshalFields(fields, skip)
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			v, err := filterValue(e, skip)
			if err != nil {
				return nil, err
			}
			buf.Write(v)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return raw, nil
	}
}

// quote encodes s as a JSON string without HTML escaping.
func quote(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Compact returns the tuple's fields as a compact JSON object, leaving out
// any field for which skip returns true, at any depth. A nil skip keeps
// every field and the values verbatim.
func (t Tuple) Compact(skip func(Field) bool) ([]byte, error) {
	return marshalFields(t.fields, skip)
}
