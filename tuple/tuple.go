// Package tuple defines the flat records that feed the marker map and decodes
// them from JSON payloads.
//
// A payload is a JSON array of objects. Each object must carry an "id"
// (string or number) and numeric "longitude" and "latitude" fields in WGS84
// degrees. The optional "layer", "markerType" and "note" fields select the
// marker layer, the marker icon and the popup text. Every other field is kept,
// in source order, and shows up in the rendered popup and in exports.
//
// Decoding validates the whole payload up front: one malformed element fails
// the payload, so a reconciliation cycle never runs on partial data.
package tuple

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Well-known field names.
const (
	FieldID         = "id"
	FieldLongitude  = "longitude"
	FieldLatitude   = "latitude"
	FieldLayer      = "layer"
	FieldMarkerType = "markerType"
	FieldNote       = "note"
)

var (
	// ErrNotArray is returned when a payload is not a JSON array.
	ErrNotArray = errors.New("payload is not a JSON array")

	// ErrInvalidTuple is returned when an element of a payload is not a
	// valid tuple. It is always wrapped with the element index and reason.
	ErrInvalidTuple = errors.New("invalid tuple")
)

// ID is the string form of a tuple's "id" field. String ids are kept
// verbatim; numeric ids keep their JSON text, so 1 becomes "1".
type ID string

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Field is one key/value pair of a tuple, with the value as raw JSON.
type Field struct {
	Key   string
	Value json.RawMessage
}

// Tuple is a single decoded record.
//
// Layer, MarkerType and Note are empty when the field is absent or null.
// Tuple values are safe to copy; Fields returns a copy of the field list.
type Tuple struct {
	ID         ID
	Longitude  float64
	Latitude   float64
	Layer      string
	MarkerType string
	Note       string

	fields []Field
}

// Fields returns the tuple's fields in source order.
func (t Tuple) Fields() []Field {
	if t.fields == nil {
		return nil
	}
	cp := make([]Field, len(t.fields))
	copy(cp, t.fields)
	return cp
}

// Field returns the raw JSON value of the named field.
func (t Tuple) Field(key string) (json.RawMessage, bool) {
	for _, f := range t.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON writes the tuple back as a JSON object with its fields in
// source order.
func (t Tuple) MarshalJSON() ([]byte, error) {
	return marshalFields(t.fields, nil)
}

// Decode parses a payload into tuples, preserving array order.
//
// An empty array yields an empty, non-nil slice. Any element that fails
// validation fails the whole payload.
func Decode(payload []byte) ([]Tuple, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArray, err)
	}

	tuples := make([]Tuple, 0, len(elems))
	for i, raw := range elems {
		t, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("tuple[%d]: %w", i, err)
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

// Parse parses a single JSON object into a [Tuple].
func Parse(obj []byte) (Tuple, error) {
	fields, err := decodeObject(obj)
	if err != nil {
		return Tuple{}, fmt.Errorf("%w: %v", ErrInvalidTuple, err)
	}
	return fromFields(fields)
}

// fromFields builds a Tuple from an ordered field list.
func fromFields(fields []Field) (Tuple, error) {
	t := Tuple{fields: fields}

	rawID, ok := t.Field(FieldID)
	if !ok || isNull(rawID) {
		return Tuple{}, fmt.Errorf("%w: missing %q", ErrInvalidTuple, FieldID)
	}
	id, err := parseID(rawID)
	if err != nil {
		return Tuple{}, err
	}
	t.ID = id

	if t.Longitude, err = requiredNumber(t, FieldLongitude); err != nil {
		return Tuple{}, err
	}
	if t.Latitude, err = requiredNumber(t, FieldLatitude); err != nil {
		return Tuple{}, err
	}
	if t.Longitude < -180 || t.Longitude > 180 {
		return Tuple{}, fmt.Errorf("%w: %s %v out of range [-180, 180]", ErrInvalidTuple, FieldLongitude, t.Longitude)
	}
	if t.Latitude < -90 || t.Latitude > 90 {
		return Tuple{}, fmt.Errorf("%w: %s %v out of range [-90, 90]", ErrInvalidTuple, FieldLatitude, t.Latitude)
	}

	t.Layer = optionalString(t, FieldLayer)
	t.MarkerType = optionalString(t, FieldMarkerType)
	t.Note = optionalString(t, FieldNote)

	return t, nil
}

// parseID accepts a JSON string or number.
func parseID(raw json.RawMessage) (ID, error) {
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidTuple, FieldID, err)
		}
		if s == "" {
			return "", fmt.Errorf("%w: %q is empty", ErrInvalidTuple, FieldID)
		}
		return ID(s), nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return ID(raw), nil
	default:
		return "", fmt.Errorf("%w: %q must be a string or number, got %s", ErrInvalidTuple, FieldID, raw)
	}
}

// requiredNumber reads a numeric field that must be present.
func requiredNumber(t Tuple, key string) (float64, error) {
	raw, ok := t.Field(key)
	if !ok || isNull(raw) {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidTuple, key)
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q must be a number, got %s", ErrInvalidTuple, key, raw)
	}
	return f, nil
}

// optionalString reads an optional field. Strings are unquoted; any other
// non-null value is kept as its JSON text.
func optionalString(t Tuple, key string) string {
	raw, ok := t.Field(key)
	if !ok || isNull(raw) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
