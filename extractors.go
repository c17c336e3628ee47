package mapboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoArray is returned by the built-in extractors when the selected value
// is not a JSON array.
var ErrNoArray = errors.New("payload is not a JSON array")

// PayloadExtractor selects the record array from a response body.
//
// It returns the raw JSON of the array. Extractors run inside a panic
// recovery boundary: a panic fails that poll with an error carrying a
// correlation ID, and the stack trace is logged.
type PayloadExtractor func(body []byte) ([]byte, error)

// RootArray is the default [PayloadExtractor]: the whole body must be a
// JSON array.
var RootArray PayloadExtractor = func(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNoArray
	}
	return trimmed, nil
}

// FieldArray returns a [PayloadExtractor] that walks a dot-separated path
// into nested objects and returns the array found there.
//
// Object key order inside the array is preserved.
//
// Example:
//
//	// For response: {"data": {"vehicles": [...]}}
//	extractor := mapboard.FieldArray("data.vehicles")
func FieldArray(path string) PayloadExtractor {
	parts := strings.Split(path, ".")

	return func(body []byte) ([]byte, error) {
		current := json.RawMessage(body)
		for i, part := range parts {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(current, &obj); err != nil || obj == nil {
				where := strings.Join(parts[:i], ".")
				if where == "" {
					where = "body"
				}
				return nil, fmt.Errorf("%s: not an object", where)
			}
			next, ok := obj[part]
			if !ok {
				return nil, fmt.Errorf("%s: field not found", strings.Join(parts[:i+1], "."))
			}
			current = next
		}
		array, err := RootArray(current)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return array, nil
	}
}

// FirstMatch returns a [PayloadExtractor] that tries extractors in order and
// returns the first successful result. If all fail, the errors are joined.
//
// Example:
//
//	// Accept both {"items": [...]} and a bare array
//	extractor := mapboard.FirstMatch(mapboard.FieldArray("items"), mapboard.RootArray)
func FirstMatch(extractors ...PayloadExtractor) PayloadExtractor {
	return func(body []byte) ([]byte, error) {
		var errs []error
		for _, extractor := range extractors {
			payload, err := extractor(body)
			if err == nil {
				return payload, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return nil, ErrNoArray
		}
		return nil, errors.Join(errs...)
	}
}
