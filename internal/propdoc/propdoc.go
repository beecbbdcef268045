// Package propdoc splits JSON documents of instance state into top-level
// properties, the unit that persistence providers store and update.
package propdoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDocument is returned for documents that are not JSON objects, or
// whose property names are reserved.
var ErrInvalidDocument = errors.New("invalid instance document")

// Reserved is the prefix of property names kept for provider bookkeeping.
const Reserved = "_"

// Split parses doc into its top-level properties, each kept as compact JSON.
func Split(doc []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrInvalidDocument)
	}
	var props map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &props); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	for name, raw := range props {
		if err := CheckName(name); err != nil {
			return nil, err
		}
		compact, err := Compact(raw)
		if err != nil {
			return nil, err
		}
		props[name] = compact
	}
	return props, nil
}

// Join assembles properties back into a JSON object with sorted keys.
func Join(props map[string]json.RawMessage) ([]byte, error) {
	if props == nil {
		props = map[string]json.RawMessage{}
	}
	doc, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("join properties: %w", err)
	}
	return doc, nil
}

// Encode returns the compact JSON encoding of a property value.
func Encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return Compact(raw)
	}
	p, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode property: %w", err)
	}
	return p, nil
}

// Decode returns the value of a property the way encoding/json decodes into
// an empty interface: numbers are float64 and objects are map[string]any.
func Decode(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode property: %w", err)
	}
	return v, nil
}

// Compact removes insignificant space from a JSON value.
func Compact(raw json.RawMessage) (json.RawMessage, error) {
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	return b.Bytes(), nil
}

// CheckName rejects empty and reserved property names.
func CheckName(name string) error {
	if name == "" || strings.HasPrefix(name, Reserved) {
		return fmt.Errorf("%w: reserved property name %q", ErrInvalidDocument, name)
	}
	return nil
}
