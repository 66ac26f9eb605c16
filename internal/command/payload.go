package command

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is the argument map handed to every handler.
type Payload map[string]any

// String returns the string value at key, or "" when missing. Numbers are
// formatted so numeric ids survive a JSON round trip.
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the boolean value at key.
func (p Payload) Bool(key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// Decode re-encodes the value at key as JSON and decodes it into out.
func (p Payload) Decode(key string, out any) error {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Raw returns the value at key as JSON. Strings holding JSON are returned
// as-is so that settings blobs pass through untouched.
func (p Payload) Raw(key string) (json.RawMessage, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil, nil
		}
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("%s is not valid JSON", key)
		}
		return json.RawMessage(s), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return raw, nil
}
