package orchestrator

import "fmt"

// decodeStringField extracts a required string field from an opaque job
// payload (always a map[string]any once it has round-tripped through the
// queue, since Enqueue callers build payloads from decoded JSON request
// bodies).
func decodeStringField(payload any, field string) (string, error) {
	m, ok := payload.(map[string]any)
	if !ok {
		return "", fmt.Errorf("payload is not an object")
	}
	v, ok := m[field]
	if !ok {
		return "", fmt.Errorf("missing required field %q", field)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("field %q must be a non-empty string", field)
	}
	return s, nil
}

// decodeOptionalString extracts an optional string field, defaulting to "".
func decodeOptionalString(payload any, field string) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[field].(string)
	return s
}

// decodeOptionalInt extracts an optional integer field (JSON numbers decode
// as float64), defaulting to def.
func decodeOptionalInt(payload any, field string, def int) int {
	m, ok := payload.(map[string]any)
	if !ok {
		return def
	}
	switch v := m[field].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

// decodeOptionalBool extracts an optional bool field, defaulting to def.
func decodeOptionalBool(payload any, field string, def bool) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return def
	}
	b, ok := m[field].(bool)
	if !ok {
		return def
	}
	return b
}
