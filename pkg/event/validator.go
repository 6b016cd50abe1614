package event

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError carries per-field messages for a rejected event. The
// ingestion boundary maps it to a client-visible 400.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], "; ")))
	}
	return "event validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// Validate checks a normalized event against the admission schema. It
// returns a *ValidationError with field-level messages on failure, nil
// otherwise.
func Validate(e Event) error {
	verr := &ValidationError{}

	if e.UserRef == "" {
		verr.add("user_ref", "User ref is required")
	}
	if e.PluginID == "" {
		verr.add("plugin_id", "Plugin ID is required")
	}
	if e.Action == "" {
		verr.add("action", "Action is required")
	}

	if !validPayload(e.Context) {
		verr.add("context", "Context must be a map of scalar values or its serialized string form")
	}
	if !validPayload(e.Attributes) {
		verr.add("attributes", "Attributes must be a map of scalar values or its serialized string form")
	}

	if e.Value != nil && !isNumeric(e.Value) {
		verr.add("value", "Value must be numeric")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// validPayload accepts a structured map of scalar values or its serialized
// string form; any other shape fails.
func validPayload(payload interface{}) bool {
	switch p := payload.(type) {
	case nil:
		return true
	case string:
		return true
	case map[string]interface{}:
		for _, v := range p {
			if !isScalar(v) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool:
		return true
	default:
		return isNumeric(v)
	}
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return true
	default:
		return false
	}
}
