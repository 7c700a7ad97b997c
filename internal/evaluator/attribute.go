package evaluator

import (
	"encoding/json"
	"strconv"
)

type presence int

const (
	present presence = iota
	// absent: the attribute is not in the event state at all.
	absent
	// noValueKey: the attribute is in the state but carries no value field.
	noValueKey
)

// Value is an attribute value resolved from an event's state. The zero
// Value is a present null.
type Value struct {
	raw      any
	presence presence
}

// Resolve extracts the usable value of attributeID from state.
//
// State entries are attribute records of the form {"name": ..., "type": ...,
// "value": v}. When v is a non-empty object it is unwrapped once, preferring
// its "value" field, then its "name" field; otherwise v is kept as is. An
// entry that is not an object is taken as the value itself.
func Resolve(state map[string]any, attributeID string) Value {
	entry, ok := state[attributeID]
	if !ok {
		return Value{presence: absent}
	}
	record, ok := entry.(map[string]any)
	if !ok {
		return Value{raw: entry}
	}
	v, ok := record["value"]
	if !ok {
		return Value{presence: noValueKey}
	}
	if wrapper, ok := v.(map[string]any); ok && len(wrapper) > 0 {
		if inner, ok := wrapper["value"]; ok {
			return Value{raw: inner}
		}
		if name, ok := wrapper["name"]; ok {
			return Value{raw: name}
		}
	}
	return Value{raw: v}
}

// Raw returns the resolved value, nil when there is none.
func (v Value) Raw() any {
	if v.presence != present {
		return nil
	}
	return v.raw
}

// IsNull reports whether the attribute has no value: absent, without a value
// field, or null.
func (v Value) IsNull() bool {
	return v.presence != present || v.raw == nil
}

// Truthy reports whether the value counts as set for the comparison
// operators. Null, empty strings and collections, zero and false do not.
func (v Value) Truthy() bool {
	if v.IsNull() {
		return false
	}
	return truthy(v.raw)
}

func (v Value) String() string {
	switch v.presence {
	case absent:
		return "<absent>"
	case noValueKey:
		return "<no value key>"
	}
	return format(v.raw)
}

func truthy(x any) bool {
	switch t := x.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// format renders a value for expression strings.
func format(x any) string {
	switch t := x.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "?"
		}
		return string(b)
	}
}
