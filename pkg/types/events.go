package types

import (
	"encoding/json"
	"strings"
)

// Actions an OCM carries. Only created and updated objects are evaluated.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// ChangeEvent is one object-change notification (OCM): the object's current
// state plus the attributes that changed in this revision. Only the fields
// evaluation reads are decoded; action, subscription_id, ref, project and
// the rest stay opaque and are carried in the raw document.
type ChangeEvent struct {
	ObjectType string            `json:"object_type"`
	State      map[string]any    `json:"state"`
	Changes    map[string]Change `json:"changes"`

	// raw holds the document the event was decoded from so that fields
	// the evaluator does not model are passed through untouched.
	raw json.RawMessage
}

// Change is the delta recorded for one attribute.
type Change struct {
	Value    any `json:"value"`
	OldValue any `json:"old_value"`
}

type changeEvent ChangeEvent

func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	var ce changeEvent
	if err := json.Unmarshal(data, &ce); err != nil {
		return err
	}
	*e = ChangeEvent(ce)
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	if len(e.raw) > 0 {
		return e.raw, nil
	}
	return json.Marshal(changeEvent(e))
}

// Evaluable reports whether action is one the evaluator processes.
func Evaluable(action string) bool {
	switch strings.ToLower(action) {
	case ActionCreated, ActionUpdated:
		return true
	default:
		return false
	}
}
