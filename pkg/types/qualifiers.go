package types

import (
	"encoding/json"
	"fmt"
)

// ConditionID identifies a condition row.
type ConditionID int64

// Webhook is a subscriber-registered rule: a target endpoint, the object
// types it cares about and the conditions that must all hold.
type Webhook struct {
	ID             int64
	SubscriptionID int64
	Name           string
	TargetURL      string
	// ObjectTypes filters by OCM object type. Empty matches every type.
	ObjectTypes  []string
	ConditionIDs []ConditionID
}

// Webhooks travel as [id, sub_id, name, target_url, object_types, conditions].
func (w *Webhook) UnmarshalJSON(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	if len(row) != 6 {
		return fmt.Errorf("webhook: want 6 columns, got %d", len(row))
	}
	var wh Webhook
	fields := []any{&wh.ID, &wh.SubscriptionID, &wh.Name, &wh.TargetURL, &wh.ObjectTypes, &wh.ConditionIDs}
	for i, dst := range fields {
		if err := json.Unmarshal(row[i], dst); err != nil {
			return fmt.Errorf("webhook column %d: %w", i, err)
		}
	}
	*w = wh
	return nil
}

func (w Webhook) MarshalJSON() ([]byte, error) {
	objectTypes := w.ObjectTypes
	if objectTypes == nil {
		objectTypes = []string{}
	}
	conditionIDs := w.ConditionIDs
	if conditionIDs == nil {
		conditionIDs = []ConditionID{}
	}
	return json.Marshal([]any{w.ID, w.SubscriptionID, w.Name, w.TargetURL, objectTypes, conditionIDs})
}

// MatchesObjectType reports whether the webhook applies to objectType.
func (w Webhook) MatchesObjectType(objectType string) bool {
	if len(w.ObjectTypes) == 0 {
		return true
	}
	for _, t := range w.ObjectTypes {
		if t == objectType {
			return true
		}
	}
	return false
}

// Condition is a single comparison over one attribute of an OCM.
type Condition struct {
	ID             ConditionID
	SubscriptionID int64
	AttributeID    string
	AttributeName  string
	Operator       Operator
	// Value is the right-hand side as stored: usually a string, possibly a
	// list for the membership operators. It is coerced at evaluation time.
	Value any
}

// Conditions travel as [id, sub_id, attribute_uuid, attribute_name, operator, value].
func (c *Condition) UnmarshalJSON(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	if len(row) != 6 {
		return fmt.Errorf("condition: want 6 columns, got %d", len(row))
	}
	var cond Condition
	fields := []any{&cond.ID, &cond.SubscriptionID, &cond.AttributeID, &cond.AttributeName, &cond.Operator, &cond.Value}
	for i, dst := range fields {
		if err := json.Unmarshal(row[i], dst); err != nil {
			return fmt.Errorf("condition column %d: %w", i, err)
		}
	}
	*c = cond
	return nil
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{c.ID, c.SubscriptionID, c.AttributeID, c.AttributeName, c.Operator, c.Value})
}
