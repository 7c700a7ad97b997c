package evaluator

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fraser-isbester/kingfisher/pkg/types"
)

// Evaluate decides one condition against one event. It never fails: values
// that cannot be resolved or compared evaluate to false.
func Evaluate(cond types.Condition, event *types.ChangeEvent) types.Verdict {
	value := Resolve(event.State, cond.AttributeID)
	want := coerce(cond.Value)

	status := qualifies(cond, value, want, event.Changes)
	expression := fmt.Sprintf("%s(%s) %s %s", cond.AttributeName, value, cond.Operator, format(want))
	slog.Debug("condition evaluated",
		"condition_id", cond.ID,
		"expression", expression,
		"status", status,
	)
	return types.Verdict{Expression: expression, Status: status}
}

func qualifies(cond types.Condition, value Value, want any, changes map[string]types.Change) bool {
	switch cond.Operator {
	case types.OpEqual, types.OpNotEqual,
		types.OpLess, types.OpLessEqual, types.OpGreater, types.OpGreaterEqual,
		types.OpOneOf, types.OpNoneOf:
		// An unset attribute fails every comparison, != included.
		if !value.Truthy() {
			return false
		}
		ok, err := Compare(cond.Operator, value.Raw(), want)
		if err != nil {
			slog.Debug("condition not comparable", "condition_id", cond.ID, "err", err)
			return false
		}
		return ok

	case types.OpChangedTo:
		change, ok := changes[cond.AttributeID]
		return ok && equal(change.Value, want)

	case types.OpChangedFrom:
		change, ok := changes[cond.AttributeID]
		return ok && equal(change.OldValue, want)

	case types.OpHas:
		return !value.IsNull()

	case types.OpHasNot:
		return value.IsNull()

	case types.OpChanged:
		_, ok := changes[cond.AttributeID]
		return ok
	}
	return false
}

// coerce turns a condition value that reads as an integer into one. Anything
// else is returned unchanged.
func coerce(x any) any {
	s, ok := x.(string)
	if !ok {
		return x
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		return n
	}
	return s
}
