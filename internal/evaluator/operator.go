package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fraser-isbester/kingfisher/pkg/types"
)

// ErrIncomparable is returned when an ordered comparison is asked of values
// that have no common order, such as a string and a number.
var ErrIncomparable = errors.New("incomparable values")

// Compare applies a value operator to a resolved attribute value and a
// coerced condition value. The change and existence operators do not
// compare values and are rejected.
func Compare(op types.Operator, left, right any) (bool, error) {
	switch op {
	case types.OpEqual:
		return equal(left, right), nil
	case types.OpNotEqual:
		return !equal(left, right), nil
	case types.OpLess:
		c, err := order(left, right)
		return err == nil && c < 0, err
	case types.OpLessEqual:
		c, err := order(left, right)
		return err == nil && c <= 0, err
	case types.OpGreater:
		c, err := order(left, right)
		return err == nil && c > 0, err
	case types.OpGreaterEqual:
		c, err := order(left, right)
		return err == nil && c >= 0, err
	case types.OpOneOf:
		return member(left, right), nil
	case types.OpNoneOf:
		return !member(left, right), nil
	case types.OpChangedTo, types.OpChangedFrom, types.OpHas, types.OpHasNot, types.OpChanged:
		return false, fmt.Errorf("operator %s does not compare values", op)
	}
	return false, fmt.Errorf("unknown operator %s", op)
}

// number reads x as a numeric value. Booleans count as 0 and 1 so that
// conditions like "= 1" match a true attribute.
func number(x any) (float64, bool) {
	switch t := x.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

// equal compares numbers by value regardless of representation; any other
// pairing must match in type and value.
func equal(a, b any) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	}
	return false
}

func order(a, b any) (int, error) {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("%w: %T and %T", ErrIncomparable, a, b)
}

func member(x any, set any) bool {
	for _, candidate := range candidates(set) {
		if equal(x, candidate) {
			return true
		}
	}
	return false
}

// candidates reads the right-hand side of a membership condition as a list:
// a JSON array as is, a string holding a JSON array, a comma separated
// string, or a single value.
func candidates(set any) []any {
	switch t := set.(type) {
	case nil:
		return nil
	case []any:
		return t
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "[") {
			var list []any
			if err := json.Unmarshal([]byte(s), &list); err == nil {
				return list
			}
		}
		parts := strings.Split(s, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, coerce(strings.TrimSpace(p)))
		}
		return out
	}
	return []any{set}
}
