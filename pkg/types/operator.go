package types

import (
	"encoding/json"
	"fmt"
)

// Operator is the relation a condition applies to an attribute.
type Operator int

const (
	OpEqual Operator = iota + 1
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	// OpOneOf matches when the value equals one of the candidates.
	OpOneOf
	// OpNoneOf matches when the value equals none of the candidates.
	OpNoneOf
	OpChangedTo
	OpChangedFrom
	// OpHas, OpHasNot and OpChanged take no right-hand value.
	OpHas
	OpHasNot
	OpChanged
)

var operatorSymbols = map[Operator]string{
	OpEqual:        "=",
	OpNotEqual:     "!=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpOneOf:        "~",
	OpNoneOf:       "!~",
	OpChangedTo:    "changed-to",
	OpChangedFrom:  "changed-from",
	OpHas:          "has",
	OpHasNot:       "!has",
	OpChanged:      "changed",
}

// ParseOperator maps a condition's operator symbol to its Operator.
func ParseOperator(symbol string) (Operator, error) {
	for op, s := range operatorSymbols {
		if s == symbol {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operator %q", symbol)
}

func (o Operator) String() string {
	if s, ok := operatorSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

func (o Operator) MarshalJSON() ([]byte, error) {
	s, ok := operatorSymbols[o]
	if !ok {
		return nil, fmt.Errorf("unknown operator %d", int(o))
	}
	return json.Marshal(s)
}

func (o *Operator) UnmarshalJSON(data []byte) error {
	var symbol string
	if err := json.Unmarshal(data, &symbol); err != nil {
		return err
	}
	op, err := ParseOperator(symbol)
	if err != nil {
		return err
	}
	*o = op
	return nil
}
