package requirement

import (
	"fmt"
	"strings"
)

// Operator is the comparison a requirement applies to its subject.
type Operator string

// Supported operators.
const (
	OpMin      Operator = "MIN"
	OpMax      Operator = "MAX"
	OpEquals   Operator = "EQUALS"
	OpRange    Operator = "RANGE"
	OpPresence Operator = "PRESENCE"
	OpCountMin Operator = "COUNT_MIN"
	OpCountMax Operator = "COUNT_MAX"
)

// Operators lists every operator in declaration order.
var Operators = []Operator{OpMin, OpMax, OpEquals, OpRange, OpPresence, OpCountMin, OpCountMax}

// operatorAliases maps phrasing found in extracted code text to operators.
var operatorAliases = map[string]Operator{
	"min":           OpMin,
	"minimum":       OpMin,
	">=":            OpMin,
	"at least":      OpMin,
	"not less than": OpMin,
	"max":           OpMax,
	"maximum":       OpMax,
	"<=":            OpMax,
	"at most":       OpMax,
	"not more than": OpMax,
	"equals":        OpEquals,
	"equal":         OpEquals,
	"=":             OpEquals,
	"==":            OpEquals,
	"range":         OpRange,
	"between":       OpRange,
	"presence":      OpPresence,
	"present":       OpPresence,
	"required":      OpPresence,
	"count_min":     OpCountMin,
	"count min":     OpCountMin,
	"min count":     OpCountMin,
	"count_max":     OpCountMax,
	"count max":     OpCountMax,
	"max count":     OpCountMax,
}

// ParseOperator accepts an operator name or one of its textual aliases.
func ParseOperator(s string) (Operator, error) {
	key := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	if op, ok := operatorAliases[key]; ok {
		return op, nil
	}
	upper := Operator(strings.ToUpper(strings.TrimSpace(s)))
	for _, op := range Operators {
		if op == upper {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Arity returns the number of thresholds the operator takes.
func (o Operator) Arity() int {
	switch o {
	case OpMin, OpMax, OpEquals, OpCountMin, OpCountMax:
		return 1
	case OpRange:
		return 2
	case OpPresence:
		return 0
	default:
		return -1
	}
}

// IsCount reports whether the operator compares the number of matches.
func (o Operator) IsCount() bool {
	return o == OpCountMin || o == OpCountMax
}

// Symbol returns the comparison symbol used in verdict details.
func (o Operator) Symbol() string {
	switch o {
	case OpMin, OpCountMin:
		return ">="
	case OpMax, OpCountMax:
		return "<="
	case OpEquals:
		return "=="
	case OpRange:
		return "in"
	case OpPresence:
		return "present"
	default:
		return "?"
	}
}
