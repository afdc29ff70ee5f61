package expr

import (
	"fmt"
	"strings"
)

// BinaryOp compares two resolved operands.
type BinaryOp func(left, right any) bool

type opDef struct {
	token string
	fn    BinaryOp
}

// builtinOps is ordered so that two-character operators match before their
// one-character prefixes.
var builtinOps = []opDef{
	{"==", compareEquals},
	{"!=", func(l, r any) bool { return !compareEquals(l, r) }},
	{">=", func(l, r any) bool { return ToFloat64(l) >= ToFloat64(r) }},
	{"<=", func(l, r any) bool { return ToFloat64(l) <= ToFloat64(r) }},
	{">", func(l, r any) bool { return ToFloat64(l) > ToFloat64(r) }},
	{"<", func(l, r any) bool { return ToFloat64(l) < ToFloat64(r) }},
	{" contains ", compareContains},
}

// Compare applies a built-in operator to two values.
func Compare(left, right any, op string) (bool, error) {
	for _, def := range builtinOps {
		if strings.TrimSpace(def.token) == op {
			return def.fn(left, right), nil
		}
	}
	return false, fmt.Errorf("unknown operator: %s", op)
}

// compareEquals compares the string forms, so 5 == int64(5) == "5".
func compareEquals(left, right any) bool {
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func compareContains(left, right any) bool {
	if items, ok := left.([]any); ok {
		for _, item := range items {
			if compareEquals(item, right) {
				return true
			}
		}
		return false
	}
	return strings.Contains(fmt.Sprint(left), fmt.Sprint(right))
}
