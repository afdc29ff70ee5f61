package expr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmpty is returned when compiling an empty expression.
var ErrEmpty = errors.New("expr: empty expression")

// node is one element of a compiled expression tree.
type node interface {
	eval(vars map[string]any) bool
}

type orNode struct{ left, right node }

func (n orNode) eval(vars map[string]any) bool { return n.left.eval(vars) || n.right.eval(vars) }

type andNode struct{ left, right node }

func (n andNode) eval(vars map[string]any) bool { return n.left.eval(vars) && n.right.eval(vars) }

type notNode struct{ inner node }

func (n notNode) eval(vars map[string]any) bool { return !n.inner.eval(vars) }

type compareNode struct {
	left, right string
	op          BinaryOp
}

func (n compareNode) eval(vars map[string]any) bool {
	return n.op(Resolve(n.left, vars), Resolve(n.right, vars))
}

type valueNode struct{ operand string }

func (n valueNode) eval(vars map[string]any) bool { return IsTruthy(Resolve(n.operand, vars)) }

// Expr is a compiled condition. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// String returns the source text.
func (e *Expr) String() string { return e.src }

// Eval evaluates the expression against vars.
func (e *Expr) Eval(vars map[string]any) bool {
	return e.root.eval(vars)
}

// Option configures compilation.
type Option func(*compiler)

// WithCustomOperator registers a word operator (e.g. "matches"). It must be
// surrounded by spaces in the source.
func WithCustomOperator(name string, fn BinaryOp) Option {
	return func(c *compiler) {
		c.custom = append(c.custom, opDef{token: " " + name + " ", fn: fn})
	}
}

type compiler struct {
	custom []opDef
}

// Compile parses src into an Expr.
func Compile(src string, opts ...Option) (*Expr, error) {
	c := &compiler{}
	for _, opt := range opts {
		opt(c)
	}
	root, err := c.parse(src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Expr{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string, opts ...Option) *Expr {
	e, err := Compile(src, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Eval compiles and evaluates src in one step.
func Eval(src string, vars map[string]any) (bool, error) {
	e, err := Compile(src)
	if err != nil {
		return false, err
	}
	return e.Eval(vars), nil
}

func (c *compiler) parse(s string) (node, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	if err := checkBalanced(s); err != nil {
		return nil, err
	}

	if inner, ok := stripParens(s); ok {
		return c.parse(inner)
	}

	if l, r, ok := splitTopLevel(s, " or "); ok {
		return c.binary(l, r, func(a, b node) node { return orNode{a, b} })
	}
	if l, r, ok := splitTopLevel(s, " and "); ok {
		return c.binary(l, r, func(a, b node) node { return andNode{a, b} })
	}

	if rest, ok := strings.CutPrefix(s, "not "); ok {
		inner, err := c.parse(rest)
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	if rest, ok := strings.CutPrefix(s, "!"); ok && !strings.HasPrefix(rest, "=") {
		inner, err := c.parse(rest)
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}

	for _, op := range append(builtinOps, c.custom...) {
		if l, r, ok := splitTopLevel(s, op.token); ok {
			l, r = strings.TrimSpace(l), strings.TrimSpace(r)
			if l == "" || r == "" {
				return nil, fmt.Errorf("operator %q needs two operands", strings.TrimSpace(op.token))
			}
			return compareNode{left: l, right: r, op: op.fn}, nil
		}
	}

	return valueNode{operand: s}, nil
}

func (c *compiler) binary(l, r string, mk func(a, b node) node) (node, error) {
	left, err := c.parse(l)
	if err != nil {
		return nil, err
	}
	right, err := c.parse(r)
	if err != nil {
		return nil, err
	}
	return mk(left, right), nil
}

// splitTopLevel splits s at the first occurrence of sep that is outside
// quotes and parentheses.
func splitTopLevel(s, sep string) (string, string, bool) {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
			continue
		case ch == '\'' || ch == '"':
			quote = ch
			continue
		case ch == '(':
			depth++
			continue
		case ch == ')':
			depth--
			continue
		}
		if depth == 0 && strings.HasPrefix(s[i:], sep) {
			return s[:i], s[i+len(sep):], true
		}
	}
	return "", "", false
}

// stripParens removes one pair of parentheses enclosing all of s.
func stripParens(s string) (string, bool) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return "", false
	}
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 && i != len(s)-1 {
				return "", false
			}
		}
	}
	return s[1 : len(s)-1], true
}

func checkBalanced(s string) error {
	var quote byte
	depth := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return errors.New("unbalanced parentheses")
			}
		}
	}
	if quote != 0 {
		return errors.New("unterminated string")
	}
	if depth != 0 {
		return errors.New("unbalanced parentheses")
	}
	return nil
}
