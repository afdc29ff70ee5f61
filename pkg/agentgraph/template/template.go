// Package template renders ${path} placeholders in prompt text.
//
// Paths are dotted lookups into a variables map, the same paths edge
// expressions use:
//
//	t, err := template.Parse("Classify this ticket: ${input.subject}")
//	text, err := t.Render(map[string]any{"input": ticket})
//
// Strings render as-is; other values render as JSON.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/expr"
)

// ErrUnterminated is returned by Parse for a "${" without a closing brace.
var ErrUnterminated = errors.New("template: unterminated placeholder")

var placeholder = regexp.MustCompile(`\$\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\s*\}`)

// MissingAction controls how Render treats a path with no value.
type MissingAction int

const (
	// MissingKeep leaves the placeholder in the output.
	MissingKeep MissingAction = iota
	// MissingEmpty renders an empty string.
	MissingEmpty
	// MissingError fails with an *UndefinedVariableError.
	MissingError
)

// Option configures a Template.
type Option func(*Template)

// WithMissingAction sets the missing-variable behavior. Default MissingError.
func WithMissingAction(a MissingAction) Option {
	return func(t *Template) { t.missing = a }
}

// Template is a parsed prompt template. Safe for concurrent use.
type Template struct {
	src     string
	names   []string
	missing MissingAction
}

// UndefinedVariableError lists the paths Render could not resolve.
type UndefinedVariableError struct {
	Names []string
}

func (e *UndefinedVariableError) Error() string {
	return "template: undefined variable(s): " + strings.Join(e.Names, ", ")
}

// Parse checks src and records its placeholder paths.
func Parse(src string, opts ...Option) (*Template, error) {
	t := &Template{src: src, missing: MissingError}
	for _, opt := range opts {
		opt(t)
	}

	rest := placeholder.ReplaceAllString(src, "")
	if strings.Contains(rest, "${") {
		return nil, fmt.Errorf("%w in %q", ErrUnterminated, src)
	}

	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(src, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			t.names = append(t.names, m[1])
		}
	}
	return t, nil
}

// MustParse is like Parse but panics on error.
func MustParse(src string, opts ...Option) *Template {
	t, err := Parse(src, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the source text.
func (t *Template) String() string { return t.src }

// Names returns the distinct placeholder paths in order of appearance.
func (t *Template) Names() []string {
	return append([]string(nil), t.names...)
}

// Render substitutes every placeholder with its value in vars.
func (t *Template) Render(vars map[string]any) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(t.src, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]
		v, ok := expr.Lookup(vars, path)
		if ok {
			return format(v)
		}
		switch t.missing {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, path)
		}
		return match
	})
	if len(missing) > 0 {
		return "", &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// Render parses and renders src in one step.
func Render(src string, vars map[string]any) (string, error) {
	t, err := Parse(src)
	if err != nil {
		return "", err
	}
	return t.Render(vars)
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
