package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
)

// ErrInvalidTool is returned by Register for unusable tools.
var ErrInvalidTool = errors.New("tools: invalid tool")

var toolNameRE = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry is the tool table of an agent. Safe for concurrent use.
type Registry struct {
	tools *registry.Registry[string, entry]
}

// NewRegistry creates a registry holding ts. It panics if any tool is
// invalid; use Register to handle errors.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: registry.New[string, entry]()}
	for _, t := range ts {
		r.MustRegister(t)
	}
	return r
}

// Register compiles the tool's parameter schema and adds it. Names must be
// unique and match [A-Za-z0-9_-]{1,64}.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("%w: nil tool", ErrInvalidTool)
	}
	desc := t.Descriptor()
	if !toolNameRE.MatchString(desc.Name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidTool, desc.Name)
	}
	schema, err := compileSchema(desc.Name, desc.Parameters)
	if err != nil {
		return fmt.Errorf("%w: %s schema: %w", ErrInvalidTool, desc.Name, err)
	}
	if err := r.tools.Add(desc.Name, entry{tool: t, schema: schema}); err != nil {
		return fmt.Errorf("register tool %s: %w", desc.Name, err)
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.tools.Get(name)
	return e.tool, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return r.tools.Keys()
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return r.tools.Len()
}

// Descriptors returns the descriptors sent to the model, in registration
// order.
func (r *Registry) Descriptors() []prompt.ToolDescriptor {
	entries := r.tools.Values()
	out := make([]prompt.ToolDescriptor, len(entries))
	for i, e := range entries {
		out[i] = e.tool.Descriptor()
	}
	return out
}

// Validate checks decoded arguments against the tool's schema.
func (r *Registry) Validate(name string, args map[string]any) error {
	e, ok := r.tools.Get(name)
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	return e.schema.Validate(args)
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile(url)
}
