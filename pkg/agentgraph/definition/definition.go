package definition

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/expr"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/template"
)

// Node kinds.
const (
	KindLLM         = "llm"          // request the model; input string, or any with a prompt template
	KindLLMStream   = "llm_stream"   // as KindLLM over the streaming API
	KindTools       = "tools"        // run the tool calls of the incoming messages
	KindToolResults = "tool_results" // send tool results back to the model
	KindNode        = "node"         // node built by a catalog factory named in use
	KindSubgraph    = "subgraph"     // catalog strategy named in use
)

// Values of EdgeDef.On.
const (
	OnToolCalls        = "tool_calls"
	OnAssistantMessage = "assistant_message"
)

// ErrInvalidDefinition wraps every structural problem found by Validate.
var ErrInvalidDefinition = errors.New("definition: invalid")

// Definition is a strategy described in YAML or JSON.
type Definition struct {
	Name        string         `mapstructure:"name"`
	Description string         `mapstructure:"description"`
	Nodes       []NodeDef      `mapstructure:"nodes"`
	Edges       []EdgeDef      `mapstructure:"edges"`
	Agent       map[string]any `mapstructure:"agent"`
}

// NodeDef declares one node.
type NodeDef struct {
	Name    string `mapstructure:"name"`
	Kind    string `mapstructure:"kind"`
	Use     string `mapstructure:"use"`
	Prompt  string `mapstructure:"prompt"`
	NoTools bool   `mapstructure:"no_tools"`
}

// EdgeDef declares one edge. When is an expr condition over "output"; On
// names a built-in routing condition; Transform names a catalog transform.
type EdgeDef struct {
	From      string `mapstructure:"from"`
	To        string `mapstructure:"to"`
	When      string `mapstructure:"when"`
	On        string `mapstructure:"on"`
	Transform string `mapstructure:"transform"`
}

// Parse decodes a YAML definition. Unknown keys are an error.
func Parse(data []byte) (*Definition, error) {
	c, err := config.FromYAML(data)
	if err != nil {
		return nil, err
	}
	return decode(c)
}

// Load reads a YAML or JSON definition file.
func Load(path string) (*Definition, error) {
	c, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	return decode(c)
}

func decode(c config.Config) (*Definition, error) {
	var d Definition
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &d,
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(c.Raw()); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	for i := range d.Nodes {
		if d.Nodes[i].Kind == "" && d.Nodes[i].Use != "" {
			d.Nodes[i].Kind = KindNode
		}
	}
	return &d, nil
}

// AgentConfig decodes the optional agent section onto the defaults.
func (d *Definition) AgentConfig() (config.AgentConfig, error) {
	if len(d.Agent) == 0 {
		return config.DefaultAgentConfig(), nil
	}
	return config.DecodeAgent(config.New(d.Agent))
}

// Validate checks what can be checked without a catalog: kinds, required
// fields, expressions and prompt templates. Graph shape and types are
// checked when the definition is compiled.
func (d *Definition) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidDefinition}, args...)...))
	}

	if d.Name == "" {
		fail("missing name")
	}
	if len(d.Nodes) == 0 {
		fail("no nodes")
	}
	for i, n := range d.Nodes {
		if n.Name == "" {
			fail("node %d: missing name", i)
		}
		switch n.Kind {
		case KindLLM, KindLLMStream:
			if n.Prompt != "" {
				if _, err := template.Parse(n.Prompt); err != nil {
					fail("node %s: prompt: %v", n.Name, err)
				}
			}
		case KindTools, KindToolResults:
		case KindNode, KindSubgraph:
			if n.Use == "" {
				fail("node %s: kind %s requires use", n.Name, n.Kind)
			}
		case "":
			fail("node %s: missing kind", n.Name)
		default:
			fail("node %s: unknown kind %q", n.Name, n.Kind)
		}
		if n.Prompt != "" && n.Kind != KindLLM && n.Kind != KindLLMStream {
			fail("node %s: prompt is only valid on llm nodes", n.Name)
		}
	}
	for _, e := range d.Edges {
		if e.From == "" || e.To == "" {
			fail("edge %s -> %s: missing endpoint", e.From, e.To)
		}
		if e.When != "" && e.On != "" {
			fail("edge %s -> %s: when and on are exclusive", e.From, e.To)
		}
		if e.When != "" {
			if _, err := expr.Compile(e.When); err != nil {
				fail("edge %s -> %s: %v", e.From, e.To, err)
			}
		}
		switch e.On {
		case "", OnToolCalls, OnAssistantMessage:
		default:
			fail("edge %s -> %s: unknown on %q", e.From, e.To, e.On)
		}
	}
	if _, err := d.AgentConfig(); err != nil {
		fail("agent: %v", err)
	}
	return errors.Join(errs...)
}
