package definition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/expr"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/session"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/template"
)

// CompileOption configures Compile.
type CompileOption func(*compileConfig)

type compileConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to the strategy builder.
func WithLogger(l *slog.Logger) CompileOption {
	return func(c *compileConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Compile validates d and builds it into a strategy taking In and
// producing Out. Catalog references are resolved here; all problems are
// reported together.
func Compile[In, Out any](d *Definition, cat *Catalog, opts ...CompileOption) (*agentgraph.Strategy, error) {
	cfg := compileConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cat == nil {
		cat = NewCatalog()
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var errs []error
	b := agentgraph.NewStrategy[In, Out](d.Name).WithLogger(cfg.logger)
	for _, n := range d.Nodes {
		spec, err := cat.node(n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.AddNode(spec)
	}
	for _, e := range d.Edges {
		edgeOpts, err := cat.edgeOptions(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.AddEdge(e.From, e.To, edgeOpts...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	s, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", d.Name, err)
	}
	return s, nil
}

func (c *Catalog) node(n NodeDef) (agentgraph.NodeSpec, error) {
	var reqOpts []session.RequestOption
	if n.NoTools {
		reqOpts = append(reqOpts, session.WithoutTools())
	}

	switch n.Kind {
	case KindLLM, KindLLMStream:
		stream := n.Kind == KindLLMStream
		if n.Prompt == "" {
			if stream {
				return agentgraph.LLMRequestStreaming(n.Name, nil, reqOpts...), nil
			}
			return agentgraph.LLMRequest(n.Name, reqOpts...), nil
		}
		t, err := template.Parse(n.Prompt)
		if err != nil {
			return agentgraph.NodeSpec{}, fmt.Errorf("node %s: %w", n.Name, err)
		}
		return promptNode(n.Name, t, stream, reqOpts), nil
	case KindTools:
		return agentgraph.ExecuteTools(n.Name), nil
	case KindToolResults:
		return agentgraph.SendToolResults(n.Name, reqOpts...), nil
	case KindNode:
		f, ok := c.nodes.Get(n.Use)
		if !ok {
			return agentgraph.NodeSpec{}, fmt.Errorf("node %s: no catalog node %q", n.Name, n.Use)
		}
		return f(n.Name), nil
	case KindSubgraph:
		s, ok := c.strategies.Get(n.Use)
		if !ok {
			return agentgraph.NodeSpec{}, fmt.Errorf("node %s: no catalog strategy %q", n.Name, n.Use)
		}
		return agentgraph.Subgraph(n.Name, s), nil
	}
	return agentgraph.NodeSpec{}, fmt.Errorf("node %s: unknown kind %q", n.Name, n.Kind)
}

func (c *Catalog) edgeOptions(e EdgeDef) ([]agentgraph.EdgeOption, error) {
	var opts []agentgraph.EdgeOption
	switch e.On {
	case OnToolCalls:
		opts = append(opts, agentgraph.OnToolCalls())
	case OnAssistantMessage:
		opts = append(opts, agentgraph.OnAssistantMessage())
	}
	if e.When != "" {
		cond, err := expr.Compile(e.When)
		if err != nil {
			return nil, fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
		}
		opts = append(opts, agentgraph.When(func(_ agentgraph.Context, out any) bool {
			return cond.Eval(map[string]any{"output": plain(out)})
		}))
	}
	if e.Transform != "" {
		xf, ok := c.transforms.Get(e.Transform)
		if !ok {
			return nil, fmt.Errorf("edge %s -> %s: no catalog transform %q", e.From, e.To, e.Transform)
		}
		opts = append(opts, xf)
	}
	return opts, nil
}

// promptNode renders t with the node input under "input" and sends the
// result to the model as a user message.
func promptNode(name string, t *template.Template, stream bool, opts []session.RequestOption) agentgraph.NodeSpec {
	return agentgraph.NewNode(name, func(ctx agentgraph.Context, in any) ([]prompt.Message, error) {
		text, err := t.Render(map[string]any{"input": plain(in)})
		if err != nil {
			return nil, err
		}
		var resp []prompt.Message
		err = ctx.Session().Write(ctx, func(ctx context.Context, s *session.WriteSession) error {
			s.AppendUser(text)
			var err error
			if stream {
				resp, err = s.RequestLLMStreaming(ctx, nil, opts...)
			} else {
				resp, err = s.RequestLLM(ctx, opts...)
			}
			return err
		})
		return resp, err
	})
}

// plain converts v to the map/slice/scalar shape expressions and templates
// walk. Values that do not marshal are returned unchanged.
func plain(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int64, float64:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
