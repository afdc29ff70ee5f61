package agentgraph

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
)

// appendNode creates a node that appends suffix to its input.
func appendNode(name, suffix string) NodeSpec {
	return NewNode(name, func(_ Context, s string) (string, error) {
		return s + suffix, nil
	})
}

// linear builds start -> names[0] -> ... -> finish over appendNode nodes
// whose suffix is the node name's last character.
func linear(t *testing.T, name string, names ...string) *Strategy {
	t.Helper()
	b := NewStrategy[string, string](name)
	prev := StartNode
	for _, n := range names {
		b.AddNode(appendNode(n, n[len(n)-1:]))
		b.AddEdge(prev, n)
		prev = n
	}
	b.AddEdge(prev, FinishNode)
	s, err := b.Build()
	require.NoError(t, err)
	return s
}

// recorder captures every event of an agent.
type recorder struct {
	mu     sync.Mutex
	events []pipeline.Event
	closed int
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Install(p *pipeline.Pipeline) error {
	for _, h := range pipeline.Hooks() {
		p.Register(h, "recorder", r.record)
	}
	return nil
}

func (r *recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recorder) record(_ context.Context, e pipeline.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// of returns the events of one hook, in order.
func (r *recorder) of(hook pipeline.Hook) []pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pipeline.Event
	for _, e := range r.events {
		if e.Hook == hook {
			out = append(out, e)
		}
	}
	return out
}

// paths returns the Path of every event of hook.
func (r *recorder) paths(hook pipeline.Hook) []string {
	var out []string
	for _, e := range r.of(hook) {
		out = append(out, e.Path)
	}
	return out
}

func (r *recorder) hooks() []pipeline.Hook {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pipeline.Hook, len(r.events))
	for i, e := range r.events {
		out[i] = e.Hook
	}
	return out
}

func newAgent(t *testing.T, s *Strategy, opts ...Option) *Agent {
	t.Helper()
	a, err := NewAgent(context.Background(), s, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}
