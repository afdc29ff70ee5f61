package definition

import (
	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
)

const standIn = "standin"

// CheckShape validates d and compiles a type-erased copy of it in which
// every node passes its input through. It reports graph problems (unknown
// endpoints, edges out of finish or into start, bad or duplicate names,
// finish unreachable) but not type mismatches, which depend on the real
// catalog.
func CheckShape(d *Definition, opts ...CompileOption) error {
	if err := d.Validate(); err != nil {
		return err
	}

	erased := &Definition{Name: d.Name, Edges: make([]EdgeDef, len(d.Edges))}
	for _, n := range d.Nodes {
		erased.Nodes = append(erased.Nodes, NodeDef{Name: n.Name, Kind: KindNode, Use: standIn})
	}
	for i, e := range d.Edges {
		erased.Edges[i] = EdgeDef{From: e.From, To: e.To}
	}

	cat := NewCatalog()
	if err := cat.AddNode(standIn, func(name string) agentgraph.NodeSpec {
		return agentgraph.NewNode(name, func(_ agentgraph.Context, v any) (any, error) {
			return v, nil
		})
	}); err != nil {
		return err
	}
	_, err := Compile[any, any](erased, cat, opts...)
	return err
}
