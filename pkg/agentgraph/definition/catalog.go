package definition

import (
	"fmt"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/registry"
)

// NodeFactory builds a node under the name given in the definition.
type NodeFactory func(name string) agentgraph.NodeSpec

// Catalog holds the Go pieces a definition may refer to by name.
// Safe for concurrent use.
type Catalog struct {
	nodes      *registry.Registry[string, NodeFactory]
	transforms *registry.Registry[string, agentgraph.EdgeOption]
	strategies *registry.Registry[string, *agentgraph.Strategy]
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		nodes:      registry.New[string, NodeFactory](),
		transforms: registry.New[string, agentgraph.EdgeOption](),
		strategies: registry.New[string, *agentgraph.Strategy](),
	}
}

// AddNode registers a node factory for "use: name".
func (c *Catalog) AddNode(name string, f NodeFactory) error {
	if f == nil {
		return fmt.Errorf("catalog node %s: nil factory", name)
	}
	if err := c.nodes.Add(name, f); err != nil {
		return fmt.Errorf("catalog node %s: %w", name, err)
	}
	return nil
}

// AddTransform registers an edge option, normally built with
// agentgraph.Transform, for "transform: name".
func (c *Catalog) AddTransform(name string, opt agentgraph.EdgeOption) error {
	if opt == nil {
		return fmt.Errorf("catalog transform %s: nil option", name)
	}
	if err := c.transforms.Add(name, opt); err != nil {
		return fmt.Errorf("catalog transform %s: %w", name, err)
	}
	return nil
}

// AddStrategy registers a built strategy for subgraph nodes.
func (c *Catalog) AddStrategy(name string, s *agentgraph.Strategy) error {
	if s == nil {
		return fmt.Errorf("catalog strategy %s: nil strategy", name)
	}
	if err := c.strategies.Add(name, s); err != nil {
		return fmt.Errorf("catalog strategy %s: %w", name, err)
	}
	return nil
}

// Nodes lists registered node factories in registration order.
func (c *Catalog) Nodes() []string { return c.nodes.Keys() }

// Transforms lists registered transforms in registration order.
func (c *Catalog) Transforms() []string { return c.transforms.Keys() }

// Strategies lists registered strategies in registration order.
func (c *Catalog) Strategies() []string { return c.strategies.Keys() }
