package agentgraph

import (
	"reflect"
)

// pathSeparator joins node names into execution paths ("root/sub/node").
const pathSeparator = "/"

// Strategy is a validated, immutable graph. It is safe for concurrent use
// by any number of agents.
type Strategy struct {
	name  string
	nodes []node
	index map[string]int
}

type node struct {
	NodeSpec
	// edges are the outgoing edges in declaration order.
	edges []edge
}

type edge struct {
	to        int
	cond      func(Context, any) (bool, error)
	transform func(Context, any) (any, error)
}

// Name returns the strategy name.
func (s *Strategy) Name() string {
	return s.name
}

// NodeNames returns all node names, start and finish first, then in the
// order they were added.
func (s *Strategy) NodeNames() []string {
	names := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		names[i] = n.name
	}
	return names
}

// HasNode reports whether the strategy has a node with the given name.
func (s *Strategy) HasNode(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Successors returns the targets of name's outgoing edges in declaration
// order. A target appears once per edge.
func (s *Strategy) Successors(name string) []string {
	i, ok := s.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(s.nodes[i].edges))
	for j, e := range s.nodes[i].edges {
		out[j] = s.nodes[e.to].name
	}
	return out
}

// IsSubgraph reports whether name is a subgraph node.
func (s *Strategy) IsSubgraph(name string) bool {
	i, ok := s.index[name]
	return ok && s.nodes[i].kind == kindSubgraph
}

// InputType returns the type the strategy consumes.
func (s *Strategy) InputType() reflect.Type {
	return s.nodes[startIndex].in
}

// OutputType returns the type the strategy produces.
func (s *Strategy) OutputType() reflect.Type {
	return s.nodes[finishIndex].out
}
