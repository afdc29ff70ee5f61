package agentgraph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Build validates the strategy and freezes it.
//
// Validation checks:
//   - Node names are non-empty, free of whitespace and "/", unique, and not reserved
//   - Edge endpoints exist; no edge leaves finish or enters start
//   - Conditions accept the source node's output type
//   - The delivered type (transform output, or source output) fits the target's input
//   - Finish is reachable from start
//
// All problems are returned joined. Nodes unreachable from start are
// only logged.
func (b *Builder) Build() (*Strategy, error) {
	errs := slices.Clone(b.errs)
	if err := checkName("strategy", b.name); err != nil {
		errs = append(errs, err)
	}

	s := &Strategy{
		name:  b.name,
		nodes: make([]node, len(b.nodes)),
		index: maps.Clone(b.index),
	}
	for i, spec := range b.nodes {
		s.nodes[i] = node{NodeSpec: spec}
	}

	for _, e := range b.edges {
		errs = append(errs, e.errs...)
		built, err := s.link(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if built != nil {
			from := s.index[e.from]
			s.nodes[from].edges = append(s.nodes[from].edges, *built)
		}
	}

	reachable := s.reachable()
	if !reachable[finishIndex] {
		errs = append(errs, fmt.Errorf("%w: strategy %s", ErrFinishUnreachable, b.name))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for i, n := range s.nodes {
		if !reachable[i] {
			b.logger.Warn("node is unreachable from start", "strategy", b.name, "node", n.name)
		}
	}
	return s, nil
}

// link resolves an edge spec against the arena and type-checks it.
func (s *Strategy) link(e *edgeSpec) (*edge, error) {
	from, okFrom := s.index[e.from]
	to, okTo := s.index[e.to]
	var errs []error
	if !okFrom {
		errs = append(errs, fmt.Errorf("%w: edge %s -> %s: unknown source %q", ErrNodeNotFound, e.from, e.to, e.from))
	}
	if !okTo {
		errs = append(errs, fmt.Errorf("%w: edge %s -> %s: unknown target %q", ErrNodeNotFound, e.from, e.to, e.to))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if from == finishIndex {
		return nil, fmt.Errorf("%w: edge %s -> %s leaves the finish node", ErrInvalidEdge, e.from, e.to)
	}
	if to == startIndex {
		return nil, fmt.Errorf("%w: edge %s -> %s enters the start node", ErrInvalidEdge, e.from, e.to)
	}
	if len(e.errs) > 0 {
		// Already reported by the caller.
		return nil, nil
	}

	src := s.nodes[from].out
	if e.cond != nil && !src.AssignableTo(e.condIn) {
		errs = append(errs, fmt.Errorf("%w: edge %s -> %s: condition takes %s, source produces %s",
			ErrTypeMismatch, e.from, e.to, e.condIn, src))
	}
	delivered := src
	if e.transform != nil {
		if !src.AssignableTo(e.xfIn) {
			errs = append(errs, fmt.Errorf("%w: edge %s -> %s: transform takes %s, source produces %s",
				ErrTypeMismatch, e.from, e.to, e.xfIn, src))
		}
		delivered = e.xfOut
	}
	if target := s.nodes[to].in; !delivered.AssignableTo(target) {
		errs = append(errs, fmt.Errorf("%w: edge %s -> %s: delivers %s, target takes %s",
			ErrTypeMismatch, e.from, e.to, delivered, target))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &edge{to: to, cond: e.cond, transform: e.transform}, nil
}

// reachable marks every node reachable from start.
func (s *Strategy) reachable() []bool {
	seen := make([]bool, len(s.nodes))
	queue := []int{startIndex}
	seen[startIndex] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range s.nodes[cur].edges {
			if !seen[e.to] {
				seen[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}
	return seen
}
