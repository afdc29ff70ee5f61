package agentgraph

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"unicode"
)

// EdgeOption configures an edge.
type EdgeOption func(*edgeSpec)

type edgeSpec struct {
	from, to string

	condIn reflect.Type
	cond   func(Context, any) (bool, error)

	xfIn, xfOut reflect.Type
	transform   func(Context, any) (any, error)

	errs []error
}

// When makes the edge conditional. The edge is taken only when fn accepts
// the source node's output. Setting a second condition replaces the first.
func When[T any](fn func(Context, T) bool) EdgeOption {
	return func(e *edgeSpec) {
		if fn == nil {
			e.errs = append(e.errs, fmt.Errorf("%w: %s -> %s: nil condition", ErrInvalidEdge, e.from, e.to))
			return
		}
		e.condIn = reflect.TypeFor[T]()
		e.cond = func(ctx Context, v any) (bool, error) {
			in, err := coerce[T](v)
			if err != nil {
				return false, err
			}
			return fn(ctx, in), nil
		}
	}
}

// Transform maps the source output before it reaches the target. The
// transform runs only when its edge is selected.
func Transform[T, U any](fn func(Context, T) (U, error)) EdgeOption {
	return func(e *edgeSpec) {
		if fn == nil {
			e.errs = append(e.errs, fmt.Errorf("%w: %s -> %s: nil transform", ErrInvalidEdge, e.from, e.to))
			return
		}
		e.xfIn = reflect.TypeFor[T]()
		e.xfOut = reflect.TypeFor[U]()
		e.transform = func(ctx Context, v any) (any, error) {
			in, err := coerce[T](v)
			if err != nil {
				return nil, err
			}
			out, err := fn(ctx, in)
			return out, err
		}
	}
}

// Builder assembles a Strategy. Problems are collected and reported
// together by Build, so calls may be chained:
//
//	s, err := agentgraph.NewStrategy[string, string]("qa").
//	    AddNode(answer).
//	    AddEdge(agentgraph.StartNode, "answer").
//	    AddEdge("answer", agentgraph.FinishNode).
//	    Build()
type Builder struct {
	name   string
	nodes  []NodeSpec
	index  map[string]int
	edges  []*edgeSpec
	errs   []error
	logger *slog.Logger
}

// NewStrategy starts a strategy that consumes In and produces Out. The
// start (In to In) and finish (Out to Out) nodes are created here.
func NewStrategy[In, Out any](name string) *Builder {
	b := &Builder{
		name:   name,
		index:  make(map[string]int),
		logger: slog.Default(),
	}
	b.nodes = append(b.nodes, passthrough[In](StartNode, kindStart), passthrough[Out](FinishNode, kindFinish))
	b.index[StartNode] = startIndex
	b.index[FinishNode] = finishIndex
	return b
}

// WithLogger sets the logger Build warns on.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// AddNode adds a task or subgraph node.
func (b *Builder) AddNode(spec NodeSpec) *Builder {
	if err := checkName("node", spec.name); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if spec.name == StartNode || spec.name == FinishNode {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrReservedName, spec.name))
		return b
	}
	if _, dup := b.index[spec.name]; dup {
		b.errs = append(b.errs, fmt.Errorf("%w: %s", ErrDuplicateNode, spec.name))
		return b
	}
	switch spec.kind {
	case kindTask:
		if spec.fn == nil {
			b.errs = append(b.errs, fmt.Errorf("%w: %s: nil function", ErrInvalidNode, spec.name))
			return b
		}
	case kindSubgraph:
		if spec.child == nil {
			b.errs = append(b.errs, fmt.Errorf("%w: %s: nil subgraph strategy", ErrInvalidNode, spec.name))
			return b
		}
	default:
		b.errs = append(b.errs, fmt.Errorf("%w: %s: unexpected kind %s", ErrInvalidNode, spec.name, spec.kind))
		return b
	}
	b.index[spec.name] = len(b.nodes)
	b.nodes = append(b.nodes, spec)
	return b
}

// AddEdge adds an edge from one node to another. Edges leaving a node are
// tried in the order they were added.
func (b *Builder) AddEdge(from, to string, opts ...EdgeOption) *Builder {
	e := &edgeSpec{from: from, to: to}
	for _, opt := range opts {
		opt(e)
	}
	b.edges = append(b.edges, e)
	return b
}

// checkName rejects names that cannot be used as a path segment.
func checkName(what, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty %s name", ErrInvalidName, what)
	case strings.ContainsFunc(name, unicode.IsSpace):
		return fmt.Errorf("%w: %s name %q contains whitespace", ErrInvalidName, what, name)
	case strings.Contains(name, pathSeparator):
		return fmt.Errorf("%w: %s name %q contains %q", ErrInvalidName, what, name, pathSeparator)
	}
	return nil
}
