package agentgraph

import (
	"fmt"
	"reflect"
)

// Reserved node names. Every strategy has exactly one start and one finish
// node; both pass their input through unchanged.
const (
	StartNode  = "__start__"
	FinishNode = "__finish__"
)

// Arena positions of the reserved nodes.
const (
	startIndex  = 0
	finishIndex = 1
)

type nodeKind uint8

const (
	kindTask nodeKind = iota
	kindStart
	kindFinish
	kindSubgraph
)

func (k nodeKind) String() string {
	switch k {
	case kindTask:
		return "task"
	case kindStart:
		return "start"
	case kindFinish:
		return "finish"
	case kindSubgraph:
		return "subgraph"
	default:
		return "unknown"
	}
}

// nodeFunc is the type-erased form of a node's function. The input has
// already been checked against the node's input type at Build time.
type nodeFunc func(ctx Context, in any) (any, error)

// NodeSpec describes a node before it is added to a Builder.
type NodeSpec struct {
	name  string
	kind  nodeKind
	in    reflect.Type
	out   reflect.Type
	fn    nodeFunc
	child *Strategy
}

// Name returns the node name.
func (s NodeSpec) Name() string { return s.name }

// NewNode creates a task node that turns an In into an Out.
//
//	plan := agentgraph.NewNode("plan", func(ctx agentgraph.Context, goal string) ([]string, error) {
//	    return strings.Split(goal, ","), nil
//	})
func NewNode[In, Out any](name string, fn func(Context, In) (Out, error)) NodeSpec {
	spec := NodeSpec{
		name: name,
		kind: kindTask,
		in:   reflect.TypeFor[In](),
		out:  reflect.TypeFor[Out](),
	}
	if fn != nil {
		spec.fn = func(ctx Context, v any) (any, error) {
			in, err := coerce[In](v)
			if err != nil {
				return nil, err
			}
			out, err := fn(ctx, in)
			return out, err
		}
	}
	return spec
}

// Subgraph embeds child as a single node. The node consumes the child's
// input type and produces its output type. Events raised inside the child
// carry paths below this node's path.
func Subgraph(name string, child *Strategy) NodeSpec {
	spec := NodeSpec{name: name, kind: kindSubgraph, child: child}
	if child != nil {
		spec.in = child.InputType()
		spec.out = child.OutputType()
	}
	return spec
}

func passthrough[T any](name string, kind nodeKind) NodeSpec {
	spec := NewNode(name, func(_ Context, v T) (T, error) { return v, nil })
	spec.kind = kind
	return spec
}

// coerce converts a value travelling along an edge to T. Values whose
// dynamic type is assignable but not identical to T (a named slice type
// delivered to its underlying type, say) are copied through reflection.
func coerce[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	target := reflect.TypeFor[T]()
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(target) {
		out := reflect.New(target).Elem()
		out.Set(rv)
		return out.Interface().(T), nil
	}
	return zero, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, target, rv.Type())
}

// RecoveredError is returned by Recover. The engine reports Err as a node
// failure and then continues with Value as the node's output.
type RecoveredError struct {
	Value any
	Err   error
}

// Error implements the error interface.
func (e *RecoveredError) Error() string {
	return fmt.Sprintf("recovered: %v", e.Err)
}

// Unwrap returns the reported error.
func (e *RecoveredError) Unwrap() error {
	return e.Err
}

// Recover lets a node report err without failing the run. The node's
// returned value is ignored; value is routed along its edges instead.
//
//	if err != nil {
//	    return "", agentgraph.Recover("fallback answer", err)
//	}
func Recover(value any, err error) error {
	return &RecoveredError{Value: value, Err: err}
}

// FinalOutput ends the enclosing strategy early. When a node returns it
// as its error the engine skips edge selection and delivers Value to the
// finish node. A json.RawMessage value is decoded into the finish node's
// type.
type FinalOutput struct {
	Value any
}

// Error implements the error interface.
func (f *FinalOutput) Error() string {
	return "final output"
}

// Finish returns a *FinalOutput carrying value.
func Finish(value any) error {
	return &FinalOutput{Value: value}
}
