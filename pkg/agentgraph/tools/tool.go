// Package tools executes the tool calls requested by a model.
//
// Tools are registered in a Registry, which compiles each tool's JSON
// Schema once and validates arguments before every call. A Coordinator
// runs a batch of calls sequentially, in parallel, or sequentially with
// all-or-nothing semantics, and always returns one result per call,
// correlated by call id.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// Tool is an invokable capability offered to the model.
type Tool interface {
	Descriptor() prompt.ToolDescriptor
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// NonRecoverable is implemented by tools whose failure must stop the
// node instead of being reported back to the model.
type NonRecoverable interface {
	NonRecoverable() bool
}

// TimeoutOverride is implemented by tools that need a different per-call
// timeout than the coordinator default.
type TimeoutOverride interface {
	Timeout() time.Duration
}

// FuncOption configures a tool built with Func.
type FuncOption func(*funcTool)

// Fatal marks the tool as non-recoverable.
func Fatal() FuncOption {
	return func(t *funcTool) { t.fatal = true }
}

// WithTimeout overrides the coordinator's per-call timeout for this tool.
func WithTimeout(d time.Duration) FuncOption {
	return func(t *funcTool) { t.timeout = d }
}

type funcTool struct {
	desc    prompt.ToolDescriptor
	fatal   bool
	timeout time.Duration
	exec    func(ctx context.Context, args map[string]any) (any, error)
}

func (t *funcTool) Descriptor() prompt.ToolDescriptor { return t.desc }
func (t *funcTool) NonRecoverable() bool              { return t.fatal }
func (t *funcTool) Timeout() time.Duration            { return t.timeout }

func (t *funcTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.exec(ctx, args)
}

// Func builds a typed tool. Arguments are decoded into Args by json field
// name, with weak typing so JSON numbers fill integer fields.
//
//	type addArgs struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//	add := tools.Func("add", "Adds two integers", schema,
//	    func(ctx context.Context, in addArgs) (any, error) { return in.A + in.B, nil })
func Func[Args any](
	name, description string,
	schema map[string]any,
	fn func(ctx context.Context, args Args) (any, error),
	opts ...FuncOption,
) Tool {
	t := &funcTool{
		desc: prompt.ToolDescriptor{Name: name, Description: description, Parameters: schema},
		exec: func(ctx context.Context, raw map[string]any) (any, error) {
			var args Args
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return fn(ctx, args)
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func decodeArgs(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
