// Package pipeline is the ordered event-interception bus of an agent.
//
// Every lifecycle transition of a run (agent, strategy, node, subgraph, LLM
// call, stream frame, tool call) is reported as an Event to the handlers
// registered for its Hook. Handlers run sequentially in registration order;
// a failing or panicking handler is isolated and never stops the run.
//
// Features (tracing, metrics, persistence) are installed once per agent and
// register their handlers in Install:
//
//	p := pipeline.New(pipeline.WithLogger(logger))
//	if err := p.Install(tracing.New(tracer)); err != nil {
//	    return err
//	}
//	defer p.Close(ctx)
package pipeline

import (
	"context"
	"time"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// Hook names an interception point.
type Hook string

// Agent lifecycle hooks.
const (
	AgentStarting        Hook = "agent.starting"
	AgentCompleted       Hook = "agent.completed"
	AgentExecutionFailed Hook = "agent.execution_failed"
	AgentClosing         Hook = "agent.closing"
)

// Strategy hooks.
const (
	StrategyStarting  Hook = "strategy.starting"
	StrategyCompleted Hook = "strategy.completed"
)

// Node and subgraph hooks.
const (
	NodeStarting      Hook = "node.starting"
	NodeCompleted     Hook = "node.completed"
	NodeFailed        Hook = "node.failed"
	SubgraphStarting  Hook = "subgraph.starting"
	SubgraphCompleted Hook = "subgraph.completed"
	SubgraphFailed    Hook = "subgraph.failed"
)

// LLM hooks.
const (
	LLMCallStarting    Hook = "llm.call.starting"
	LLMCallCompleted   Hook = "llm.call.completed"
	StreamingStarting  Hook = "llm.streaming.starting"
	StreamingFrame     Hook = "llm.streaming.frame"
	StreamingFailed    Hook = "llm.streaming.failed"
	StreamingCompleted Hook = "llm.streaming.completed"
)

// Tool hooks.
const (
	ToolCallStarting         Hook = "tool.call.starting"
	ToolCallValidationFailed Hook = "tool.call.validation_failed"
	ToolCallFailed           Hook = "tool.call.failed"
	ToolCallCompleted        Hook = "tool.call.completed"
)

// Checkpoint hooks.
const (
	CheckpointSaved  Hook = "checkpoint.saved"
	CheckpointFailed Hook = "checkpoint.failed"
)

// Hooks returns every hook in lifecycle order.
func Hooks() []Hook {
	return []Hook{
		AgentStarting, AgentCompleted, AgentExecutionFailed, AgentClosing,
		StrategyStarting, StrategyCompleted,
		NodeStarting, NodeCompleted, NodeFailed,
		SubgraphStarting, SubgraphCompleted, SubgraphFailed,
		LLMCallStarting, LLMCallCompleted,
		StreamingStarting, StreamingFrame, StreamingFailed, StreamingCompleted,
		ToolCallStarting, ToolCallValidationFailed, ToolCallFailed, ToolCallCompleted,
		CheckpointSaved, CheckpointFailed,
	}
}

// Event is the payload delivered to handlers. Hook says which fields are
// meaningful: node hooks carry Node, Input and Output; tool hooks carry
// ToolCall and ToolResult; LLM hooks carry Prompt, Responses and Frame;
// checkpoint hooks carry the Checkpoint fields.
type Event struct {
	Hook Hook

	RunID    string
	AgentID  string
	Strategy string

	// Node is the node name. Path is the slash-joined execution path
	// ("root/sub/node"); ParentPath is the path of the enclosing scope.
	Node       string
	Path       string
	ParentPath string
	Iteration  int

	Input  any
	Output any
	Err    error

	ToolCall   *prompt.ToolCall
	ToolResult *prompt.ToolResult

	Prompt    *prompt.Prompt
	Responses []prompt.Message
	Frame     *prompt.StreamFrame
	Model     prompt.Model

	// Checkpoint fields are set by checkpoint hooks. CheckpointSize is the
	// encoded size of the stored input.
	CheckpointID      string
	CheckpointVersion int64
	CheckpointSize    int
	Tombstone         bool

	Duration  time.Duration
	Timestamp time.Time
}

// Scope is the run position that events raised deeper in the stack
// (session, tool coordinator) inherit through the context.
type Scope struct {
	RunID      string
	AgentID    string
	Strategy   string
	Node       string
	Path       string
	ParentPath string
	Iteration  int
}

type scopeKey struct{}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// fill copies scope fields into empty event fields.
func (e *Event) fill(s Scope) {
	if e.RunID == "" {
		e.RunID = s.RunID
	}
	if e.AgentID == "" {
		e.AgentID = s.AgentID
	}
	if e.Strategy == "" {
		e.Strategy = s.Strategy
	}
	if e.Node == "" {
		e.Node = s.Node
	}
	if e.Path == "" {
		e.Path = s.Path
	}
	if e.ParentPath == "" {
		e.ParentPath = s.ParentPath
	}
	if e.Iteration == 0 {
		e.Iteration = s.Iteration
	}
}
