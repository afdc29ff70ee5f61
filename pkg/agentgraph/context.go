package agentgraph

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/session"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tools"
)

// Context provides execution context to nodes, edge conditions and
// transforms. It extends context.Context with the agent's services and the
// run position.
//
// The engine creates a fresh Context for every node; it must not be
// retained after the node returns.
type Context interface {
	context.Context

	// Services

	// Logger returns the agent's logger, enriched with run_id, node_path
	// and iteration. Never nil.
	Logger() *slog.Logger

	// Session returns the manager guarding the prompt history.
	Session() *session.Manager

	// Tools returns the tool coordinator.
	Tools() *tools.Coordinator

	// ToolMode returns the configured tool execution mode.
	ToolMode() tools.Mode

	// Metadata

	// RunID returns the unique identifier of this run.
	RunID() string

	// AgentID returns the agent id checkpoints are stored under.
	AgentID() string

	// StrategyName returns the name of the root strategy.
	StrategyName() string

	// NodeName returns the current node's name.
	NodeName() string

	// Path returns the current node's execution path.
	Path() string

	// Iteration returns the run-wide count of node entries so far,
	// including the current one.
	Iteration() int
}

type executionContext struct {
	context.Context

	agent     *Agent
	runID     string
	logger    *slog.Logger
	node      string
	path      string
	iteration int
}

func (c *executionContext) Logger() *slog.Logger      { return c.logger }
func (c *executionContext) Session() *session.Manager { return c.agent.session }
func (c *executionContext) Tools() *tools.Coordinator { return c.agent.tools }
func (c *executionContext) ToolMode() tools.Mode      { return c.agent.cfg.toolMode }
func (c *executionContext) RunID() string             { return c.runID }
func (c *executionContext) AgentID() string           { return c.agent.id }
func (c *executionContext) StrategyName() string      { return c.agent.strategy.name }
func (c *executionContext) NodeName() string          { return c.node }
func (c *executionContext) Path() string              { return c.path }
func (c *executionContext) Iteration() int            { return c.iteration }
