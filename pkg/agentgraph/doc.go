/*
Package agentgraph runs multi-step AI-agent workflows expressed as
directed graphs.

# Overview

A Strategy is a typed graph of nodes joined by conditional edges. Nodes
call LLMs, run tools, or transform values; edges decide where a node's
output goes next. An Agent runs a strategy once, with:
  - A session manager guarding the prompt history
  - A tool coordinator running tool calls sequentially or in parallel
  - An event pipeline that features (tracing, metrics) subscribe to
  - Optional checkpointing after every node, for crash recovery

# Basic Usage

Build a strategy, then run it with an agent:

	upper := agentgraph.NewNode("upper", func(ctx agentgraph.Context, s string) (string, error) {
	    return strings.ToUpper(s), nil
	})

	strategy, err := agentgraph.NewStrategy[string, string]("shout").
	    AddNode(upper).
	    AddEdge(agentgraph.StartNode, "upper").
	    AddEdge("upper", agentgraph.FinishNode).
	    Build()
	if err != nil {
	    log.Fatal(err)
	}

	agent, err := agentgraph.NewAgent(ctx, strategy)
	if err != nil {
	    log.Fatal(err)
	}
	out, err := agentgraph.RunTyped[string](ctx, agent, "hello")
	fmt.Println(out) // "HELLO"

# Edges

Outgoing edges are tried in the order they were added; the first edge
whose condition accepts the output is taken and only its transform runs.
If no edge accepts, the strategy ends with the current output.

	b.AddEdge("classify", "refund", agentgraph.When(func(_ agentgraph.Context, c Class) bool {
	    return c == Refund
	}))
	b.AddEdge("classify", "answer", agentgraph.Transform(func(_ agentgraph.Context, c Class) (string, error) {
	    return c.String(), nil
	}))

Build checks every edge's types: a condition must accept the source output
type and the delivered value must fit the target's input type.

# Tools and LLM Nodes

LLMRequest, ExecuteTools and SendToolResults cover the usual tool loop.
OnToolCalls and OnAssistantMessage route model responses. A call to the
finish tool ends the enclosing strategy with the tool's arguments.

# Subgraphs

Subgraph embeds a built strategy as one node. Nodes inside it report paths
below the subgraph node ("root/research/search") and count against the same
iteration limit.

# Checkpointing

With WithPersistence (or a persistence section in WithConfig) the agent
stores, after every transition, the path of the next node, the value
delivered to it and the prompt history. A finished run stores a tombstone.
A new agent with the same WithAgentID resumes from the latest live
checkpoint:

	store, _ := persistence.NewSQLiteProvider(ctx, "agents.db")
	agent, err := agentgraph.NewAgent(ctx, strategy,
	    agentgraph.WithAgentID("order-42"),
	    agentgraph.WithPersistence(store),
	)

# Error Handling

Run returns typed errors:
  - *NodeError: a node returned an error
  - *PanicError: a node panicked (includes stack trace)
  - *EdgeError: a condition or transform failed
  - *CancellationError: the context was cancelled
  - *IterationLimitError: the run entered too many nodes
  - *CheckpointError, *ResumeError: persistence failures

A node may return Recover(value, err) to report a failure and continue
with value.
*/
package agentgraph
