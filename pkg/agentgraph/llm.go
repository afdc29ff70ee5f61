package agentgraph

import (
	"context"
	"errors"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/session"
)

// LLMRequest returns a node that appends its input as a user message,
// sends the history to the model and outputs the response messages.
//
//	b.AddNode(agentgraph.LLMRequest("ask")).
//	    AddNode(agentgraph.ExecuteTools("tools")).
//	    AddNode(agentgraph.SendToolResults("reply")).
//	    AddEdge(agentgraph.StartNode, "ask").
//	    AddEdge("ask", "tools", agentgraph.OnToolCalls()).
//	    AddEdge("ask", agentgraph.FinishNode, agentgraph.OnAssistantMessage()).
//	    AddEdge("tools", "reply").
//	    AddEdge("reply", "tools", agentgraph.OnToolCalls()).
//	    AddEdge("reply", agentgraph.FinishNode, agentgraph.OnAssistantMessage())
func LLMRequest(name string, opts ...session.RequestOption) NodeSpec {
	return NewNode(name, func(ctx Context, text string) ([]prompt.Message, error) {
		var resp []prompt.Message
		err := ctx.Session().Write(ctx, func(ctx context.Context, s *session.WriteSession) error {
			s.AppendUser(text)
			var err error
			resp, err = s.RequestLLM(ctx, opts...)
			return err
		})
		return resp, err
	})
}

// LLMRequestStreaming is LLMRequest over the streaming API. onFrame may be
// nil; frames are also published on the llm.streaming.frame hook.
func LLMRequestStreaming(name string, onFrame func(prompt.StreamFrame) error, opts ...session.RequestOption) NodeSpec {
	return NewNode(name, func(ctx Context, text string) ([]prompt.Message, error) {
		var resp []prompt.Message
		err := ctx.Session().Write(ctx, func(ctx context.Context, s *session.WriteSession) error {
			s.AppendUser(text)
			var err error
			resp, err = s.RequestLLMStreaming(ctx, onFrame, opts...)
			return err
		})
		return resp, err
	})
}

// ExecuteTools returns a node that runs the tool calls found in its input
// through the agent's coordinator, in the agent's tool mode, and outputs
// one result per call in call order.
//
// A batch containing the finish tool ends the enclosing strategy with the
// finish tool's arguments as output. A failing non-recoverable tool fails
// the node.
func ExecuteTools(name string) NodeSpec {
	return NewNode(name, func(ctx Context, msgs []prompt.Message) ([]prompt.ToolResult, error) {
		calls := prompt.ToolCalls(msgs)
		if len(calls) == 0 {
			return nil, nil
		}
		batch, err := ctx.Tools().Execute(ctx, calls, ctx.ToolMode())
		if err != nil {
			return nil, err
		}
		if batch.Finished {
			return nil, Finish(batch.FinalOutput)
		}
		ctx.Logger().Debug("tool batch done",
			"calls", len(batch.Calls),
			"failed", len(batch.Failed()),
			"aborted", batch.Aborted,
		)
		return batch.Results, nil
	})
}

// SendToolResults returns a node that appends tool results to the history
// and asks the model to continue.
func SendToolResults(name string, opts ...session.RequestOption) NodeSpec {
	return NewNode(name, func(ctx Context, results []prompt.ToolResult) ([]prompt.Message, error) {
		var resp []prompt.Message
		err := ctx.Session().Write(ctx, func(ctx context.Context, s *session.WriteSession) error {
			s.AppendToolResults(results)
			var err error
			resp, err = s.RequestLLM(ctx, opts...)
			return err
		})
		return resp, err
	})
}

// OnToolCalls accepts responses that request at least one tool call.
func OnToolCalls() EdgeOption {
	return When(func(_ Context, msgs []prompt.Message) bool {
		return len(prompt.ToolCalls(msgs)) > 0
	})
}

// OnAssistantMessage accepts responses without tool calls that carry
// assistant text, and delivers that text.
func OnAssistantMessage() EdgeOption {
	cond := When(func(_ Context, msgs []prompt.Message) bool {
		if len(prompt.ToolCalls(msgs)) > 0 {
			return false
		}
		_, ok := prompt.LastAssistant(msgs)
		return ok
	})
	xf := Transform(func(_ Context, msgs []prompt.Message) (string, error) {
		m, ok := prompt.LastAssistant(msgs)
		if !ok {
			return "", errors.New("no assistant message")
		}
		return m.Content, nil
	})
	return func(e *edgeSpec) {
		cond(e)
		xf(e)
	}
}
