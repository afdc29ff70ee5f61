package prompt

import (
	"context"
	"encoding/json"
	"iter"
)

// Prompt is the request sent to a PromptExecutor.
type Prompt struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
	Params   Params    `json:"params"`
}

// Params holds sampling parameters forwarded to the executor.
type Params struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Model identifies the LLM a prompt is executed against.
type Model struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

// String returns "provider/id".
func (m Model) String() string {
	if m.Provider == "" {
		return m.ID
	}
	return m.Provider + "/" + m.ID
}

// ToolDescriptor describes a tool the model may call.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
}

// Executor is the RPC boundary to an LLM provider.
// Implementations must be safe for concurrent use.
type Executor interface {
	// Execute sends the prompt and returns the response messages.
	// A response may contain assistant text, tool calls, or both.
	Execute(ctx context.Context, p Prompt, model Model, tools []ToolDescriptor) ([]Message, error)

	// ExecuteStreaming sends the prompt and yields frames as they arrive.
	// Iteration stops at the first non-nil error.
	ExecuteStreaming(ctx context.Context, p Prompt, model Model, tools []ToolDescriptor) iter.Seq2[StreamFrame, error]
}

// FrameKind discriminates StreamFrame variants.
type FrameKind string

// Stream frame kinds.
const (
	FrameAppend   FrameKind = "append"
	FrameToolCall FrameKind = "tool_call"
	FrameEnd      FrameKind = "end"
)

// StreamFrame is one element of a streaming response.
type StreamFrame struct {
	Kind FrameKind `json:"kind"`

	// Text is set for FrameAppend.
	Text string `json:"text,omitempty"`

	// ToolCall is set for FrameToolCall.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// FinishReason and Usage are set for FrameEnd.
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// AppendFrame creates a text frame.
func AppendFrame(text string) StreamFrame {
	return StreamFrame{Kind: FrameAppend, Text: text}
}

// ToolCallFrame creates a tool call frame.
func ToolCallFrame(id, name string, args json.RawMessage) StreamFrame {
	return StreamFrame{Kind: FrameToolCall, ToolCall: &ToolCall{ID: id, Name: name, Arguments: args}}
}

// EndFrame creates the terminal frame.
func EndFrame(finishReason string, usage *TokenUsage) StreamFrame {
	return StreamFrame{Kind: FrameEnd, FinishReason: finishReason, Usage: usage}
}

// Collect folds a sequence of frames into response messages: appended text
// becomes one assistant message, each tool call frame its own message.
func Collect(frames []StreamFrame) []Message {
	var (
		msgs   []Message
		text   []byte
		finish string
		usage  *TokenUsage
	)
	for _, f := range frames {
		switch f.Kind {
		case FrameAppend:
			text = append(text, f.Text...)
		case FrameToolCall:
			if f.ToolCall != nil {
				msgs = append(msgs, ToolCallMessage(*f.ToolCall))
			}
		case FrameEnd:
			finish = f.FinishReason
			usage = f.Usage
		}
	}
	if len(text) > 0 {
		m := Assistant(string(text))
		m.FinishReason = finish
		m.Usage = usage
		msgs = append([]Message{m}, msgs...)
	}
	return msgs
}
