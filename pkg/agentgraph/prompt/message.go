// Package prompt defines the conversation model shared by the session
// manager, the tool coordinator, and checkpoints: messages, tool calls,
// tool results, stream frames, and the PromptExecutor contract.
package prompt

import (
	"encoding/json"
	"time"
)

// Kind discriminates the Message variants.
type Kind string

// Message kinds.
const (
	KindSystem     Kind = "system"
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSystem, KindUser, KindAssistant, KindToolCall, KindToolResult:
		return true
	}
	return false
}

// Message is one entry of the prompt history.
//
// Exactly one payload is meaningful per Kind: Content for system, user and
// assistant messages, ToolCall for KindToolCall, ToolResult for KindToolResult.
type Message struct {
	Kind       Kind        `json:"kind"`
	Content    string      `json:"content,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`

	// FinishReason and Usage are set on assistant responses.
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// System creates a system message.
func System(text string) Message {
	return Message{Kind: KindSystem, Content: text, Timestamp: time.Now().UTC()}
}

// User creates a user message.
func User(text string) Message {
	return Message{Kind: KindUser, Content: text, Timestamp: time.Now().UTC()}
}

// Assistant creates an assistant text message.
func Assistant(text string) Message {
	return Message{Kind: KindAssistant, Content: text, Timestamp: time.Now().UTC()}
}

// ToolCallMessage wraps a tool call requested by the model.
func ToolCallMessage(call ToolCall) Message {
	return Message{Kind: KindToolCall, ToolCall: &call, Timestamp: time.Now().UTC()}
}

// ToolResultMessage wraps a tool result for delivery back to the model.
func ToolResultMessage(result ToolResult) Message {
	return Message{Kind: KindToolResult, ToolResult: &result, Timestamp: time.Now().UTC()}
}

// ToolCall is a request to execute a tool, correlated by ID.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type toolCallJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// RawArguments holds arguments that are not valid JSON, byte for byte.
	RawArguments *string `json:"raw_arguments,omitempty"`
}

// MarshalJSON encodes the call. Models can emit malformed arguments; those
// are stored as a string under raw_arguments so a history holding them
// still serializes.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	out := toolCallJSON{ID: c.ID, Name: c.Name}
	switch {
	case len(c.Arguments) == 0:
	case json.Valid(c.Arguments):
		out.Arguments = c.Arguments
	default:
		raw := string(c.Arguments)
		out.RawArguments = &raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a call encoded by MarshalJSON.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var in toolCallJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*c = ToolCall{ID: in.ID, Name: in.Name, Arguments: in.Arguments}
	if in.RawArguments != nil {
		c.Arguments = json.RawMessage(*in.RawArguments)
	}
	return nil
}

// FailureKind classifies a failed tool result.
type FailureKind string

// Tool failure kinds.
const (
	FailureNotFound   FailureKind = "not_found"
	FailureValidation FailureKind = "validation"
	FailureExecution  FailureKind = "execution"
	FailureTimeout    FailureKind = "timeout"
	FailureCancelled  FailureKind = "cancelled"
	FailureSkipped    FailureKind = "skipped"
)

// ToolFailure describes why a tool call did not produce a payload.
type ToolFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// ToolResult is the outcome of a ToolCall. Either Content or Failure is set.
type ToolResult struct {
	CallID  string       `json:"call_id"`
	Name    string       `json:"name"`
	Content string       `json:"content,omitempty"`
	Failure *ToolFailure `json:"failure,omitempty"`
}

// Failed reports whether the result carries a failure.
func (r ToolResult) Failed() bool {
	return r.Failure != nil
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// CloneMessage returns a deep copy of m.
func CloneMessage(m Message) Message {
	out := m
	if m.ToolCall != nil {
		call := *m.ToolCall
		if m.ToolCall.Arguments != nil {
			call.Arguments = append(json.RawMessage(nil), m.ToolCall.Arguments...)
		}
		out.ToolCall = &call
	}
	if m.ToolResult != nil {
		result := *m.ToolResult
		if m.ToolResult.Failure != nil {
			failure := *m.ToolResult.Failure
			result.Failure = &failure
		}
		out.ToolResult = &result
	}
	if m.Usage != nil {
		usage := *m.Usage
		out.Usage = &usage
	}
	return out
}

// CloneMessages returns deep copies of all messages.
// A nil input yields a nil result.
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i := range in {
		out[i] = CloneMessage(in[i])
	}
	return out
}

// ToolCalls extracts the tool calls from msgs, in order.
func ToolCalls(msgs []Message) []ToolCall {
	var calls []ToolCall
	for _, m := range msgs {
		if m.Kind == KindToolCall && m.ToolCall != nil {
			calls = append(calls, *m.ToolCall)
		}
	}
	return calls
}

// LastAssistant returns the last assistant message in msgs.
func LastAssistant(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == KindAssistant {
			return msgs[i], true
		}
	}
	return Message{}, false
}
