package prompt

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrScriptExhausted is returned by ScriptedExecutor when no responses remain.
var ErrScriptExhausted = errors.New("scripted executor: no responses left")

// ScriptedExecutor replays canned responses in order.
// It is intended for tests and examples. Safe for concurrent use.
type ScriptedExecutor struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	prompts   []Prompt
}

// ScriptedResponse is one canned reply. If Err is set it is returned
// instead of Messages.
type ScriptedResponse struct {
	Messages []Message
	Err      error
}

// NewScriptedExecutor creates an executor that returns responses in order.
func NewScriptedExecutor(responses ...ScriptedResponse) *ScriptedExecutor {
	return &ScriptedExecutor{responses: responses}
}

// Reply is shorthand for a successful ScriptedResponse.
func Reply(msgs ...Message) ScriptedResponse {
	return ScriptedResponse{Messages: msgs}
}

// Push appends more responses to the script.
func (s *ScriptedExecutor) Push(responses ...ScriptedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

// Prompts returns copies of every prompt received so far.
func (s *ScriptedExecutor) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prompt, len(s.prompts))
	for i, p := range s.prompts {
		out[i] = p
		out[i].Messages = CloneMessages(p.Messages)
	}
	return out
}

func (s *ScriptedExecutor) next(p Prompt) (ScriptedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Messages = CloneMessages(p.Messages)
	s.prompts = append(s.prompts, p)
	if len(s.responses) == 0 {
		return ScriptedResponse{}, ErrScriptExhausted
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

// Execute implements Executor.
func (s *ScriptedExecutor) Execute(ctx context.Context, p Prompt, _ Model, _ []ToolDescriptor) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.next(p)
	if err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return CloneMessages(r.Messages), nil
}

// ExecuteStreaming implements Executor by splitting the next response into
// frames: assistant text as one append frame, each tool call as a tool call
// frame, followed by an end frame.
func (s *ScriptedExecutor) ExecuteStreaming(ctx context.Context, p Prompt, _ Model, _ []ToolDescriptor) iter.Seq2[StreamFrame, error] {
	return func(yield func(StreamFrame, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(StreamFrame{}, err)
			return
		}
		r, err := s.next(p)
		if err != nil {
			yield(StreamFrame{}, err)
			return
		}
		if r.Err != nil {
			yield(StreamFrame{}, r.Err)
			return
		}
		finish := "stop"
		for _, m := range r.Messages {
			var f StreamFrame
			switch m.Kind {
			case KindAssistant:
				f = AppendFrame(m.Content)
			case KindToolCall:
				f = ToolCallFrame(m.ToolCall.ID, m.ToolCall.Name, m.ToolCall.Arguments)
				finish = "tool_calls"
			default:
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
		yield(EndFrame(finish, nil), nil)
	}
}
