package session

import (
	"context"
	"fmt"
	"time"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// ReadSession is a read-only view of the history at acquisition time.
type ReadSession struct {
	m       *Manager
	history []prompt.Message
}

// History returns a copy of the snapshot.
func (s *ReadSession) History() []prompt.Message {
	return prompt.CloneMessages(s.history)
}

// Len returns the number of messages in the snapshot.
func (s *ReadSession) Len() int { return len(s.history) }

// LastAssistant returns the last assistant message in the snapshot.
func (s *ReadSession) LastAssistant() (prompt.Message, bool) {
	return prompt.LastAssistant(s.history)
}

// Model returns the manager's model.
func (s *ReadSession) Model() prompt.Model { return s.m.model }

// WriteSession mutates the history. It is valid only inside the Write
// callback that produced it.
type WriteSession struct {
	m *Manager
}

// History returns a copy of the current history.
func (s *WriteSession) History() []prompt.Message {
	return s.m.Snapshot()
}

// Append adds messages to the end of the history.
func (s *WriteSession) Append(msgs ...prompt.Message) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.history = append(s.m.history, prompt.CloneMessages(msgs)...)
}

// AppendUser appends a user message.
func (s *WriteSession) AppendUser(text string) {
	s.Append(prompt.User(text))
}

// AppendToolResults appends one tool result message per result, in order.
func (s *WriteSession) AppendToolResults(results []prompt.ToolResult) {
	msgs := make([]prompt.Message, len(results))
	for i, r := range results {
		msgs[i] = prompt.ToolResultMessage(r)
	}
	s.Append(msgs...)
}

// Rewrite replaces the history with fn's result. fn receives a copy.
func (s *WriteSession) Rewrite(fn func([]prompt.Message) []prompt.Message) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.history = prompt.CloneMessages(fn(prompt.CloneMessages(s.m.history)))
}

// Clear empties the history.
func (s *WriteSession) Clear() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.history = nil
}

// RequestOption tunes a single request.
type RequestOption func(*request)

type request struct {
	noTools bool
}

// WithoutTools sends the request with no tool descriptors.
func WithoutTools() RequestOption {
	return func(r *request) { r.noTools = true }
}

// RequestError wraps a failed LLM request.
type RequestError struct {
	Model    prompt.Model
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("llm request to %s failed after %d attempt(s): %v", e.Model, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

func (s *WriteSession) buildPrompt(opts []RequestOption) (prompt.Prompt, []prompt.ToolDescriptor) {
	var r request
	for _, opt := range opts {
		opt(&r)
	}
	p := prompt.Prompt{
		ID:       s.m.promptID,
		Messages: s.m.Snapshot(),
		Params:   s.m.params,
	}
	var tools []prompt.ToolDescriptor
	if !r.noTools {
		tools = s.m.descriptors()
	}
	return p, tools
}

// RequestLLM sends the history to the model and appends the response.
// Timeouts and transient failures follow the manager's policy.
func (s *WriteSession) RequestLLM(ctx context.Context, opts ...RequestOption) ([]prompt.Message, error) {
	p, tools := s.buildPrompt(opts)
	m := s.m

	m.emit(ctx, pipeline.Event{Hook: pipeline.LLMCallStarting, Prompt: &p, Model: m.model})
	start := time.Now()

	resp, attempts, err := agerrors.Do(ctx, m.policy, "llm call "+m.model.String(),
		func(ctx context.Context) ([]prompt.Message, error) {
			return m.executor.Execute(ctx, p, m.model, tools)
		})
	elapsed := time.Since(start)
	observability.LogLLMCall(m.logger, m.model.String(), attempts, float64(elapsed.Microseconds())/1000, err)

	if err != nil {
		err = &RequestError{Model: m.model, Attempts: attempts, Err: err}
		m.emit(ctx, pipeline.Event{Hook: pipeline.LLMCallCompleted, Prompt: &p, Model: m.model, Err: err, Duration: elapsed})
		return nil, err
	}

	s.Append(resp...)
	m.emit(ctx, pipeline.Event{
		Hook: pipeline.LLMCallCompleted, Prompt: &p, Model: m.model,
		Responses: prompt.CloneMessages(resp), Duration: elapsed,
	})
	return resp, nil
}

// RequestLLMStreaming streams the response, calling onFrame for every
// frame, then appends the collected messages. A failing onFrame aborts the
// stream. Retries happen only before the first frame is delivered.
func (s *WriteSession) RequestLLMStreaming(
	ctx context.Context,
	onFrame func(prompt.StreamFrame) error,
	opts ...RequestOption,
) ([]prompt.Message, error) {
	p, tools := s.buildPrompt(opts)
	m := s.m

	m.emit(ctx, pipeline.Event{Hook: pipeline.StreamingStarting, Prompt: &p, Model: m.model})
	start := time.Now()

	delivered := false
	policy := m.policy
	policy.Retry.RetryableFunc = func(err error) bool {
		return !delivered && agerrors.IsRetryable(err)
	}

	frames, attempts, err := agerrors.Do(ctx, policy, "llm stream "+m.model.String(),
		func(ctx context.Context) ([]prompt.StreamFrame, error) {
			var got []prompt.StreamFrame
			for frame, err := range m.executor.ExecuteStreaming(ctx, p, m.model, tools) {
				if err != nil {
					return nil, err
				}
				delivered = true
				got = append(got, frame)
				f := frame
				m.emit(ctx, pipeline.Event{Hook: pipeline.StreamingFrame, Frame: &f, Model: m.model})
				if onFrame != nil {
					if err := onFrame(frame); err != nil {
						return nil, agerrors.Permanent(err, "frame callback")
					}
				}
			}
			return got, nil
		})
	elapsed := time.Since(start)
	observability.LogLLMCall(m.logger, m.model.String(), attempts, float64(elapsed.Microseconds())/1000, err)

	if err != nil {
		err = &RequestError{Model: m.model, Attempts: attempts, Err: err}
		m.emit(ctx, pipeline.Event{Hook: pipeline.StreamingFailed, Prompt: &p, Model: m.model, Err: err, Duration: elapsed})
		return nil, err
	}

	resp := prompt.Collect(frames)
	s.Append(resp...)
	m.emit(ctx, pipeline.Event{
		Hook: pipeline.StreamingCompleted, Prompt: &p, Model: m.model,
		Responses: prompt.CloneMessages(resp), Duration: elapsed,
	})
	return resp, nil
}
