// Package tracing is a pipeline feature that turns agent lifecycle events
// into OpenTelemetry spans.
//
// The span tree mirrors execution: one run span per agent run, a child
// span per node or subgraph (nested by execution path), and LLM and tool
// spans under the node that issued them.
package tracing

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
)

// Name is the feature name.
const Name = "tracing"

var errClosed = errors.New("span left open when the agent closed")

// Feature records spans through a SpanManager.
type Feature struct {
	spans observability.SpanManager

	mu   sync.Mutex
	open map[string]trace.Span
}

// New creates a tracing feature. A nil tp uses the global tracer provider.
func New(tp trace.TracerProvider) *Feature {
	return NewWithSpanManager(observability.NewSpanManager(tp))
}

// NewWithSpanManager creates a tracing feature over sm.
func NewWithSpanManager(sm observability.SpanManager) *Feature {
	return &Feature{spans: sm, open: make(map[string]trace.Span)}
}

// Name implements pipeline.Feature.
func (f *Feature) Name() string { return Name }

// Install implements pipeline.Feature.
func (f *Feature) Install(p *pipeline.Pipeline) error {
	p.Register(pipeline.AgentStarting, Name, f.runStarting)
	p.Register(pipeline.AgentCompleted, Name, f.runEnded)
	p.Register(pipeline.AgentExecutionFailed, Name, f.runEnded)

	for _, h := range []pipeline.Hook{pipeline.NodeStarting, pipeline.SubgraphStarting} {
		p.Register(h, Name, f.nodeStarting)
	}
	for _, h := range []pipeline.Hook{pipeline.NodeCompleted, pipeline.NodeFailed, pipeline.SubgraphCompleted, pipeline.SubgraphFailed} {
		p.Register(h, Name, f.nodeEnded)
	}

	p.Register(pipeline.LLMCallStarting, Name, f.llmStarting)
	p.Register(pipeline.StreamingStarting, Name, f.llmStarting)
	p.Register(pipeline.LLMCallCompleted, Name, f.llmEnded)
	p.Register(pipeline.StreamingCompleted, Name, f.llmEnded)
	p.Register(pipeline.StreamingFailed, Name, f.llmEnded)
	p.Register(pipeline.StreamingFrame, Name, f.streamFrame)

	p.Register(pipeline.ToolCallStarting, Name, f.toolStarting)
	for _, h := range []pipeline.Hook{pipeline.ToolCallCompleted, pipeline.ToolCallFailed, pipeline.ToolCallValidationFailed} {
		p.Register(h, Name, f.toolEnded)
	}

	p.Register(pipeline.CheckpointSaved, Name, f.checkpoint)
	p.Register(pipeline.CheckpointFailed, Name, f.checkpoint)
	return nil
}

// Close ends spans that are still open, marking them failed.
func (f *Feature) Close(context.Context) error {
	f.mu.Lock()
	open := f.open
	f.open = make(map[string]trace.Span)
	f.mu.Unlock()

	for _, span := range open {
		f.spans.EndSpanWithError(span, errClosed)
	}
	return nil
}

// OpenSpans returns the number of spans not yet ended.
func (f *Feature) OpenSpans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open)
}

func runKey(evt pipeline.Event) string             { return evt.RunID }
func nodeKey(runID, path string) string            { return runID + "|node|" + path }
func llmKey(evt pipeline.Event) string             { return evt.RunID + "|llm|" + evt.Path }
func toolKey(evt pipeline.Event, id string) string { return evt.RunID + "|tool|" + id }

func (f *Feature) put(key string, span trace.Span) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[key] = span
}

func (f *Feature) take(key string) trace.Span {
	f.mu.Lock()
	defer f.mu.Unlock()
	span := f.open[key]
	delete(f.open, key)
	return span
}

func (f *Feature) lookup(key string) trace.Span {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[key]
}

// parent returns ctx carrying the closest open span above path: the
// enclosing subgraph, or the run.
func (f *Feature) parent(ctx context.Context, runID, path string) context.Context {
	if path != "" {
		if span := f.lookup(nodeKey(runID, path)); span != nil {
			return trace.ContextWithSpan(ctx, span)
		}
	}
	if span := f.lookup(runID); span != nil {
		return trace.ContextWithSpan(ctx, span)
	}
	return ctx
}

func (f *Feature) runStarting(ctx context.Context, evt pipeline.Event) error {
	_, span := f.spans.StartRunSpan(ctx, evt.Strategy, evt.RunID)
	if evt.AgentID != "" {
		span.SetAttributes(attribute.String("agent.id", evt.AgentID))
	}
	f.put(runKey(evt), span)
	return nil
}

func (f *Feature) runEnded(_ context.Context, evt pipeline.Event) error {
	if span := f.take(runKey(evt)); span != nil {
		f.spans.EndSpanWithError(span, evt.Err)
	}
	return nil
}

func (f *Feature) nodeStarting(ctx context.Context, evt pipeline.Event) error {
	_, span := f.spans.StartNodeSpan(f.parent(ctx, evt.RunID, evt.ParentPath), evt.Path)
	span.SetAttributes(
		attribute.String("node.name", evt.Node),
		attribute.Int("iteration", evt.Iteration),
	)
	if evt.Hook == pipeline.SubgraphStarting {
		span.SetAttributes(attribute.Bool("node.subgraph", true))
	}
	f.put(nodeKey(evt.RunID, evt.Path), span)
	return nil
}

func (f *Feature) nodeEnded(_ context.Context, evt pipeline.Event) error {
	if span := f.take(nodeKey(evt.RunID, evt.Path)); span != nil {
		f.spans.EndSpanWithError(span, evt.Err)
	}
	return nil
}

func (f *Feature) llmStarting(ctx context.Context, evt pipeline.Event) error {
	_, span := f.spans.StartLLMSpan(f.parent(ctx, evt.RunID, evt.Path), evt.Model.String())
	if evt.Prompt != nil {
		span.SetAttributes(
			attribute.String("llm.prompt_id", evt.Prompt.ID),
			attribute.Int("llm.messages", len(evt.Prompt.Messages)),
		)
	}
	f.put(llmKey(evt), span)
	return nil
}

func (f *Feature) llmEnded(_ context.Context, evt pipeline.Event) error {
	span := f.take(llmKey(evt))
	if span == nil {
		return nil
	}
	span.SetAttributes(attribute.Int("llm.responses", len(evt.Responses)))
	f.spans.EndSpanWithError(span, evt.Err)
	return nil
}

func (f *Feature) streamFrame(ctx context.Context, evt pipeline.Event) error {
	span := f.lookup(llmKey(evt))
	if span == nil || evt.Frame == nil {
		return nil
	}
	f.spans.AddSpanEvent(trace.ContextWithSpan(ctx, span), "llm.frame",
		attribute.String("frame.kind", string(evt.Frame.Kind)))
	return nil
}

func (f *Feature) toolStarting(ctx context.Context, evt pipeline.Event) error {
	if evt.ToolCall == nil {
		return nil
	}
	_, span := f.spans.StartToolSpan(f.parent(ctx, evt.RunID, evt.Path), evt.ToolCall.Name, evt.ToolCall.ID)
	f.put(toolKey(evt, evt.ToolCall.ID), span)
	return nil
}

func (f *Feature) toolEnded(_ context.Context, evt pipeline.Event) error {
	if evt.ToolCall == nil {
		return nil
	}
	span := f.take(toolKey(evt, evt.ToolCall.ID))
	if span == nil {
		return nil
	}
	var err error
	if r := evt.ToolResult; r != nil && r.Failure != nil {
		span.SetAttributes(attribute.String("tool.failure", string(r.Failure.Kind)))
		err = errors.New(r.Failure.Message)
	}
	f.spans.EndSpanWithError(span, err)
	return nil
}

func (f *Feature) checkpoint(ctx context.Context, evt pipeline.Event) error {
	span := f.lookup(runKey(evt))
	if span == nil {
		return nil
	}
	attrs := []attribute.KeyValue{
		attribute.String("checkpoint.id", evt.CheckpointID),
		attribute.Int64("checkpoint.version", evt.CheckpointVersion),
		attribute.Bool("checkpoint.tombstone", evt.Tombstone),
	}
	if evt.Err != nil {
		attrs = append(attrs, attribute.String("error", evt.Err.Error()))
	}
	f.spans.AddSpanEvent(trace.ContextWithSpan(ctx, span), string(evt.Hook), attrs...)
	return nil
}
