package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer and meter name.
const InstrumentationName = "github.com/randalmurphal/agentgraph"

// SpanManager handles trace span lifecycle.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts the root span of an agent run.
	StartRunSpan(ctx context.Context, strategy, runID string) (context.Context, trace.Span)

	// StartNodeSpan starts a span for a node. path is the full execution
	// path; the span should be a child of the enclosing run or subgraph span.
	StartNodeSpan(ctx context.Context, path string) (context.Context, trace.Span)

	// StartLLMSpan starts a span for an LLM request.
	StartLLMSpan(ctx context.Context, model string) (context.Context, trace.Span)

	// StartToolSpan starts a span for a tool call.
	StartToolSpan(ctx context.Context, tool, callID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the span in ctx.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager backed by tp. A nil tp uses the
// global tracer provider.
func NewSpanManager(tp trace.TracerProvider) SpanManager {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &otelSpanManager{tracer: tp.Tracer(InstrumentationName)}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, strategy, runID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("strategy.name", strategy),
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartNodeSpan(ctx context.Context, path string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agent.node."+path,
		trace.WithAttributes(attribute.String("node.path", path)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartLLMSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agent.llm",
		trace.WithAttributes(attribute.String("llm.model", model)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (m *otelSpanManager) StartToolSpan(ctx context.Context, tool, callID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "agent.tool."+tool,
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.call_id", callID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
