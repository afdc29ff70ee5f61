package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestSpanManager(t *testing.T) (*tracetest.InMemoryExporter, SpanManager) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, NewSpanManager(tp)
}

func TestSpanManager_Hierarchy(t *testing.T) {
	exporter, sm := newTestSpanManager(t)

	ctx, run := sm.StartRunSpan(context.Background(), "support", "run-1")
	nodeCtx, node := sm.StartNodeSpan(ctx, "root/tools")
	_, tool := sm.StartToolSpan(nodeCtx, "search", "c1")
	sm.EndSpanWithError(tool, errors.New("boom"))
	sm.AddSpanEvent(nodeCtx, "checkpoint", attribute.Int64("version", 2))
	sm.EndSpanWithError(node, nil)
	sm.EndSpanWithError(run, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}
	toolSpan := byName["agent.tool.search"]
	nodeSpan := byName["agent.node.root/tools"]
	runSpan := byName["agent.run"]

	assert.Equal(t, nodeSpan.SpanContext.SpanID(), toolSpan.Parent.SpanID())
	assert.Equal(t, runSpan.SpanContext.SpanID(), nodeSpan.Parent.SpanID())
	assert.Equal(t, codes.Error, toolSpan.Status.Code)
	assert.Equal(t, codes.Ok, nodeSpan.Status.Code)
	require.Len(t, nodeSpan.Events, 1)
	assert.Equal(t, "checkpoint", nodeSpan.Events[0].Name)
	assert.Contains(t, runSpan.Attributes, attribute.String("run.id", "run-1"))
}

func TestSpanManager_LLMSpan(t *testing.T) {
	exporter, sm := newTestSpanManager(t)
	_, span := sm.StartLLMSpan(context.Background(), "openai/gpt")
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes, attribute.String("llm.model", "openai/gpt"))
}

func TestEndSpanWithError_Nil(t *testing.T) {
	assert.NotPanics(t, func() { EndSpanWithError(nil, nil) })
}
