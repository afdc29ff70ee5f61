package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records agent metrics.
// Use NewMetricsRecorder for OTel, NewPrometheusRecorder for Prometheus, or
// NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, node string, duration time.Duration, err error)

	// RecordRun records an agent run completion.
	RecordRun(ctx context.Context, strategy string, success bool, duration time.Duration)

	// RecordCheckpoint records a checkpoint save.
	RecordCheckpoint(ctx context.Context, node string, sizeBytes int64)

	// RecordLLMCall records an LLM request.
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error)

	// RecordToolCall records a tool call. failure is empty on success.
	RecordToolCall(ctx context.Context, tool string, duration time.Duration, failure string)
}

type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	runs           metric.Int64Counter
	runLatency     metric.Float64Histogram
	checkpointSize metric.Int64Histogram
	llmCalls       metric.Int64Counter
	llmLatency     metric.Float64Histogram
	toolCalls      metric.Int64Counter
	toolLatency    metric.Float64Histogram
}

// NewMetricsRecorder returns an OpenTelemetry MetricsRecorder backed by
// mp. A nil mp uses the global meter provider.
func NewMetricsRecorder(mp metric.MeterProvider) (MetricsRecorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(InstrumentationName)
	m := &otelMetrics{}

	var err error
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	latency := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		return h
	}

	m.nodeExecutions = counter("agentgraph.node.executions", "Number of node executions")
	m.nodeLatency = latency("agentgraph.node.latency_ms", "Node execution latency in milliseconds")
	m.nodeErrors = counter("agentgraph.node.errors", "Number of node execution errors")
	m.runs = counter("agentgraph.runs", "Number of agent runs")
	m.runLatency = latency("agentgraph.run.latency_ms", "Agent run latency in milliseconds")
	m.llmCalls = counter("agentgraph.llm.calls", "Number of LLM requests")
	m.llmLatency = latency("agentgraph.llm.latency_ms", "LLM request latency in milliseconds")
	m.toolCalls = counter("agentgraph.tool.calls", "Number of tool calls")
	m.toolLatency = latency("agentgraph.tool.latency_ms", "Tool call latency in milliseconds")
	if err != nil {
		return nil, err
	}

	m.checkpointSize, err = meter.Int64Histogram("agentgraph.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, node string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node", node))
	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, ms(duration), attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordRun(ctx context.Context, strategy string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("success", success),
	)
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, ms(duration), attrs)
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, node string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node", node)))
}

func (m *otelMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.Bool("success", err == nil),
	)
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, ms(duration), attrs)
}

func (m *otelMetrics) RecordToolCall(ctx context.Context, tool string, duration time.Duration, failure string) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("failure", failure),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolLatency.Record(ctx, ms(duration), attrs)
}
