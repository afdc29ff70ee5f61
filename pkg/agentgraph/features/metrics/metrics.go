// Package metrics is a pipeline feature that records agent metrics from
// lifecycle events. It works with any observability.MetricsRecorder, so
// the same feature exports to OpenTelemetry or Prometheus.
package metrics

import (
	"context"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
)

// Name is the feature name.
const Name = "metrics"

// Feature forwards events to a recorder.
type Feature struct {
	recorder observability.MetricsRecorder
}

// New creates a metrics feature. A nil recorder records nothing.
func New(recorder observability.MetricsRecorder) *Feature {
	if recorder == nil {
		recorder = observability.NoopMetrics{}
	}
	return &Feature{recorder: recorder}
}

// Name implements pipeline.Feature.
func (f *Feature) Name() string { return Name }

// Install implements pipeline.Feature.
func (f *Feature) Install(p *pipeline.Pipeline) error {
	p.Register(pipeline.AgentCompleted, Name, f.run)
	p.Register(pipeline.AgentExecutionFailed, Name, f.run)

	for _, h := range []pipeline.Hook{pipeline.NodeCompleted, pipeline.NodeFailed, pipeline.SubgraphCompleted, pipeline.SubgraphFailed} {
		p.Register(h, Name, f.node)
	}
	for _, h := range []pipeline.Hook{pipeline.LLMCallCompleted, pipeline.StreamingCompleted, pipeline.StreamingFailed} {
		p.Register(h, Name, f.llm)
	}
	for _, h := range []pipeline.Hook{pipeline.ToolCallCompleted, pipeline.ToolCallFailed, pipeline.ToolCallValidationFailed} {
		p.Register(h, Name, f.tool)
	}
	p.Register(pipeline.CheckpointSaved, Name, f.checkpoint)
	return nil
}

func (f *Feature) run(ctx context.Context, evt pipeline.Event) error {
	f.recorder.RecordRun(ctx, evt.Strategy, evt.Hook == pipeline.AgentCompleted, evt.Duration)
	return nil
}

func (f *Feature) node(ctx context.Context, evt pipeline.Event) error {
	f.recorder.RecordNodeExecution(ctx, evt.Path, evt.Duration, evt.Err)
	return nil
}

func (f *Feature) llm(ctx context.Context, evt pipeline.Event) error {
	f.recorder.RecordLLMCall(ctx, evt.Model.String(), evt.Duration, evt.Err)
	return nil
}

func (f *Feature) tool(ctx context.Context, evt pipeline.Event) error {
	if evt.ToolCall == nil {
		return nil
	}
	failure := ""
	if evt.ToolResult != nil && evt.ToolResult.Failure != nil {
		failure = string(evt.ToolResult.Failure.Kind)
	}
	f.recorder.RecordToolCall(ctx, evt.ToolCall.Name, evt.Duration, failure)
	return nil
}

func (f *Feature) checkpoint(ctx context.Context, evt pipeline.Event) error {
	if evt.Tombstone {
		return nil
	}
	f.recorder.RecordCheckpoint(ctx, evt.Path, int64(evt.CheckpointSize))
	return nil
}
