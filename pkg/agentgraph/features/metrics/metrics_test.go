package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/features/metrics"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

func TestFeature_RecordsToPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := observability.NewPrometheusRecorder(reg, "test")
	require.NoError(t, err)

	p := pipeline.New()
	require.NoError(t, p.Install(metrics.New(rec)))
	ctx := context.Background()

	call := prompt.ToolCall{ID: "c1", Name: "search"}
	events := []pipeline.Event{
		{Hook: pipeline.NodeCompleted, Path: "root/plan", Duration: time.Millisecond},
		{Hook: pipeline.NodeFailed, Path: "root/plan", Err: errors.New("boom")},
		{Hook: pipeline.LLMCallCompleted, Model: prompt.Model{Provider: "test", ID: "m"}},
		{Hook: pipeline.ToolCallCompleted, ToolCall: &call, ToolResult: &prompt.ToolResult{CallID: "c1"}},
		{Hook: pipeline.ToolCallFailed, ToolCall: &call, ToolResult: &prompt.ToolResult{
			CallID: "c1", Failure: &prompt.ToolFailure{Kind: prompt.FailureTimeout},
		}},
		{Hook: pipeline.CheckpointSaved, Path: "root/plan", CheckpointSize: 512},
		{Hook: pipeline.CheckpointSaved, Tombstone: true},
		{Hook: pipeline.AgentCompleted, Strategy: "support"},
	}
	for _, evt := range events {
		require.NoError(t, p.Invoke(ctx, evt))
	}

	assert.Equal(t, 2.0, counterSum(t, reg, "test_node_executions_total"))
	assert.Equal(t, 1.0, counterSum(t, reg, "test_node_errors_total"))
	for name, want := range map[string]int{
		"test_llm_calls_total":       1,
		"test_tool_calls_total":      2,
		"test_checkpoint_size_bytes": 1,
		"test_runs_total":            1,
	} {
		n, err := testutil.GatherAndCount(reg, name)
		require.NoError(t, err)
		assert.Equal(t, want, n, name)
	}
}

// counterSum sums every series of the named counter family.
func counterSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestFeature_NilRecorder(t *testing.T) {
	p := pipeline.New()
	require.NoError(t, p.Install(metrics.New(nil)))
	assert.NoError(t, p.Invoke(context.Background(), pipeline.Event{Hook: pipeline.AgentCompleted}))
	assert.Equal(t, []string{metrics.Name}, p.Features())
}
