package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder is a MetricsRecorder that exports Prometheus
// collectors.
type PrometheusRecorder struct {
	nodeExecutions *prometheus.CounterVec
	nodeLatency    *prometheus.HistogramVec
	nodeErrors     *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runLatency     *prometheus.HistogramVec
	checkpointSize *prometheus.HistogramVec
	llmCalls       *prometheus.CounterVec
	llmLatency     *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	toolLatency    *prometheus.HistogramVec
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates the collectors and registers them with
// reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusRecorder(reg prometheus.Registerer, namespace string) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "agentgraph"
	}
	seconds := prometheus.DefBuckets

	r := &PrometheusRecorder{
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "node_executions_total", Help: "Number of node executions.",
		}, []string{"node"}),
		nodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "node_duration_seconds", Help: "Node execution latency.", Buckets: seconds,
		}, []string{"node"}),
		nodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "node_errors_total", Help: "Number of failed node executions.",
		}, []string{"node"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total", Help: "Number of agent runs.",
		}, []string{"strategy", "success"}),
		runLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds", Help: "Agent run latency.", Buckets: seconds,
		}, []string{"strategy"}),
		checkpointSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "checkpoint_size_bytes", Help: "Checkpoint size.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"node"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_calls_total", Help: "Number of LLM requests.",
		}, []string{"model", "success"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "llm_duration_seconds", Help: "LLM request latency.", Buckets: seconds,
		}, []string{"model"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tool_calls_total", Help: "Number of tool calls.",
		}, []string{"tool", "failure"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tool_duration_seconds", Help: "Tool call latency.", Buckets: seconds,
		}, []string{"tool"}),
	}

	for _, c := range []prometheus.Collector{
		r.nodeExecutions, r.nodeLatency, r.nodeErrors, r.runs, r.runLatency,
		r.checkpointSize, r.llmCalls, r.llmLatency, r.toolCalls, r.toolLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RecordNodeExecution implements MetricsRecorder.
func (r *PrometheusRecorder) RecordNodeExecution(_ context.Context, node string, duration time.Duration, err error) {
	r.nodeExecutions.WithLabelValues(node).Inc()
	r.nodeLatency.WithLabelValues(node).Observe(duration.Seconds())
	if err != nil {
		r.nodeErrors.WithLabelValues(node).Inc()
	}
}

// RecordRun implements MetricsRecorder.
func (r *PrometheusRecorder) RecordRun(_ context.Context, strategy string, success bool, duration time.Duration) {
	r.runs.WithLabelValues(strategy, strconv.FormatBool(success)).Inc()
	r.runLatency.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordCheckpoint implements MetricsRecorder.
func (r *PrometheusRecorder) RecordCheckpoint(_ context.Context, node string, sizeBytes int64) {
	r.checkpointSize.WithLabelValues(node).Observe(float64(sizeBytes))
}

// RecordLLMCall implements MetricsRecorder.
func (r *PrometheusRecorder) RecordLLMCall(_ context.Context, model string, duration time.Duration, err error) {
	r.llmCalls.WithLabelValues(model, strconv.FormatBool(err == nil)).Inc()
	r.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordToolCall implements MetricsRecorder.
func (r *PrometheusRecorder) RecordToolCall(_ context.Context, tool string, duration time.Duration, failure string) {
	r.toolCalls.WithLabelValues(tool, failure).Inc()
	r.toolLatency.WithLabelValues(tool).Observe(duration.Seconds())
}
