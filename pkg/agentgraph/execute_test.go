package agentgraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
)

func TestRun_AppendsInNodeOrder(t *testing.T) {
	rec := &recorder{}
	a := newAgent(t, linear(t, "abc", "nodeA", "nodeB"), WithFeatures(rec))

	out, err := RunTyped[string](context.Background(), a, "x")

	require.NoError(t, err)
	assert.Equal(t, "xAB", out)
	assert.Equal(t,
		[]string{"abc/" + StartNode, "abc/nodeA", "abc/nodeB", "abc/" + FinishNode},
		rec.paths(pipeline.NodeStarting))

	completed := rec.of(pipeline.AgentCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "xAB", completed[0].Output)
	assert.Equal(t, 4, completed[0].Iteration)
	assert.Equal(t, "abc", completed[0].Strategy)
	assert.NotEmpty(t, completed[0].RunID)
}

func TestRun_EventOrder(t *testing.T) {
	rec := &recorder{}
	a := newAgent(t, linear(t, "one", "nodeA"), WithFeatures(rec))

	_, err := a.Run(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, []pipeline.Hook{
		pipeline.AgentStarting,
		pipeline.StrategyStarting,
		pipeline.NodeStarting, pipeline.NodeCompleted, // start
		pipeline.NodeStarting, pipeline.NodeCompleted, // nodeA
		pipeline.NodeStarting, pipeline.NodeCompleted, // finish
		pipeline.StrategyCompleted,
		pipeline.AgentCompleted,
		pipeline.AgentClosing,
	}, rec.hooks())
	assert.Equal(t, 1, rec.closed)
}

func TestRun_FirstAcceptingEdgeAndOnlyItsTransform(t *testing.T) {
	var firstTransform atomic.Int32
	s, err := NewStrategy[int, string]("route").
		AddNode(NewNode("pick", func(_ Context, n int) (int, error) { return n, nil })).
		AddEdge(StartNode, "pick").
		AddEdge("pick", FinishNode,
			When(func(_ Context, n int) bool { return n > 5 }),
			Transform(func(_ Context, n int) (string, error) {
				firstTransform.Add(1)
				return "big", nil
			})).
		AddEdge("pick", FinishNode,
			When(func(_ Context, n int) bool { return n > 0 }),
			Transform(func(_ Context, n int) (string, error) { return fmt.Sprintf("small-%d", n), nil })).
		AddEdge("pick", FinishNode,
			Transform(func(_ Context, n int) (string, error) { return "fallback", nil })).
		Build()
	require.NoError(t, err)

	out, err := RunTyped[string](context.Background(), newAgent(t, s), 2)

	require.NoError(t, err)
	assert.Equal(t, "small-2", out)
	assert.Zero(t, firstTransform.Load())
}

func TestRun_IterationLimitAfterExactlyKEntries(t *testing.T) {
	const limit = 5
	s, err := NewStrategy[int, int]("loop").
		AddNode(NewNode("spin", func(_ Context, n int) (int, error) { return n + 1, nil })).
		AddEdge(StartNode, "spin").
		AddEdge("spin", "spin").
		AddEdge("spin", FinishNode, When(func(_ Context, n int) bool { return n < 0 })).
		Build()
	require.NoError(t, err)

	rec := &recorder{}
	_, err = newAgent(t, s, WithMaxIterations(limit), WithFeatures(rec)).Run(context.Background(), 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIterationLimitExceeded)
	assert.True(t, agerrors.IsFatal(err))
	var limitErr *IterationLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, limit, limitErr.Max)
	assert.Equal(t, "loop/spin", limitErr.Path)
	assert.Len(t, rec.of(pipeline.NodeStarting), limit)
	assert.Len(t, rec.of(pipeline.AgentExecutionFailed), 1)
}

func TestRun_NoAcceptingEdgeEndsWithCurrentOutput(t *testing.T) {
	s, err := NewStrategy[string, string]("stop").
		AddNode(appendNode("a", "a")).
		AddEdge(StartNode, "a").
		AddEdge("a", FinishNode, When(func(_ Context, s string) bool { return s == "never" })).
		Build()
	require.NoError(t, err)

	out, err := newAgent(t, s).Run(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "xa", out)
}

func TestRun_NodeErrorCarriesPath(t *testing.T) {
	boom := errors.New("boom")
	s, err := NewStrategy[string, string]("fail").
		AddNode(NewNode("bad", func(_ Context, s string) (string, error) { return "", boom })).
		AddEdge(StartNode, "bad").
		AddEdge("bad", FinishNode).
		Build()
	require.NoError(t, err)

	rec := &recorder{}
	_, err = newAgent(t, s, WithFeatures(rec)).Run(context.Background(), "x")

	require.ErrorIs(t, err, boom)
	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "bad", nodeErr.Node)
	assert.Equal(t, "fail/bad", nodeErr.Path)

	failed := rec.of(pipeline.NodeFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "fail/bad", failed[0].Path)
	require.Len(t, rec.of(pipeline.AgentExecutionFailed), 1)
	assert.Empty(t, rec.of(pipeline.AgentCompleted))
	assert.Equal(t, 1, rec.closed, "features are closed after a failed run")
}

func TestRun_PanicBecomesPanicError(t *testing.T) {
	s, err := NewStrategy[string, string]("panic").
		AddNode(NewNode("explode", func(_ Context, s string) (string, error) { panic("kaboom") })).
		AddEdge(StartNode, "explode").
		AddEdge("explode", FinishNode).
		Build()
	require.NoError(t, err)

	_, err = newAgent(t, s).Run(context.Background(), "x")

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.Equal(t, "panic/explode", panicErr.Path)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestRun_PanicInConditionBecomesEdgeError(t *testing.T) {
	s, err := NewStrategy[string, string]("edge").
		AddEdge(StartNode, FinishNode, When(func(_ Context, s string) bool { panic("bad condition") })).
		Build()
	require.NoError(t, err)

	_, err = newAgent(t, s).Run(context.Background(), "x")

	var edgeErr *EdgeError
	require.ErrorAs(t, err, &edgeErr)
	assert.Equal(t, "condition", edgeErr.Op)
	assert.Equal(t, FinishNode, edgeErr.To)
}

func TestRun_RecoverReportsAndContinues(t *testing.T) {
	flaky := errors.New("upstream unavailable")
	s, err := NewStrategy[string, string]("recover").
		AddNode(NewNode("fetch", func(_ Context, s string) (string, error) {
			return "", Recover(s+"-cached", flaky)
		})).
		AddNode(appendNode("b", "B")).
		AddEdge(StartNode, "fetch").
		AddEdge("fetch", "b").
		AddEdge("b", FinishNode).
		Build()
	require.NoError(t, err)

	rec := &recorder{}
	out, err := newAgent(t, s, WithFeatures(rec)).Run(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "x-cachedB", out)
	failed := rec.of(pipeline.NodeFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, flaky)
	assert.Equal(t, "recover/fetch", failed[0].Path)
}

func TestRun_FinishJumpsToFinishNode(t *testing.T) {
	var skipped atomic.Bool
	s, err := NewStrategy[string, string]("early").
		AddNode(NewNode("decide", func(_ Context, s string) (string, error) { return "", Finish("done:" + s) })).
		AddNode(NewNode("later", func(_ Context, s string) (string, error) {
			skipped.Store(true)
			return s, nil
		})).
		AddEdge(StartNode, "decide").
		AddEdge("decide", "later").
		AddEdge("later", FinishNode).
		Build()
	require.NoError(t, err)

	out, err := newAgent(t, s).Run(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "done:x", out)
	assert.False(t, skipped.Load())
}

func TestRun_CancelledBeforeNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewStrategy[string, string]("cancel").
		AddNode(NewNode("stop", func(_ Context, s string) (string, error) {
			cancel()
			return s, nil
		})).
		AddNode(appendNode("never", "n")).
		AddEdge(StartNode, "stop").
		AddEdge("stop", "never").
		AddEdge("never", FinishNode).
		Build()
	require.NoError(t, err)

	_, err = newAgent(t, s).Run(ctx, "x")

	require.ErrorIs(t, err, context.Canceled)
	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, "cancel/never", cancelErr.Path)
	assert.False(t, cancelErr.WasExecuting)
}

func TestRun_CancelledDuringNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewStrategy[string, string]("cancel").
		AddNode(NewNode("wait", func(ctx Context, s string) (string, error) {
			cancel()
			<-ctx.Done()
			return "", ctx.Err()
		})).
		AddEdge(StartNode, "wait").
		AddEdge("wait", FinishNode).
		Build()
	require.NoError(t, err)

	_, err = newAgent(t, s).Run(ctx, "x")

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.True(t, cancelErr.WasExecuting)
	assert.Equal(t, "cancel/wait", cancelErr.Path)
}

func TestRun_SubgraphPathsAndSharedIterations(t *testing.T) {
	child := linear(t, "child", "innerA", "innerB")
	s, err := NewStrategy[string, string]("root").
		AddNode(Subgraph("sub", child)).
		AddNode(appendNode("after", "!")).
		AddEdge(StartNode, "sub").
		AddEdge("sub", "after").
		AddEdge("after", FinishNode).
		Build()
	require.NoError(t, err)

	rec := &recorder{}
	out, err := newAgent(t, s, WithFeatures(rec)).Run(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "xAB!", out)
	assert.Equal(t, []string{"root/sub"}, rec.paths(pipeline.SubgraphStarting))
	assert.Equal(t, []string{"root/sub"}, rec.paths(pipeline.SubgraphCompleted))
	assert.Equal(t, []string{
		"root/" + StartNode,
		"root/sub/" + StartNode, "root/sub/innerA", "root/sub/innerB", "root/sub/" + FinishNode,
		"root/after",
		"root/" + FinishNode,
	}, rec.paths(pipeline.NodeStarting))

	for _, e := range rec.of(pipeline.NodeStarting) {
		if e.Path == "root/sub/innerA" {
			assert.Equal(t, "root/sub", e.ParentPath)
			assert.Equal(t, 4, e.Iteration, "root start, sub, sub start, innerA")
		}
	}
	assert.Equal(t, 8, rec.of(pipeline.AgentCompleted)[0].Iteration)
}

func TestRun_SubgraphCountsTowardsLimit(t *testing.T) {
	child := linear(t, "child", "innerA", "innerB")
	s, err := NewStrategy[string, string]("root").
		AddNode(Subgraph("sub", child)).
		AddEdge(StartNode, "sub").
		AddEdge("sub", FinishNode).
		Build()
	require.NoError(t, err)

	rec := &recorder{}
	_, err = newAgent(t, s, WithMaxIterations(4), WithFeatures(rec)).Run(context.Background(), "x")

	var limitErr *IterationLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "root/sub/innerB", limitErr.Path)
	assert.Equal(t, []string{"root/sub"}, rec.paths(pipeline.SubgraphFailed))
}

func TestRun_HandlersRunInOrderAndAreIsolated(t *testing.T) {
	var calls []string
	feature := pipeline.FeatureFunc{
		FeatureName: "ordered",
		InstallFunc: func(p *pipeline.Pipeline) error {
			p.Register(pipeline.NodeStarting, "first", func(_ context.Context, e pipeline.Event) error {
				calls = append(calls, "first:"+e.Node)
				return errors.New("first handler fails")
			})
			p.Register(pipeline.NodeStarting, "second", func(_ context.Context, e pipeline.Event) error {
				calls = append(calls, "second:"+e.Node)
				return nil
			})
			return nil
		},
	}

	out, err := newAgent(t, linear(t, "h", "nodeA"), WithFeatures(feature)).Run(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "xA", out)
	assert.Equal(t, []string{
		"first:" + StartNode, "second:" + StartNode,
		"first:nodeA", "second:nodeA",
		"first:" + FinishNode, "second:" + FinishNode,
	}, calls)
}

func TestRun_ContextMetadata(t *testing.T) {
	var seen struct {
		runID, agentID, strategy, node, path string
		iteration                            int
		hasServices                          bool
	}
	s, err := NewStrategy[string, string]("meta").
		AddNode(NewNode("look", func(ctx Context, s string) (string, error) {
			seen.runID = ctx.RunID()
			seen.agentID = ctx.AgentID()
			seen.strategy = ctx.StrategyName()
			seen.node = ctx.NodeName()
			seen.path = ctx.Path()
			seen.iteration = ctx.Iteration()
			seen.hasServices = ctx.Session() != nil && ctx.Tools() != nil && ctx.Logger() != nil
			return s, nil
		})).
		AddEdge(StartNode, "look").
		AddEdge("look", FinishNode).
		Build()
	require.NoError(t, err)

	_, err = newAgent(t, s, WithAgentID("agent-7")).Run(context.Background(), "x")

	require.NoError(t, err)
	assert.NotEmpty(t, seen.runID)
	assert.Equal(t, "agent-7", seen.agentID)
	assert.Equal(t, "meta", seen.strategy)
	assert.Equal(t, "look", seen.node)
	assert.Equal(t, "meta/look", seen.path)
	assert.Equal(t, 2, seen.iteration)
	assert.True(t, seen.hasServices)
}

func TestAgent_RunsOnce(t *testing.T) {
	rec := &recorder{}
	a := newAgent(t, linear(t, "once", "nodeA"), WithFeatures(rec))

	_, err := a.Run(context.Background(), "x")
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "y")
	assert.ErrorIs(t, err, ErrAgentClosed)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, 1, rec.closed)
	assert.Len(t, rec.of(pipeline.AgentClosing), 1)
}

func TestAgent_CloseBeforeRun(t *testing.T) {
	a := newAgent(t, linear(t, "closed", "nodeA"))
	require.NoError(t, a.Close(context.Background()))

	_, err := a.Run(context.Background(), "x")
	assert.ErrorIs(t, err, ErrAgentClosed)
}

func TestRunTyped_OutputMismatch(t *testing.T) {
	_, err := RunTyped[int](context.Background(), newAgent(t, linear(t, "typed", "nodeA")), "x")
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestRun_InputMismatchFailsAtStart(t *testing.T) {
	_, err := newAgent(t, linear(t, "typed", "nodeA")).Run(context.Background(), 42)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, StartNode, nodeErr.Node)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestNewAgent_RejectsBadInput(t *testing.T) {
	_, err := NewAgent(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilStrategy)

	dup := pipeline.FeatureFunc{FeatureName: "dup"}
	_, err = NewAgent(context.Background(), linear(t, "s", "nodeA"), WithFeatures(dup, dup))
	assert.ErrorIs(t, err, pipeline.ErrDuplicateFeature)
}

func TestRun_LogsRunIDOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := newAgent(t, linear(t, "s", "nodeA"), WithLogger(logger)).Run(context.Background(), "x")
	require.NoError(t, err)

	var runLines int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.LessOrEqual(t, strings.Count(line, `"run_id"`), 1, line)
		if strings.Contains(line, "agent run") {
			runLines++
			assert.Equal(t, 1, strings.Count(line, `"run_id"`), line)
		}
	}
	assert.Equal(t, 2, runLines)
}
