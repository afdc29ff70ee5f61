package tools_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tools"
)

var addSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"a": map[string]any{"type": "integer"},
		"b": map[string]any{"type": "integer"},
	},
	"required": []any{"a", "b"},
}

type addArgs struct {
	A int `json:"a"`
	B int `json:"b"`
}

func addTool() tools.Tool {
	return tools.Func("add", "Adds two integers", addSchema,
		func(_ context.Context, in addArgs) (any, error) { return in.A + in.B, nil })
}

func echoTool(name string) tools.Tool {
	return tools.Func(name, "Echoes its input", nil,
		func(_ context.Context, in map[string]any) (any, error) { return in, nil })
}

func failTool(name string, opts ...tools.FuncOption) tools.Tool {
	return tools.Func(name, "Always fails", nil,
		func(context.Context, map[string]any) (any, error) { return nil, errors.New("boom") }, opts...)
}

func call(id, name, args string) prompt.ToolCall {
	return prompt.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

type recorder struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (r *recorder) Invoke(_ context.Context, evt pipeline.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) count(h pipeline.Hook) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Hook == h {
			n++
		}
	}
	return n
}

func TestRegistry_RejectsBadTools(t *testing.T) {
	reg := tools.NewRegistry(addTool())

	assert.ErrorIs(t, reg.Register(addTool()), tools.ErrInvalidTool)
	assert.ErrorIs(t, reg.Register(echoTool("has space")), tools.ErrInvalidTool)
	assert.ErrorIs(t, reg.Register(nil), tools.ErrInvalidTool)

	bad := tools.Func("bad_schema", "", map[string]any{"type": 12},
		func(context.Context, map[string]any) (any, error) { return nil, nil })
	assert.ErrorIs(t, reg.Register(bad), tools.ErrInvalidTool)

	require.NoError(t, reg.Register(echoTool("echo")))
	assert.Equal(t, []string{"add", "echo"}, reg.Names())
	assert.Len(t, reg.Descriptors(), 2)
}

func TestExecute_ParallelReturnsOneResultPerCall(t *testing.T) {
	const n = 20
	var inFlight, peak atomic.Int32
	slowAdd := tools.Func("add", "", addSchema, func(_ context.Context, in addArgs) (any, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return in.A + in.B, nil
	})
	rec := &recorder{}
	c := tools.NewCoordinator(tools.NewRegistry(slowAdd), tools.WithDispatcher(rec), tools.WithConcurrency(4))

	calls := make([]prompt.ToolCall, n)
	for i := range calls {
		calls[i] = call(fmt.Sprintf("c%d", i), "add", fmt.Sprintf(`{"a":%d,"b":1}`, i))
	}

	batch, err := c.Execute(context.Background(), calls, tools.Parallel)
	require.NoError(t, err)
	require.Len(t, batch.Results, n)
	for i, res := range batch.Results {
		assert.Equal(t, fmt.Sprintf("c%d", i), res.CallID)
		assert.Equal(t, fmt.Sprint(i+1), res.Content)
		assert.False(t, res.Failed())
	}
	assert.LessOrEqual(t, peak.Load(), int32(4))
	assert.Equal(t, n, rec.count(pipeline.ToolCallStarting))
	assert.Equal(t, n, rec.count(pipeline.ToolCallCompleted))
}

func TestExecute_FailuresBecomeResults(t *testing.T) {
	hang := tools.Func("hang", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, tools.WithTimeout(20*time.Millisecond))
	panicky := tools.Func("panicky", "", nil, func(context.Context, map[string]any) (any, error) {
		panic("kaboom")
	})
	rec := &recorder{}
	c := tools.NewCoordinator(
		tools.NewRegistry(addTool(), failTool("fail"), hang, panicky),
		tools.WithDispatcher(rec),
	)

	batch, err := c.Execute(context.Background(), []prompt.ToolCall{
		call("1", "missing", `{}`),
		call("2", "add", `{"a":"x","b":1}`),
		call("3", "add", `not json`),
		call("4", "fail", `{}`),
		call("5", "hang", `{}`),
		call("6", "panicky", `{}`),
	}, tools.Sequential)
	require.NoError(t, err)

	want := []prompt.FailureKind{
		prompt.FailureNotFound,
		prompt.FailureValidation,
		prompt.FailureValidation,
		prompt.FailureExecution,
		prompt.FailureTimeout,
		prompt.FailureExecution,
	}
	require.Len(t, batch.Results, len(want))
	for i, kind := range want {
		require.NotNil(t, batch.Results[i].Failure, "call %d", i+1)
		assert.Equal(t, kind, batch.Results[i].Failure.Kind, "call %d", i+1)
	}
	assert.Contains(t, batch.Results[5].Failure.Message, "kaboom")
	assert.Len(t, batch.Failed(), 6)
	assert.Equal(t, 2, rec.count(pipeline.ToolCallValidationFailed))
	assert.Equal(t, 4, rec.count(pipeline.ToolCallFailed))
}

func TestExecute_SingleRunSequentialSkipsRemainder(t *testing.T) {
	var ran atomic.Int32
	counting := tools.Func("count", "", nil, func(context.Context, map[string]any) (any, error) {
		ran.Add(1)
		return "ok", nil
	})
	c := tools.NewCoordinator(tools.NewRegistry(counting, failTool("fail")))

	batch, err := c.Execute(context.Background(), []prompt.ToolCall{
		call("a", "count", `{}`),
		call("b", "fail", `{}`),
		call("c", "count", `{}`),
		call("d", "count", `{}`),
	}, tools.SingleRunSequential)
	require.NoError(t, err)

	assert.True(t, batch.Aborted)
	assert.Equal(t, int32(1), ran.Load())
	require.Len(t, batch.Results, 4)
	assert.False(t, batch.Results[0].Failed())
	assert.Equal(t, prompt.FailureExecution, batch.Results[1].Failure.Kind)
	assert.Equal(t, prompt.FailureSkipped, batch.Results[2].Failure.Kind)
	assert.Equal(t, prompt.FailureSkipped, batch.Results[3].Failure.Kind)
}

func TestExecute_FinishToolShortCircuits(t *testing.T) {
	var ran atomic.Int32
	counting := tools.Func("count", "", nil, func(context.Context, map[string]any) (any, error) {
		ran.Add(1)
		return "ok", nil
	})
	c := tools.NewCoordinator(tools.NewRegistry(counting))

	batch, err := c.Execute(context.Background(), []prompt.ToolCall{
		call("a", "count", `{}`),
		call("b", tools.DefaultFinishTool, `{"answer":42}`),
	}, tools.Parallel)
	require.NoError(t, err)

	assert.True(t, batch.Finished)
	assert.JSONEq(t, `{"answer":42}`, string(batch.FinalOutput))
	assert.Empty(t, batch.Results)
	assert.Zero(t, ran.Load())
}

func TestExecute_DuplicateCallIDs(t *testing.T) {
	c := tools.NewCoordinator(tools.NewRegistry(addTool()))

	_, err := c.Execute(context.Background(), []prompt.ToolCall{
		call("same", "add", `{"a":1,"b":2}`),
		call("same", "add", `{"a":3,"b":4}`),
	}, tools.Parallel)

	assert.ErrorIs(t, err, tools.ErrDuplicateCallID)
	assert.Equal(t, agerrors.KindValidation, agerrors.KindOf(err))
}

func TestExecute_AssignsMissingIDs(t *testing.T) {
	c := tools.NewCoordinator(tools.NewRegistry(addTool()))

	batch, err := c.Execute(context.Background(), []prompt.ToolCall{
		call("", "add", `{"a":1,"b":2}`),
		call("", "add", `{"a":3,"b":4}`),
	}, tools.Sequential)
	require.NoError(t, err)

	id0, id1 := batch.Results[0].CallID, batch.Results[1].CallID
	assert.NotEmpty(t, id0)
	assert.NotEqual(t, id0, id1)
	assert.Equal(t, batch.Calls[0].ID, id0)

	res, ok := batch.Result(id1)
	require.True(t, ok)
	assert.Equal(t, "7", res.Content)
}

func TestExecute_NonRecoverableCancelsSiblings(t *testing.T) {
	hang := tools.Func("hang", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := tools.NewCoordinator(tools.NewRegistry(hang, failTool("critical", tools.Fatal())))

	batch, err := c.Execute(context.Background(), []prompt.ToolCall{
		call("h", "hang", `{}`),
		call("x", "critical", `{}`),
	}, tools.Parallel)

	var toolErr *tools.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "critical", toolErr.Call.Name)
	assert.True(t, agerrors.IsFatal(err))

	require.NotNil(t, batch)
	res, ok := batch.Result("h")
	require.True(t, ok)
	assert.Equal(t, prompt.FailureCancelled, res.Failure.Kind)
}

func TestExecute_RetriesTransientToolErrors(t *testing.T) {
	var attempts atomic.Int32
	flaky := tools.Func("flaky", "", nil, func(context.Context, map[string]any) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, agerrors.Transient(errors.New("try again"), "flaky")
		}
		return map[string]any{"ok": true}, nil
	})
	c := tools.NewCoordinator(tools.NewRegistry(flaky), tools.WithPolicy(agerrors.Policy{
		Retry: agerrors.NewRetryConfig(agerrors.WithMaxAttempts(3), agerrors.WithInitialBackoff(time.Millisecond)),
	}))

	batch, err := c.Execute(context.Background(), []prompt.ToolCall{call("f", "flaky", `{}`)}, tools.Sequential)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, batch.Results[0].Content)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestParseMode(t *testing.T) {
	for _, m := range []tools.Mode{tools.Sequential, tools.Parallel, tools.SingleRunSequential} {
		got, err := tools.ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := tools.ParseMode("sideways")
	assert.Error(t, err)
}
