package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// DefaultFinishTool is the name of the tool that ends the run with its
// arguments as the final output.
const DefaultFinishTool = "__finish__"

// Mode selects how a batch is dispatched.
type Mode int

const (
	// Sequential runs calls one at a time in order.
	Sequential Mode = iota
	// Parallel runs calls concurrently and joins on all of them.
	Parallel
	// SingleRunSequential runs calls in order and stops at the first
	// failure; the remaining calls are skipped.
	SingleRunSequential
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	case SingleRunSequential:
		return "single_run_sequential"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name as produced by String.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Sequential, Parallel, SingleRunSequential} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown tool mode %q", s)
}

// ErrDuplicateCallID is returned when two calls of a batch share an id.
var ErrDuplicateCallID = errors.New("tools: duplicate call id")

// ToolError is returned when a non-recoverable tool fails.
type ToolError struct {
	Call    prompt.ToolCall
	Failure prompt.ToolFailure
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	return fmt.Sprintf("non-recoverable tool %s (call %s) failed: %s: %s",
		e.Call.Name, e.Call.ID, e.Failure.Kind, e.Failure.Message)
}

// ErrorKind marks non-recoverable tool failures as fatal.
func (e *ToolError) ErrorKind() agerrors.Kind {
	return agerrors.KindFatal
}

// Batch is the outcome of one Execute call.
type Batch struct {
	// Calls are the dispatched calls with generated ids filled in.
	Calls []prompt.ToolCall

	// Results has one entry per call, in call order.
	Results []prompt.ToolResult

	// Aborted is set when SingleRunSequential stopped early.
	Aborted bool

	// Finished is set when the batch contained the finish tool. Nothing
	// was dispatched and FinalOutput holds the finish call's arguments.
	Finished    bool
	FinalOutput json.RawMessage
}

// Result returns the result for a call id.
func (b *Batch) Result(id string) (prompt.ToolResult, bool) {
	for _, r := range b.Results {
		if r.CallID == id {
			return r, true
		}
	}
	return prompt.ToolResult{}, false
}

// Failed returns the failed results in call order.
func (b *Batch) Failed() []prompt.ToolResult {
	var out []prompt.ToolResult
	for _, r := range b.Results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Coordinator dispatches tool calls against a Registry.
type Coordinator struct {
	registry    *Registry
	dispatcher  pipeline.Dispatcher
	policy      agerrors.Policy
	concurrency int
	finishTool  string
	logger      *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithDispatcher sets where tool events are published.
func WithDispatcher(d pipeline.Dispatcher) CoordinatorOption {
	return func(c *Coordinator) { c.dispatcher = d }
}

// WithPolicy sets the per-call timeout and retry policy.
func WithPolicy(p agerrors.Policy) CoordinatorOption {
	return func(c *Coordinator) { c.policy = p }
}

// WithConcurrency caps the number of calls in flight in Parallel mode.
// Zero means unlimited.
func WithConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) { c.concurrency = n }
}

// WithFinishTool renames the finish tool. An empty name disables it.
func WithFinishTool(name string) CoordinatorOption {
	return func(c *Coordinator) { c.finishTool = name }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a coordinator over reg.
func NewCoordinator(reg *Registry, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		registry:   reg,
		policy:     agerrors.Policy{Retry: agerrors.NoRetry},
		finishTool: DefaultFinishTool,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the coordinator's tool table.
func (c *Coordinator) Registry() *Registry { return c.registry }

// FinishTool returns the finish tool name.
func (c *Coordinator) FinishTool() string { return c.finishTool }

// Execute runs calls according to mode and returns one result per call.
//
// Per-call problems (unknown tool, bad arguments, tool errors, timeouts)
// become failed results. The returned error is reserved for batch
// validation errors and *ToolError from non-recoverable tools; in the
// latter case the partial batch is returned alongside it.
func (c *Coordinator) Execute(ctx context.Context, calls []prompt.ToolCall, mode Mode) (*Batch, error) {
	calls, err := normalizeCalls(calls)
	if err != nil {
		return nil, err
	}
	batch := &Batch{Calls: calls}

	if c.finishTool != "" {
		for _, call := range calls {
			if call.Name == c.finishTool {
				batch.Finished = true
				batch.FinalOutput = append(json.RawMessage(nil), call.Arguments...)
				return batch, nil
			}
		}
	}

	batch.Results = make([]prompt.ToolResult, len(calls))
	switch mode {
	case Parallel:
		err = c.runParallel(ctx, batch)
	case SingleRunSequential:
		err = c.runSequential(ctx, batch, true)
	default:
		err = c.runSequential(ctx, batch, false)
	}
	return batch, err
}

func normalizeCalls(in []prompt.ToolCall) ([]prompt.ToolCall, error) {
	calls := make([]prompt.ToolCall, len(in))
	seen := make(map[string]struct{}, len(in))
	for i, call := range in {
		if call.ID == "" {
			call.ID = "call_" + ulid.Make().String()
		}
		if _, dup := seen[call.ID]; dup {
			return nil, fmt.Errorf("%w: %w", ErrDuplicateCallID,
				&agerrors.ValidationError{Field: "id", Message: fmt.Sprintf("call id %q used more than once", call.ID)})
		}
		seen[call.ID] = struct{}{}
		calls[i] = call
	}
	return calls, nil
}

func (c *Coordinator) runSequential(ctx context.Context, batch *Batch, allOrNothing bool) error {
	for i, call := range batch.Calls {
		res, fatal := c.runOne(ctx, call)
		batch.Results[i] = res
		if fatal != nil || (allOrNothing && res.Failed()) {
			skipRemaining(batch, i+1)
			batch.Aborted = allOrNothing
			return fatal
		}
	}
	return nil
}

func skipRemaining(batch *Batch, from int) {
	for j := from; j < len(batch.Calls); j++ {
		batch.Results[j] = failure(batch.Calls[j], prompt.FailureSkipped, "not executed: an earlier call in the batch failed")
	}
}

func (c *Coordinator) runParallel(ctx context.Context, batch *Batch) error {
	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}
	for i, call := range batch.Calls {
		g.Go(func() error {
			res, fatal := c.runOne(gctx, call)
			batch.Results[i] = res
			return fatal
		})
	}
	return g.Wait()
}

// runOne executes a single call. The second return is non-nil only for
// failures of non-recoverable tools.
func (c *Coordinator) runOne(ctx context.Context, call prompt.ToolCall) (prompt.ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return failure(call, prompt.FailureCancelled, err.Error()), nil
	}

	start := time.Now()
	c.emit(ctx, pipeline.Event{Hook: pipeline.ToolCallStarting, ToolCall: &call})

	tool, ok := c.registry.Lookup(call.Name)
	if !ok {
		res := failure(call, prompt.FailureNotFound, "unknown tool: "+call.Name)
		c.finish(ctx, call, res, start, pipeline.ToolCallFailed)
		return res, nil
	}

	args, err := parseArgs(call.Arguments)
	if err == nil {
		err = c.registry.Validate(call.Name, args)
	}
	if err != nil {
		res := failure(call, prompt.FailureValidation, err.Error())
		c.finish(ctx, call, res, start, pipeline.ToolCallValidationFailed)
		return res, nil
	}

	policy := c.policy
	if o, ok := tool.(TimeoutOverride); ok && o.Timeout() > 0 {
		policy.Timeout = o.Timeout()
	}
	value, _, err := agerrors.Do(ctx, policy, "tool "+call.Name, func(ctx context.Context) (any, error) {
		return safeExecute(ctx, tool, args)
	})
	if err != nil {
		res := failure(call, classify(ctx, err), err.Error())
		c.finish(ctx, call, res, start, pipeline.ToolCallFailed)
		if nr, ok := tool.(NonRecoverable); ok && nr.NonRecoverable() && res.Failure.Kind != prompt.FailureCancelled {
			return res, &ToolError{Call: call, Failure: *res.Failure}
		}
		return res, nil
	}

	res := prompt.ToolResult{CallID: call.ID, Name: call.Name, Content: stringify(value)}
	c.finish(ctx, call, res, start, pipeline.ToolCallCompleted)
	return res, nil
}

func (c *Coordinator) finish(ctx context.Context, call prompt.ToolCall, res prompt.ToolResult, start time.Time, hook pipeline.Hook) {
	elapsed := time.Since(start)
	kind := ""
	if res.Failure != nil {
		kind = string(res.Failure.Kind)
	}
	observability.LogToolCall(c.logger, call.Name, call.ID, float64(elapsed.Microseconds())/1000, kind)
	c.emit(ctx, pipeline.Event{Hook: hook, ToolCall: &call, ToolResult: &res, Duration: elapsed})
}

func (c *Coordinator) emit(ctx context.Context, evt pipeline.Event) {
	if c.dispatcher == nil {
		return
	}
	// Handler failures are logged and recorded by the dispatcher.
	_ = c.dispatcher.Invoke(ctx, evt)
}

func safeExecute(ctx context.Context, tool Tool, args map[string]any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

func classify(ctx context.Context, err error) prompt.FailureKind {
	var timeoutErr *agerrors.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		return prompt.FailureTimeout
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return prompt.FailureCancelled
	default:
		return prompt.FailureExecution
	}
}

func parseArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments JSON: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func failure(call prompt.ToolCall, kind prompt.FailureKind, msg string) prompt.ToolResult {
	return prompt.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Failure: &prompt.ToolFailure{Kind: kind, Message: msg},
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case json.RawMessage:
		return string(x)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
