package agentgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
)

// run is the state of one execution of an agent's strategy.
type run struct {
	agent *Agent
	id    string

	// iterations counts node entries across the whole run, subgraph
	// nodes and the nodes inside them included.
	iterations int

	// lastPath is the most recently entered node; prevPath the most
	// recently completed one.
	lastPath string
	prevPath string
}

// execute runs the strategy, from its start node or from resume.
//
// Execution flow, per node:
//  1. Check the iteration limit and cancellation
//  2. Emit the starting event and execute the node
//  3. Emit the completed or failed event
//  4. Select the first accepting outgoing edge and apply its transform
//  5. Checkpoint the delivered value and the history
//  6. Repeat until finish is reached or no edge accepts
func (a *Agent) execute(ctx context.Context, input any, resume *persistence.Checkpoint) (any, error) {
	r := &run{agent: a, id: uuid.New().String()}
	start := time.Now()

	var target []string
	if resume != nil {
		var err error
		target, input, err = a.strategy.resolveResume(resume)
		if err != nil {
			observability.LogRunError(a.logger, r.id, err, 0, resume.NodeID)
			return nil, err
		}
		a.session.Restore(resume.MessageHistory)
		r.prevPath = resume.PrevNodeID
	}

	observability.LogRunStart(a.logger, r.id, a.strategy.name, resume != nil)
	ctx = pipeline.WithScope(ctx, pipeline.Scope{RunID: r.id, AgentID: a.id, Strategy: a.strategy.name})
	a.emit(ctx, pipeline.Event{Hook: pipeline.AgentStarting, Input: input})
	a.emit(ctx, pipeline.Event{Hook: pipeline.StrategyStarting, Path: a.strategy.name, Input: input})

	out, err := r.runStrategy(ctx, a.strategy, a.strategy.name, target, input)
	if err == nil {
		err = r.tombstone(ctx)
	}
	elapsed := time.Since(start)
	durationMs := float64(elapsed.Microseconds()) / 1000

	if err != nil {
		a.emit(ctx, pipeline.Event{Hook: pipeline.AgentExecutionFailed, Input: input, Err: err, Duration: elapsed, Iteration: r.iterations})
		observability.LogRunError(a.logger, r.id, err, durationMs, r.lastPath)
		a.logHandlerErrors(r.id)
		return nil, err
	}

	a.emit(ctx, pipeline.Event{Hook: pipeline.StrategyCompleted, Path: a.strategy.name, Output: out})
	a.emit(ctx, pipeline.Event{Hook: pipeline.AgentCompleted, Input: input, Output: out, Duration: elapsed, Iteration: r.iterations})
	observability.LogRunComplete(a.logger, r.id, durationMs, r.iterations)
	a.logHandlerErrors(r.id)
	return out, nil
}

// logHandlerErrors summarizes the handler failures of a run. Each one was
// already logged by the pipeline when it happened.
func (a *Agent) logHandlerErrors(runID string) {
	if n := a.events.Len(); n > 0 {
		a.logger.Debug("event handlers failed during run",
			slog.String("run_id", runID),
			slog.Int("failures", n),
			slog.String("error", a.events.Err().Error()),
		)
	}
}

// runStrategy runs s inside the scope path. When resume is non-empty its
// first segment names the node to enter first, and the rest is passed to
// that node if it is a subgraph.
func (r *run) runStrategy(ctx context.Context, s *Strategy, scope string, resume []string, input any) (any, error) {
	cur := startIndex
	if len(resume) > 0 {
		cur = s.index[resume[0]]
	}
	val := input

	for {
		n := &s.nodes[cur]
		path := scope + pathSeparator + n.name
		var inner []string
		if len(resume) > 1 {
			inner = resume[1:]
		}
		resume = nil

		r.iterations++
		if limit := r.agent.cfg.maxIterations; r.iterations > limit {
			return nil, &IterationLimitError{Max: limit, Path: path}
		}
		if err := ctx.Err(); err != nil {
			return nil, &CancellationError{Path: path, Cause: err}
		}

		out, final, err := r.runNode(ctx, n, scope, path, inner, val)
		if err != nil {
			return nil, err
		}
		r.prevPath = path
		if cur == finishIndex {
			return out, nil
		}

		var (
			next      int
			delivered any
		)
		if final != nil {
			next = finishIndex
			delivered, err = decodeFinal(s.nodes[finishIndex].in, final.Value)
			if err != nil {
				return nil, &NodeError{Node: n.name, Path: path, Op: "final output", Err: err}
			}
		} else {
			var ok bool
			next, delivered, ok, err = r.selectEdge(ctx, s, n, path, out)
			if err != nil {
				return nil, err
			}
			if !ok {
				r.agent.logger.Debug("no edge accepts output, ending strategy",
					slog.String("run_id", r.id), slog.String("node_path", path))
				return out, nil
			}
		}

		if err := r.checkpoint(ctx, scope+pathSeparator+s.nodes[next].name, path, delivered); err != nil {
			return nil, err
		}
		cur, val = next, delivered
	}
}

// runNode executes one node between its starting and completed/failed
// events. A non-nil final means the node asked to end its strategy.
func (r *run) runNode(ctx context.Context, n *node, scope, path string, resume []string, in any) (any, *FinalOutput, error) {
	ctx = pipeline.WithScope(ctx, pipeline.Scope{
		RunID:      r.id,
		AgentID:    r.agent.id,
		Strategy:   r.agent.strategy.name,
		Node:       n.name,
		Path:       path,
		ParentPath: scope,
		Iteration:  r.iterations,
	})
	starting, completed, failed := pipeline.NodeStarting, pipeline.NodeCompleted, pipeline.NodeFailed
	if n.kind == kindSubgraph {
		starting, completed, failed = pipeline.SubgraphStarting, pipeline.SubgraphCompleted, pipeline.SubgraphFailed
	}
	logger := r.agent.logger.With("run_id", r.id)

	r.lastPath = path
	r.agent.emit(ctx, pipeline.Event{Hook: starting, Input: in})
	observability.LogNodeStart(logger, path)
	start := time.Now()

	var (
		out any
		err error
	)
	if n.kind == kindSubgraph {
		out, err = r.runStrategy(ctx, n.child, path, resume, in)
	} else {
		out, err = r.call(ctx, n, path, in)
	}
	elapsed := time.Since(start)

	var (
		final     *FinalOutput
		recovered *RecoveredError
	)
	switch {
	case err == nil:
	case errors.As(err, &final):
		out = final.Value
	case errors.As(err, &recovered):
		nodeErr := &NodeError{Node: n.name, Path: path, Op: "execute", Err: recovered.Err}
		r.agent.emit(ctx, pipeline.Event{Hook: failed, Input: in, Output: recovered.Value, Err: nodeErr, Duration: elapsed})
		observability.LogNodeError(logger, path, nodeErr)
		return recovered.Value, nil, nil
	default:
		r.agent.emit(ctx, pipeline.Event{Hook: failed, Input: in, Err: err, Duration: elapsed})
		observability.LogNodeError(logger, path, err)
		return nil, nil, err
	}

	r.agent.emit(ctx, pipeline.Event{Hook: completed, Input: in, Output: out, Duration: elapsed})
	observability.LogNodeComplete(logger, path, float64(elapsed.Microseconds())/1000)
	return out, final, nil
}

// call executes a task node with panic recovery. Control results
// (*FinalOutput, *RecoveredError) are returned unwrapped.
func (r *run) call(ctx context.Context, n *node, path string, in any) (out any, err error) {
	defer func() {
		if v := recover(); v != nil {
			out = nil
			err = &PanicError{Node: n.name, Path: path, Value: v, Stack: string(debug.Stack())}
		}
	}()

	out, err = n.fn(r.nodeContext(ctx, n.name, path), in)
	if err == nil {
		return out, nil
	}
	var (
		final     *FinalOutput
		recovered *RecoveredError
	)
	if errors.As(err, &final) || errors.As(err, &recovered) {
		return out, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return nil, &CancellationError{Path: path, Cause: ctxErr, WasExecuting: true}
	}
	return nil, &NodeError{Node: n.name, Path: path, Op: "execute", Err: err}
}

// selectEdge returns the target and delivered value of the first edge of
// n that accepts out. Only the selected edge's transform runs.
func (r *run) selectEdge(ctx context.Context, s *Strategy, n *node, path string, out any) (int, any, bool, error) {
	ectx := r.nodeContext(ctx, n.name, path)
	for _, e := range n.edges {
		target := s.nodes[e.to].name
		if e.cond != nil {
			ok, err := guard(func() (bool, error) { return e.cond(ectx, out) })
			if err != nil {
				return 0, nil, false, &EdgeError{From: path, To: target, Op: "condition", Err: err}
			}
			if !ok {
				continue
			}
		}
		delivered := out
		if e.transform != nil {
			v, err := guard(func() (any, error) { return e.transform(ectx, out) })
			if err != nil {
				return 0, nil, false, &EdgeError{From: path, To: target, Op: "transform", Err: err}
			}
			delivered = v
		}
		return e.to, delivered, true, nil
	}
	return 0, nil, false, nil
}

// guard turns a panic in fn into an error.
func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

func (r *run) nodeContext(ctx context.Context, name, path string) *executionContext {
	return &executionContext{
		Context:   ctx,
		agent:     r.agent,
		runID:     r.id,
		logger:    observability.EnrichLogger(r.agent.logger, r.id, path, r.iterations),
		node:      name,
		path:      path,
		iteration: r.iterations,
	}
}

// checkpoint stores the position the run would resume at: nextPath with
// the value about to be delivered to it.
func (r *run) checkpoint(ctx context.Context, nextPath, prevPath string, delivered any) error {
	a := r.agent
	if a.checkpoints == nil || !a.cfg.automatic {
		return nil
	}
	cp, err := a.checkpoints.SaveCheckpoint(ctx, nextPath, prevPath, delivered, a.session.Snapshot())
	if err != nil {
		return r.checkpointFailed(ctx, nextPath, "save", err)
	}
	a.emit(ctx, pipeline.Event{
		Hook:              pipeline.CheckpointSaved,
		Path:              nextPath,
		CheckpointID:      cp.ID,
		CheckpointVersion: cp.Version,
		CheckpointSize:    len(cp.LastInput),
	})
	return nil
}

// tombstone marks the run finished so the next agent with this id starts
// fresh.
func (r *run) tombstone(ctx context.Context) error {
	a := r.agent
	if a.checkpoints == nil || !a.cfg.automatic {
		return nil
	}
	cp, err := a.checkpoints.SaveTombstone(ctx, r.prevPath, a.session.Snapshot())
	if err != nil {
		return r.checkpointFailed(ctx, r.prevPath, "tombstone", err)
	}
	a.emit(ctx, pipeline.Event{
		Hook:              pipeline.CheckpointSaved,
		Path:              r.prevPath,
		CheckpointID:      cp.ID,
		CheckpointVersion: cp.Version,
		Tombstone:         true,
	})
	return nil
}

func (r *run) checkpointFailed(ctx context.Context, path, op string, err error) error {
	a := r.agent
	cerr := &CheckpointError{Path: path, Op: op, Err: err}
	a.emit(ctx, pipeline.Event{Hook: pipeline.CheckpointFailed, Path: path, Err: cerr, Tombstone: op == "tombstone"})
	observability.LogCheckpointError(a.logger.With("run_id", r.id), path, op, err)
	if a.cfg.checkpointFailureFatal {
		return agerrors.Fatal(cerr)
	}
	return nil
}
