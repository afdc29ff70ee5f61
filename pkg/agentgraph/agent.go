package agentgraph

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/session"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/tools"
)

// closeTimeout bounds feature flushing when an agent closes.
const closeTimeout = 10 * time.Second

const (
	stateIdle int32 = iota
	stateRunning
	stateClosed
)

// Agent runs one strategy once. It owns the pipeline, the session manager
// and the tool coordinator of that run.
type Agent struct {
	id       string
	strategy *Strategy
	cfg      agentConfig
	logger   *slog.Logger

	pipeline    *pipeline.Pipeline
	events      *pipeline.Collector
	session     *session.Manager
	tools       *tools.Coordinator
	checkpoints *persistence.Manager

	// ownsProvider is set when the provider was opened from config.
	ownsProvider bool

	// pending is the checkpoint found at construction; Run resumes from it.
	pending *persistence.Checkpoint

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// NewAgent wires an agent for strategy.
//
// When a persistence provider is configured the latest checkpoint of the
// agent id is read: a live checkpoint makes the next Run resume at its
// node with its input and history; a tombstone or no checkpoint means a
// fresh run. Failing to read is fatal.
func NewAgent(ctx context.Context, strategy *Strategy, opts ...Option) (*Agent, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if strategy == nil {
		return nil, ErrNilStrategy
	}
	cfg := defaultAgentConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := errors.Join(cfg.errs...); err != nil {
		return nil, err
	}
	if cfg.id == "" {
		cfg.id = uuid.New().String()
	}

	registry := tools.NewRegistry()
	for _, t := range cfg.tools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	p := pipeline.New(pipeline.WithLogger(cfg.logger))
	for _, f := range cfg.features {
		if err := p.Install(f); err != nil {
			_ = p.Close(ctx)
			return nil, err
		}
	}

	executor := cfg.executor
	if executor == nil {
		executor = noExecutor{}
	}

	events := pipeline.NewCollector(p)
	a := &Agent{
		id:       cfg.id,
		strategy: strategy,
		cfg:      cfg,
		logger:   cfg.logger.With("agent_id", cfg.id),
		pipeline: p,
		events:   events,
		session: session.New(executor,
			session.WithModel(cfg.model),
			session.WithParams(cfg.params),
			session.WithPromptID(cfg.promptID),
			session.WithTools(registry),
			session.WithHistory(cfg.history),
			session.WithDispatcher(events),
			session.WithPolicy(cfg.llm),
			session.WithLogger(cfg.logger),
		),
		tools: tools.NewCoordinator(registry,
			tools.WithDispatcher(events),
			tools.WithPolicy(cfg.toolPolicy),
			tools.WithConcurrency(cfg.concurrency),
			tools.WithFinishTool(cfg.finishTool),
			tools.WithLogger(cfg.logger),
		),
	}

	if err := a.openPersistence(ctx); err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *Agent) openPersistence(ctx context.Context) error {
	provider := a.cfg.provider
	if provider == nil && a.cfg.persistence != nil {
		opened, err := persistence.Open(ctx, *a.cfg.persistence, persistence.WithLogger(a.cfg.logger))
		if err != nil {
			return agerrors.Fatal(&CheckpointError{Op: "open", Err: err})
		}
		provider = opened
		a.ownsProvider = true
	}
	if provider == nil {
		return nil
	}

	a.checkpoints = persistence.NewManager(provider, a.id, persistence.WithManagerLogger(a.cfg.logger))
	latest, err := a.checkpoints.Latest(ctx)
	if err != nil {
		if a.ownsProvider {
			_ = persistence.Close(provider)
		}
		return agerrors.Fatal(&CheckpointError{Op: "load", Err: err})
	}
	if latest != nil && !latest.Tombstone {
		a.pending = latest
		a.logger.Info("resuming from checkpoint",
			slog.String("checkpoint_id", latest.ID),
			slog.String("node_path", latest.NodeID),
			slog.Int64("version", latest.Version),
		)
	}
	return nil
}

// ID returns the agent id.
func (a *Agent) ID() string { return a.id }

// Strategy returns the strategy the agent runs.
func (a *Agent) Strategy() *Strategy { return a.strategy }

// Session returns the session manager holding the prompt history.
func (a *Agent) Session() *session.Manager { return a.session }

// Tools returns the tool coordinator.
func (a *Agent) Tools() *tools.Coordinator { return a.tools }

// Pipeline returns the event pipeline. Features must be installed through
// WithFeatures.
func (a *Agent) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Checkpoints returns the checkpoint manager, or nil without persistence.
func (a *Agent) Checkpoints() *persistence.Manager { return a.checkpoints }

// Resuming reports whether the next Run continues from a checkpoint.
func (a *Agent) Resuming() bool { return a.pending != nil }

// Run executes the strategy with input, or resumes from the checkpoint
// found by NewAgent, in which case input is ignored. An agent runs once:
// afterwards it is closed and further calls fail with ErrAgentClosed.
func (a *Agent) Run(ctx context.Context, input any) (any, error) {
	return a.run(ctx, input, a.pending)
}

// ResumeFrom runs the strategy from a specific checkpoint of this agent.
func (a *Agent) ResumeFrom(ctx context.Context, checkpointID string) (any, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := a.stateErr(); err != nil {
		return nil, err
	}
	if a.checkpoints == nil {
		return nil, ErrNoPersistence
	}
	cp, err := a.checkpoints.Checkpoint(ctx, checkpointID)
	if err != nil {
		return nil, &ResumeError{CheckpointID: checkpointID, Err: err}
	}
	if cp.Tombstone {
		return nil, &ResumeError{CheckpointID: checkpointID, NodeID: cp.NodeID, Err: ErrTombstone}
	}
	return a.run(ctx, nil, cp)
}

// RunTyped runs agent and converts the output to Out.
func RunTyped[Out any](ctx context.Context, agent *Agent, input any) (Out, error) {
	out, err := agent.Run(ctx, input)
	if err != nil {
		var zero Out
		return zero, err
	}
	return coerce[Out](out)
}

func (a *Agent) stateErr() error {
	switch a.state.Load() {
	case stateRunning:
		return ErrRunInProgress
	case stateClosed:
		return ErrAgentClosed
	}
	return nil
}

func (a *Agent) run(ctx context.Context, input any, resume *persistence.Checkpoint) (any, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if !a.state.CompareAndSwap(stateIdle, stateRunning) {
		if err := a.stateErr(); err != nil {
			return nil, err
		}
		return nil, ErrAgentClosed
	}
	defer func() {
		a.state.Store(stateClosed)
		if err := a.Close(ctx); err != nil {
			a.logger.Warn("agent close failed", slog.String("error", err.Error()))
		}
	}()
	return a.execute(ctx, input, resume)
}

// Close emits agent.closing and closes the installed features in reverse
// order. A provider opened from config is closed too. Flushing uses a
// context detached from ctx's cancellation so it happens even after the
// run was cancelled. Close is idempotent.
func (a *Agent) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.closeOnce.Do(func() {
		a.state.CompareAndSwap(stateIdle, stateClosed)

		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()

		a.emit(flushCtx, pipeline.Event{Hook: pipeline.AgentClosing, AgentID: a.id, Strategy: a.strategy.name})
		errs := []error{a.pipeline.Close(flushCtx)}
		if a.ownsProvider && a.checkpoints != nil {
			errs = append(errs, persistence.Close(a.checkpoints.Provider()))
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *Agent) emit(ctx context.Context, evt pipeline.Event) {
	// Handler failures never change the run's outcome; the collector
	// keeps them for HandlerErrors.
	_ = a.events.Invoke(ctx, evt)
}

// HandlerErrors returns the event handler failures reported during the
// run and close, joined, or nil when every handler succeeded. Failures
// from the session manager and tool coordinator are included.
func (a *Agent) HandlerErrors() error { return a.events.Err() }

// noExecutor stands in when an agent is built without an executor so
// that LLM nodes fail with ErrNoExecutor rather than a nil dereference.
type noExecutor struct{}

func (noExecutor) Execute(context.Context, prompt.Prompt, prompt.Model, []prompt.ToolDescriptor) ([]prompt.Message, error) {
	return nil, agerrors.Permanent(ErrNoExecutor, "llm call")
}

func (noExecutor) ExecuteStreaming(context.Context, prompt.Prompt, prompt.Model, []prompt.ToolDescriptor) iter.Seq2[prompt.StreamFrame, error] {
	return func(yield func(prompt.StreamFrame, error) bool) {
		yield(prompt.StreamFrame{}, agerrors.Permanent(ErrNoExecutor, "llm stream"))
	}
}

var _ prompt.Executor = noExecutor{}

// String describes the agent for logs.
func (a *Agent) String() string {
	return fmt.Sprintf("agent %s (strategy %s)", a.id, a.strategy.name)
}
