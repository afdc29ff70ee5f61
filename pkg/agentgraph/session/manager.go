// Package session guards an agent's prompt history.
//
// Nodes reach the history only through sessions obtained from a Manager:
// any number of read sessions may be open at once, each seeing a snapshot
// taken when it was acquired, while a write session is exclusive for its
// whole duration. LLM requests are made from write sessions so the
// response is appended to the same history the request was built from.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/pipeline"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// ErrSessionActive is returned when a write session is requested from
// inside a session of the same Manager.
var ErrSessionActive = errors.New("session: a session of this manager is already active in this call chain")

// maxWeight is the semaphore capacity. Readers take 1, writers take all.
const maxWeight = 1 << 30

// ToolSource supplies the tool descriptors offered to the model.
type ToolSource interface {
	Descriptors() []prompt.ToolDescriptor
}

// Manager owns the prompt history of one agent.
type Manager struct {
	executor   prompt.Executor
	model      prompt.Model
	params     prompt.Params
	promptID   string
	tools      ToolSource
	dispatcher pipeline.Dispatcher
	policy     agerrors.Policy
	logger     *slog.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	history []prompt.Message
}

// Option configures a Manager.
type Option func(*Manager)

// WithModel sets the model requests are sent to.
func WithModel(m prompt.Model) Option {
	return func(s *Manager) { s.model = m }
}

// WithParams sets sampling parameters.
func WithParams(p prompt.Params) Option {
	return func(s *Manager) { s.params = p }
}

// WithPromptID sets the prompt id sent with every request.
func WithPromptID(id string) Option {
	return func(s *Manager) { s.promptID = id }
}

// WithTools sets the tools offered to the model.
func WithTools(src ToolSource) Option {
	return func(s *Manager) { s.tools = src }
}

// WithHistory seeds the history. The messages are copied.
func WithHistory(msgs []prompt.Message) Option {
	return func(s *Manager) { s.history = prompt.CloneMessages(msgs) }
}

// WithDispatcher sets where LLM events are published.
func WithDispatcher(d pipeline.Dispatcher) Option {
	return func(s *Manager) { s.dispatcher = d }
}

// WithPolicy sets the per-request timeout and retry policy.
func WithPolicy(p agerrors.Policy) Option {
	return func(s *Manager) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Manager) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Manager that sends requests through executor.
func New(executor prompt.Executor, opts ...Option) *Manager {
	m := &Manager{
		executor: executor,
		policy:   agerrors.Policy{Retry: agerrors.NoRetry},
		logger:   slog.Default(),
		sem:      semaphore.NewWeighted(maxWeight),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Model returns the configured model.
func (m *Manager) Model() prompt.Model { return m.model }

type activeKey struct{ m *Manager }

func (m *Manager) active(ctx context.Context) bool {
	return ctx.Value(activeKey{m}) != nil
}

// Read runs fn with shared access. The session observes a copy of the
// history taken on acquisition. A read nested in another session of the
// same manager reuses the outer access instead of queueing behind writers.
func (m *Manager) Read(ctx context.Context, fn func(ctx context.Context, s *ReadSession) error) error {
	if !m.active(ctx) {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer m.sem.Release(1)
		ctx = context.WithValue(ctx, activeKey{m}, struct{}{})
	}
	return fn(ctx, &ReadSession{m: m, history: m.Snapshot()})
}

// Write runs fn with exclusive access. Acquisition honours ctx
// cancellation; the lock is released on every exit path, panics included.
func (m *Manager) Write(ctx context.Context, fn func(ctx context.Context, s *WriteSession) error) error {
	if m.active(ctx) {
		return ErrSessionActive
	}
	if err := m.sem.Acquire(ctx, maxWeight); err != nil {
		return err
	}
	defer m.sem.Release(maxWeight)

	ctx = context.WithValue(ctx, activeKey{m}, struct{}{})
	return fn(ctx, &WriteSession{m: m})
}

// Snapshot returns a deep copy of the current history.
func (m *Manager) Snapshot() []prompt.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return prompt.CloneMessages(m.history)
}

// Restore replaces the history with a copy of msgs.
func (m *Manager) Restore(msgs []prompt.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = prompt.CloneMessages(msgs)
}

func (m *Manager) descriptors() []prompt.ToolDescriptor {
	if m.tools == nil {
		return nil
	}
	return m.tools.Descriptors()
}

func (m *Manager) emit(ctx context.Context, evt pipeline.Event) {
	if m.dispatcher == nil {
		return
	}
	// Handler failures are logged and recorded by the dispatcher.
	_ = m.dispatcher.Invoke(ctx, evt)
}
