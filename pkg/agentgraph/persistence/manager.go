package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/observability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// Manager reads and writes the checkpoint chain of one agent id.
// Safe for concurrent use.
type Manager struct {
	provider Provider
	agentID  string
	now      func() time.Time
	logger   *slog.Logger

	// mu serializes version allocation with the save that uses it.
	mu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock sets the clock used for CreatedAt.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager for agentID over provider.
func NewManager(provider Provider, agentID string, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider: provider,
		agentID:  agentID,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AgentID returns the agent id this manager is scoped to.
func (m *Manager) AgentID() string { return m.agentID }

// Provider returns the underlying provider.
func (m *Manager) Provider() Provider { return m.provider }

// SaveCheckpoint persists a live checkpoint: execution resumes at nodePath
// with input. The version is one past the highest stored version, so a new
// chain may start on top of a tombstone.
func (m *Manager) SaveCheckpoint(ctx context.Context, nodePath, prevNode string, input any, history []prompt.Message) (*Checkpoint, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint input for %s: %w", nodePath, err)
	}
	return m.save(ctx, &Checkpoint{
		NodeID:         nodePath,
		PrevNodeID:     prevNode,
		LastInput:      raw,
		MessageHistory: prompt.CloneMessages(history),
	})
}

// SaveTombstone marks the run as finished cleanly.
func (m *Manager) SaveTombstone(ctx context.Context, prevNode string, history []prompt.Message) (*Checkpoint, error) {
	return m.save(ctx, &Checkpoint{
		PrevNodeID:     prevNode,
		MessageHistory: prompt.CloneMessages(history),
		Tombstone:      true,
	})
}

func (m *Manager) save(ctx context.Context, cp *Checkpoint) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest, err := m.provider.GetLatestCheckpoint(ctx, m.agentID)
	if err != nil {
		return nil, fmt.Errorf("read latest version: %w", err)
	}
	cp.Version = 1
	if latest != nil {
		cp.Version = latest.Version + 1
	}
	cp.ID = ulid.Make().String()
	cp.AgentID = m.agentID
	cp.CreatedAt = m.now().UTC()
	if err := cp.Seal(); err != nil {
		return nil, fmt.Errorf("seal checkpoint: %w", err)
	}
	if err := m.provider.SaveCheckpoint(ctx, m.agentID, cp); err != nil {
		observability.LogCheckpointError(m.logger, cp.NodeID, "save", err)
		return nil, err
	}
	size := len(cp.LastInput)
	observability.LogCheckpoint(m.logger, cp.NodeID, cp.Version, size)
	return cp, nil
}

// Latest returns the highest-version checkpoint, or nil if none exist.
func (m *Manager) Latest(ctx context.Context) (*Checkpoint, error) {
	cp, err := m.provider.GetLatestCheckpoint(ctx, m.agentID)
	if err != nil || cp == nil {
		return nil, err
	}
	if err := cp.Verify(); err != nil {
		return nil, err
	}
	return cp, nil
}

// Checkpoint returns the checkpoint with id.
// Returns ErrNotFound if it doesn't exist.
func (m *Manager) Checkpoint(ctx context.Context, id string) (*Checkpoint, error) {
	cps, err := m.Checkpoints(ctx)
	if err != nil {
		return nil, err
	}
	for _, cp := range cps {
		if cp.ID == id {
			return cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Checkpoints returns the full chain by ascending version.
func (m *Manager) Checkpoints(ctx context.Context) ([]*Checkpoint, error) {
	cps, err := m.provider.GetCheckpoints(ctx, m.agentID)
	if err != nil {
		return nil, err
	}
	for _, cp := range cps {
		if err := cp.Verify(); err != nil {
			return nil, err
		}
	}
	return cps, nil
}

// CheckpointCount returns the number of stored checkpoints.
func (m *Manager) CheckpointCount(ctx context.Context) (int, error) {
	cps, err := m.provider.GetCheckpoints(ctx, m.agentID)
	if err != nil {
		return 0, err
	}
	return len(cps), nil
}

// Delete removes one checkpoint.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.provider.DeleteCheckpoint(ctx, m.agentID, id)
}

// DeleteAll removes the whole chain.
func (m *Manager) DeleteAll(ctx context.Context) error {
	return m.provider.DeleteAllCheckpoints(ctx, m.agentID)
}

// CleanupExpired asks the provider to drop expired checkpoints.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	return m.provider.CleanupExpired(ctx)
}

// Open builds the provider named by cfg. It returns nil, nil when no
// provider is configured.
func Open(ctx context.Context, cfg config.Persistence, opts ...Option) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = append([]Option{WithTTL(cfg.TTL), WithCleanupInterval(cfg.CleanupInterval)}, opts...)

	switch cfg.Provider {
	case config.ProviderMemory:
		return NewMemoryProvider(opts...), nil
	case config.ProviderSQLite:
		p, err := NewSQLiteProvider(ctx, cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderFile:
		p, err := NewFileProvider(cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderRedis:
		return NewRedisProvider(cfg.Addr, cfg.Password, cfg.DB,
			WithPrefix(cfg.Prefix), WithRetention(opts...)), nil
	default:
		return nil, nil
	}
}
