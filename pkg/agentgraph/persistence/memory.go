package persistence

import (
	"context"
	"sync"
)

// MemoryProvider keeps checkpoints in process memory.
// Data is lost when the process exits.
type MemoryProvider struct {
	*retention

	mu     sync.RWMutex
	data   map[string]map[string]*Checkpoint // agentID -> checkpointID -> checkpoint
	closed bool
}

// NewMemoryProvider creates an in-memory provider.
func NewMemoryProvider(opts ...Option) *MemoryProvider {
	return &MemoryProvider{
		retention: newRetention(opts),
		data:      make(map[string]map[string]*Checkpoint),
	}
}

// SaveCheckpoint implements Provider.
func (m *MemoryProvider) SaveCheckpoint(ctx context.Context, agentID string, cp *Checkpoint) error {
	m.maybeCleanup(ctx, m.CleanupExpired)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrProviderClosed
	}
	if m.data[agentID] == nil {
		m.data[agentID] = make(map[string]*Checkpoint)
	}
	m.data[agentID][cp.ID] = cp.Clone()
	return nil
}

// GetCheckpoints implements Provider.
func (m *MemoryProvider) GetCheckpoints(ctx context.Context, agentID string) ([]*Checkpoint, error) {
	m.maybeCleanup(ctx, m.CleanupExpired)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrProviderClosed
	}
	out := make([]*Checkpoint, 0, len(m.data[agentID]))
	for _, cp := range m.data[agentID] {
		out = append(out, cp.Clone())
	}
	sortByVersion(out)
	return out, nil
}

// GetLatestCheckpoint implements Provider.
func (m *MemoryProvider) GetLatestCheckpoint(ctx context.Context, agentID string) (*Checkpoint, error) {
	m.maybeCleanup(ctx, m.CleanupExpired)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrProviderClosed
	}
	var latest *Checkpoint
	for _, cp := range m.data[agentID] {
		if latest == nil || cp.Version > latest.Version {
			latest = cp
		}
	}
	return latest.Clone(), nil
}

// DeleteCheckpoint implements Provider.
func (m *MemoryProvider) DeleteCheckpoint(_ context.Context, agentID, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrProviderClosed
	}
	if cps := m.data[agentID]; cps != nil {
		delete(cps, checkpointID)
		if len(cps) == 0 {
			delete(m.data, agentID)
		}
	}
	return nil
}

// DeleteAllCheckpoints implements Provider.
func (m *MemoryProvider) DeleteAllCheckpoints(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrProviderClosed
	}
	delete(m.data, agentID)
	return nil
}

// CleanupExpired implements Provider.
func (m *MemoryProvider) CleanupExpired(context.Context) error {
	if m.ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrProviderClosed
	}
	for agentID, cps := range m.data {
		for id, cp := range cps {
			if m.expired(cp.CreatedAt) {
				delete(cps, id)
			}
		}
		if len(cps) == 0 {
			delete(m.data, agentID)
		}
	}
	return nil
}

// Close implements io.Closer.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
