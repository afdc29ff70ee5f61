// Package persistencetest provides a contract suite that every
// persistence.Provider must pass.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

// Factory creates a fresh, empty provider configured with opts.
type Factory func(t *testing.T, opts ...persistence.Option) persistence.Provider

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Record builds a sealed checkpoint for direct provider calls.
func Record(agentID, id string, version int64, tombstone bool, createdAt time.Time) *persistence.Checkpoint {
	cp := &persistence.Checkpoint{
		ID:             id,
		AgentID:        agentID,
		CreatedAt:      createdAt,
		Version:        version,
		Tombstone:      tombstone,
		MessageHistory: []prompt.Message{{Kind: prompt.KindUser, Content: "hello " + id, Timestamp: createdAt}},
	}
	if !tombstone {
		cp.NodeID = "root/node-" + id
		cp.LastInput = []byte(fmt.Sprintf("%q", id))
	}
	if err := cp.Seal(); err != nil {
		panic(err)
	}
	return cp
}

// RunProviderContract runs the provider contract against providers built
// by factory.
func RunProviderContract(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("Empty", func(t *testing.T) {
		p := factory(t)

		cps, err := p.GetCheckpoints(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, cps)

		latest, err := p.GetLatestCheckpoint(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("Save and list ordered by version", func(t *testing.T) {
		p := factory(t)
		for _, v := range []int64{3, 1, 2} {
			require.NoError(t, p.SaveCheckpoint(ctx, "agent", Record("agent", fmt.Sprintf("cp-%d", v), v, false, epoch)))
		}

		cps, err := p.GetCheckpoints(ctx, "agent")
		require.NoError(t, err)
		require.Len(t, cps, 3)
		for i, cp := range cps {
			assert.Equal(t, int64(i+1), cp.Version)
			assert.NoError(t, cp.Verify())
		}
		assert.Equal(t, "root/node-cp-1", cps[0].NodeID)
		assert.JSONEq(t, `"cp-1"`, string(cps[0].LastInput))
		require.Len(t, cps[0].MessageHistory, 1)
		assert.Equal(t, "hello cp-1", cps[0].MessageHistory[0].Content)
	})

	t.Run("Latest is highest version regardless of tombstone", func(t *testing.T) {
		p := factory(t)
		require.NoError(t, p.SaveCheckpoint(ctx, "agent", Record("agent", "a", 1, false, epoch)))
		require.NoError(t, p.SaveCheckpoint(ctx, "agent", Record("agent", "b", 2, true, epoch)))

		latest, err := p.GetLatestCheckpoint(ctx, "agent")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "b", latest.ID)
		assert.True(t, latest.Tombstone)

		require.NoError(t, p.SaveCheckpoint(ctx, "agent", Record("agent", "c", 3, false, epoch)))
		latest, err = p.GetLatestCheckpoint(ctx, "agent")
		require.NoError(t, err)
		assert.Equal(t, "c", latest.ID)
		assert.False(t, latest.Tombstone)
	})

	t.Run("Save is an upsert by id", func(t *testing.T) {
		p := factory(t)
		require.NoError(t, p.SaveCheckpoint(ctx, "agent", Record("agent", "same", 1, false, epoch)))
		updated := Record("agent", "same", 1, false, epoch)
		updated.NodeID = "root/other"
		require.NoError(t, updated.Seal())
		require.NoError(t, p.SaveCheckpoint(ctx, "agent", updated))

		cps, err := p.GetCheckpoints(ctx, "agent")
		require.NoError(t, err)
		require.Len(t, cps, 1)
		assert.Equal(t, "root/other", cps[0].NodeID)
	})

	t.Run("Agents are isolated", func(t *testing.T) {
		p := factory(t)
		require.NoError(t, p.SaveCheckpoint(ctx, "alpha", Record("alpha", "x", 1, false, epoch)))
		require.NoError(t, p.SaveCheckpoint(ctx, "beta", Record("beta", "x", 5, false, epoch)))
		require.NoError(t, p.SaveCheckpoint(ctx, "beta", Record("beta", "y", 6, true, epoch)))

		alpha, err := p.GetCheckpoints(ctx, "alpha")
		require.NoError(t, err)
		require.Len(t, alpha, 1)
		assert.Equal(t, "alpha", alpha[0].AgentID)

		latest, err := p.GetLatestCheckpoint(ctx, "alpha")
		require.NoError(t, err)
		assert.Equal(t, int64(1), latest.Version)

		require.NoError(t, p.DeleteAllCheckpoints(ctx, "beta"))
		alpha, err = p.GetCheckpoints(ctx, "alpha")
		require.NoError(t, err)
		assert.Len(t, alpha, 1)
	})

	t.Run("Delete", func(t *testing.T) {
		p := factory(t)
		require.NoError(t, p.SaveCheckpoint(ctx, "agent", Record("agent", "a", 1, false, epoch)))
		require.NoError(t, p.SaveCheckpoint(ctx, "agent", Record("agent", "b", 2, false, epoch)))

		require.NoError(t, p.DeleteCheckpoint(ctx, "agent", "b"))
		require.NoError(t, p.DeleteCheckpoint(ctx, "agent", "missing"))

		latest, err := p.GetLatestCheckpoint(ctx, "agent")
		require.NoError(t, err)
		assert.Equal(t, "a", latest.ID)

		require.NoError(t, p.DeleteAllCheckpoints(ctx, "agent"))
		cps, err := p.GetCheckpoints(ctx, "agent")
		require.NoError(t, err)
		assert.Empty(t, cps)
	})

	t.Run("CleanupExpired removes rows past TTL", func(t *testing.T) {
		clock := NewClock(epoch)
		p := factory(t, persistence.WithTTL(time.Second), persistence.WithClock(clock.Now))
		m := persistence.NewManager(p, "agent", persistence.WithManagerClock(clock.Now))

		_, err := m.SaveCheckpoint(ctx, "root/a", "", "in", nil)
		require.NoError(t, err)
		clock.Advance(500 * time.Millisecond)
		require.NoError(t, m.CleanupExpired(ctx))
		n, err := m.CheckpointCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		clock.Advance(2 * time.Second)
		require.NoError(t, m.CleanupExpired(ctx))

		n, err = m.CheckpointCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		latest, err := m.Latest(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("Throttled cleanup runs on access", func(t *testing.T) {
		clock := NewClock(epoch)
		p := factory(t,
			persistence.WithTTL(time.Second),
			persistence.WithCleanupInterval(time.Minute),
			persistence.WithClock(clock.Now),
		)
		require.NoError(t, p.SaveCheckpoint(ctx, "agent", Record("agent", "old", 1, false, epoch)))

		clock.Advance(30 * time.Second)
		cps, err := p.GetCheckpoints(ctx, "agent")
		require.NoError(t, err)
		assert.Len(t, cps, 1, "interval not yet elapsed")

		clock.Advance(time.Minute)
		cps, err = p.GetCheckpoints(ctx, "agent")
		require.NoError(t, err)
		assert.Empty(t, cps)
	})

	t.Run("Concurrent agents", func(t *testing.T) {
		p := factory(t)
		const agents, perAgent = 8, 10

		var wg sync.WaitGroup
		for a := range agents {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m := persistence.NewManager(p, fmt.Sprintf("agent-%d", a))
				for i := range perAgent {
					_, err := m.SaveCheckpoint(ctx, "root/n", "", i, nil)
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		for a := range agents {
			m := persistence.NewManager(p, fmt.Sprintf("agent-%d", a))
			cps, err := m.Checkpoints(ctx)
			require.NoError(t, err)
			require.Len(t, cps, perAgent)
			assert.Equal(t, int64(perAgent), cps[perAgent-1].Version)
		}
	})
}
