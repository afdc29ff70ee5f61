package persistence_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph/config"
	agerrors "github.com/randalmurphal/agentgraph/pkg/agentgraph/errors"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/persistence"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/prompt"
)

type payload struct {
	Text  string `json:"text"`
	Count int    `json:"count"`
}

func TestManager_VersionsAndTombstones(t *testing.T) {
	ctx := context.Background()
	m := persistence.NewManager(persistence.NewMemoryProvider(), "agent")

	history := []prompt.Message{prompt.User("hi"), prompt.Assistant("hello")}
	first, err := m.SaveCheckpoint(ctx, "root/a", "root/__start__", payload{Text: "x", Count: 1}, history)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, first.Checksum)

	tomb, err := m.SaveTombstone(ctx, "root/a", history)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tomb.Version)
	assert.True(t, tomb.Tombstone)
	assert.Empty(t, tomb.NodeID)

	next, err := m.SaveCheckpoint(ctx, "root/b", "root/a", payload{Text: "y"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Version)

	latest, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.ID, latest.ID)
	assert.Equal(t, "root/a", latest.PrevNodeID)

	var got payload
	require.NoError(t, latest.DecodeInput(&got))
	assert.Equal(t, payload{Text: "y"}, got)

	byID, err := m.Checkpoint(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, byID.MessageHistory, 2)
	assert.Equal(t, "hello", byID.MessageHistory[1].Content)

	_, err = m.Checkpoint(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	n, err := m.CheckpointCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestManager_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewMemoryProvider()
	m := persistence.NewManager(p, "agent")

	cp, err := m.SaveCheckpoint(ctx, "root/a", "", "original", nil)
	require.NoError(t, err)

	tampered := cp.Clone()
	tampered.LastInput = []byte(`"tampered"`)
	require.NoError(t, p.SaveCheckpoint(ctx, "agent", tampered))

	_, err = m.Latest(ctx)
	assert.ErrorIs(t, err, persistence.ErrCorruptCheckpoint)
	assert.True(t, agerrors.IsFatal(err))

	_, err = m.Checkpoints(ctx)
	assert.ErrorIs(t, err, persistence.ErrCorruptCheckpoint)
}

func TestManager_MissingChecksumIsCorrupt(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewMemoryProvider()
	m := persistence.NewManager(p, "agent")

	cp, err := m.SaveCheckpoint(ctx, "root/a", "", "original", nil)
	require.NoError(t, err)

	blanked := cp.Clone()
	blanked.Checksum = ""
	require.NoError(t, p.SaveCheckpoint(ctx, "agent", blanked))

	_, err = m.Latest(ctx)
	assert.ErrorIs(t, err, persistence.ErrCorruptCheckpoint)
	assert.ErrorContains(t, err, "missing checksum")

	unversioned := &persistence.Checkpoint{ID: "draft"}
	assert.NoError(t, unversioned.Verify())
}

func TestUnmarshal_Garbage(t *testing.T) {
	_, err := persistence.Unmarshal([]byte("{not json"))
	assert.ErrorIs(t, err, persistence.ErrCorruptCheckpoint)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.Persistence
		wantNil bool
		wantErr bool
	}{
		{name: "none", cfg: config.Persistence{}, wantNil: true},
		{name: "memory", cfg: config.Persistence{Provider: config.ProviderMemory, TTL: time.Hour}},
		{name: "sqlite", cfg: config.Persistence{Provider: config.ProviderSQLite, Path: filepath.Join(t.TempDir(), "a.db")}},
		{name: "file", cfg: config.Persistence{Provider: config.ProviderFile, Path: t.TempDir()}},
		{name: "sqlite without path", cfg: config.Persistence{Provider: config.ProviderSQLite}, wantErr: true},
		{name: "unknown", cfg: config.Persistence{Provider: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := persistence.Open(ctx, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, p)
				return
			}
			require.NotNil(t, p)
			t.Cleanup(func() { _ = persistence.Close(p) })

			_, err = persistence.NewManager(p, "agent").SaveCheckpoint(ctx, "root/a", "", 1, nil)
			assert.NoError(t, err)
		})
	}
}
