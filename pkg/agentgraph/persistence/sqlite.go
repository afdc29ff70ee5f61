package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteProvider persists checkpoints to SQLite.
// It is suitable for single-process production use.
type SQLiteProvider struct {
	*retention

	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteProvider opens (or creates) a SQLite checkpoint database.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteProvider(ctx context.Context, path string, opts ...Option) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: SQLite has a single writer, and every connection to
	// ":memory:" would otherwise see its own empty database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			agent_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			tombstone INTEGER NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (agent_id, checkpoint_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_agent_version ON checkpoints(agent_id, version)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &SQLiteProvider{retention: newRetention(opts), db: db}, nil
}

// SaveCheckpoint implements Provider.
func (s *SQLiteProvider) SaveCheckpoint(ctx context.Context, agentID string, cp *Checkpoint) error {
	s.maybeCleanup(ctx, s.CleanupExpired)

	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrProviderClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (agent_id, checkpoint_id, version, created_at, tombstone, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, checkpoint_id) DO UPDATE SET
			version = excluded.version,
			created_at = excluded.created_at,
			tombstone = excluded.tombstone,
			data = excluded.data
	`, agentID, cp.ID, cp.Version, cp.CreatedAt.UnixNano(), cp.Tombstone, data)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// GetCheckpoints implements Provider.
func (s *SQLiteProvider) GetCheckpoints(ctx context.Context, agentID string) ([]*Checkpoint, error) {
	s.maybeCleanup(ctx, s.CleanupExpired)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrProviderClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM checkpoints
		WHERE agent_id = ?
		ORDER BY version
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	cps := []*Checkpoint{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp, err := Unmarshal(data)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return cps, nil
}

// GetLatestCheckpoint implements Provider.
func (s *SQLiteProvider) GetLatestCheckpoint(ctx context.Context, agentID string) (*Checkpoint, error) {
	s.maybeCleanup(ctx, s.CleanupExpired)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrProviderClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM checkpoints
		WHERE agent_id = ?
		ORDER BY version DESC
		LIMIT 1
	`, agentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	return Unmarshal(data)
}

// DeleteCheckpoint implements Provider.
func (s *SQLiteProvider) DeleteCheckpoint(ctx context.Context, agentID, checkpointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrProviderClosed
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints
		WHERE agent_id = ? AND checkpoint_id = ?
	`, agentID, checkpointID)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// DeleteAllCheckpoints implements Provider.
func (s *SQLiteProvider) DeleteAllCheckpoints(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrProviderClosed
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE agent_id = ?
	`, agentID)
	if err != nil {
		return fmt.Errorf("delete agent checkpoints: %w", err)
	}
	return nil
}

// CleanupExpired implements Provider.
func (s *SQLiteProvider) CleanupExpired(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrProviderClosed
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE created_at < ?
	`, s.cutoff().UnixNano())
	if err != nil {
		return fmt.Errorf("cleanup expired checkpoints: %w", err)
	}
	return nil
}

// Close implements io.Closer.
func (s *SQLiteProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
