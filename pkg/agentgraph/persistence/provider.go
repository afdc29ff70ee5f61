package persistence

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Provider persists checkpoints partitioned by agent id.
// Implementations must be safe for concurrent use, and operations on one
// agent id must never observe or mutate rows of another.
type Provider interface {
	// SaveCheckpoint upserts cp keyed by (agentID, cp.ID).
	SaveCheckpoint(ctx context.Context, agentID string, cp *Checkpoint) error

	// GetCheckpoints returns all checkpoints of agentID by ascending
	// version. Returns an empty slice (not error) if there are none.
	GetCheckpoints(ctx context.Context, agentID string) ([]*Checkpoint, error)

	// GetLatestCheckpoint returns the checkpoint with the highest version,
	// tombstone or not. Returns nil, nil if there are none.
	GetLatestCheckpoint(ctx context.Context, agentID string) (*Checkpoint, error)

	// DeleteCheckpoint removes one checkpoint.
	// Returns nil if it doesn't exist.
	DeleteCheckpoint(ctx context.Context, agentID, checkpointID string) error

	// DeleteAllCheckpoints removes every checkpoint of agentID.
	DeleteAllCheckpoints(ctx context.Context, agentID string) error

	// CleanupExpired removes checkpoints older than the configured TTL,
	// across all agent ids. It is a no-op without a TTL.
	CleanupExpired(ctx context.Context) error
}

// Close releases p's resources if it holds any.
func Close(p Provider) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Option configures a provider.
type Option func(*retention)

// WithTTL sets the maximum checkpoint age. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(r *retention) { r.ttl = ttl }
}

// WithCleanupInterval makes the provider run CleanupExpired on its own,
// at most once per interval, as part of regular operations.
func WithCleanupInterval(d time.Duration) Option {
	return func(r *retention) { r.interval = d }
}

// WithClock replaces time.Now. Used by tests to move past the TTL.
func WithClock(now func() time.Time) Option {
	return func(r *retention) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the logger for background cleanup failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *retention) {
		if l != nil {
			r.logger = l
		}
	}
}

// retention holds the TTL settings shared by every provider.
type retention struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu          sync.Mutex
	lastCleanup time.Time
}

func newRetention(opts []Option) *retention {
	r := &retention{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.lastCleanup = r.now()
	return r
}

// expired reports whether a record created at t is older than the TTL.
func (r *retention) expired(t time.Time) bool {
	return r.ttl > 0 && r.now().Sub(t) > r.ttl
}

// cutoff is the creation time before which records are expired.
func (r *retention) cutoff() time.Time {
	return r.now().Add(-r.ttl)
}

// due reports whether a throttled cleanup should run now, and if so
// records that it ran.
func (r *retention) due() bool {
	if r.ttl <= 0 || r.interval <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastCleanup) < r.interval {
		return false
	}
	r.lastCleanup = now
	return true
}

// maybeCleanup runs cleanup when the interval has elapsed. Failures are
// logged; they never fail the operation that triggered them.
func (r *retention) maybeCleanup(ctx context.Context, cleanup func(context.Context) error) {
	if !r.due() {
		return
	}
	if err := cleanup(ctx); err != nil {
		r.logger.Warn("checkpoint cleanup failed", "error", err)
	}
}
