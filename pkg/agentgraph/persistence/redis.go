package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is the key prefix used when none is configured.
const DefaultRedisPrefix = "agentgraph:checkpoint:"

// RedisProvider persists checkpoints to Redis.
//
// Each agent owns a hash of checkpoint records and a sorted set of
// checkpoint ids scored by version. A global sorted set scored by creation
// time indexes every record for TTL cleanup.
type RedisProvider struct {
	*retention

	client     *backend.Client
	prefix     string
	ownsClient bool
	closed     atomic.Bool
}

// RedisOption configures a RedisProvider.
type RedisOption func(*RedisProvider)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(p *RedisProvider) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithRetention applies provider options to a RedisProvider.
func WithRetention(opts ...Option) RedisOption {
	return func(p *RedisProvider) {
		for _, opt := range opts {
			opt(p.retention)
		}
	}
}

// NewRedisProvider connects to the Redis server at address.
func NewRedisProvider(address, password string, db int, opts ...RedisOption) *RedisProvider {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	p := NewRedisProviderFromClient(rdb, opts...)
	p.ownsClient = true
	return p
}

// NewRedisProviderFromClient creates a provider over an existing client.
// Close leaves the client open.
func NewRedisProviderFromClient(client *backend.Client, opts ...RedisOption) *RedisProvider {
	p := &RedisProvider{
		retention: newRetention(nil),
		client:    client,
		prefix:    DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.lastCleanup = p.now()
	return p
}

func (p *RedisProvider) recordsKey(agentID string) string {
	return p.prefix + agentID + ":records"
}

func (p *RedisProvider) versionsKey(agentID string) string {
	return p.prefix + agentID + ":versions"
}

func (p *RedisProvider) createdKey() string {
	return p.prefix + "created"
}

// indexMember encodes (agentID, checkpointID) as one sorted set member.
// The agent id is length-prefixed so either part may contain any byte.
func indexMember(agentID, checkpointID string) string {
	return strconv.Itoa(len(agentID)) + ":" + agentID + checkpointID
}

func parseIndexMember(m string) (agentID, checkpointID string, ok bool) {
	n, rest, found := strings.Cut(m, ":")
	if !found {
		return "", "", false
	}
	size, err := strconv.Atoi(n)
	if err != nil || size < 0 || size > len(rest) {
		return "", "", false
	}
	return rest[:size], rest[size:], true
}

// SaveCheckpoint implements Provider.
func (p *RedisProvider) SaveCheckpoint(ctx context.Context, agentID string, cp *Checkpoint) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}
	p.maybeCleanup(ctx, p.CleanupExpired)

	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HSet(ctx, p.recordsKey(agentID), cp.ID, data)
		pipe.ZAdd(ctx, p.versionsKey(agentID), backend.Z{Score: float64(cp.Version), Member: cp.ID})
		pipe.ZAdd(ctx, p.createdKey(), backend.Z{
			Score:  float64(cp.CreatedAt.UnixMicro()),
			Member: indexMember(agentID, cp.ID),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save checkpoint to redis: %w", err)
	}
	return nil
}

// GetCheckpoints implements Provider.
func (p *RedisProvider) GetCheckpoints(ctx context.Context, agentID string) ([]*Checkpoint, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	p.maybeCleanup(ctx, p.CleanupExpired)

	vals, err := p.client.HVals(ctx, p.recordsKey(agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints from redis: %w", err)
	}
	cps := make([]*Checkpoint, 0, len(vals))
	for _, v := range vals {
		cp, err := Unmarshal([]byte(v))
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	sortByVersion(cps)
	return cps, nil
}

// GetLatestCheckpoint implements Provider.
func (p *RedisProvider) GetLatestCheckpoint(ctx context.Context, agentID string) (*Checkpoint, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	p.maybeCleanup(ctx, p.CleanupExpired)

	ids, err := p.client.ZRevRange(ctx, p.versionsKey(agentID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("load latest version from redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	val, err := p.client.HGet(ctx, p.recordsKey(agentID), ids[0]).Result()
	if errors.Is(err, backend.Nil) {
		return nil, fmt.Errorf("%w: version index names missing record %s", ErrCorruptCheckpoint, ids[0])
	}
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint from redis: %w", err)
	}
	return Unmarshal([]byte(val))
}

// DeleteCheckpoint implements Provider.
func (p *RedisProvider) DeleteCheckpoint(ctx context.Context, agentID, checkpointID string) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}
	_, err := p.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.HDel(ctx, p.recordsKey(agentID), checkpointID)
		pipe.ZRem(ctx, p.versionsKey(agentID), checkpointID)
		pipe.ZRem(ctx, p.createdKey(), indexMember(agentID, checkpointID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint from redis: %w", err)
	}
	return nil
}

// DeleteAllCheckpoints implements Provider.
func (p *RedisProvider) DeleteAllCheckpoints(ctx context.Context, agentID string) error {
	if p.closed.Load() {
		return ErrProviderClosed
	}
	ids, err := p.client.HKeys(ctx, p.recordsKey(agentID)).Result()
	if err != nil {
		return fmt.Errorf("list checkpoint ids from redis: %w", err)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, p.recordsKey(agentID), p.versionsKey(agentID))
		for _, id := range ids {
			pipe.ZRem(ctx, p.createdKey(), indexMember(agentID, id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete agent checkpoints from redis: %w", err)
	}
	return nil
}

// CleanupExpired implements Provider.
func (p *RedisProvider) CleanupExpired(ctx context.Context) error {
	if p.ttl <= 0 {
		return nil
	}
	if p.closed.Load() {
		return ErrProviderClosed
	}
	members, err := p.client.ZRangeByScore(ctx, p.createdKey(), &backend.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(p.cutoff().UnixMicro(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("scan expired checkpoints: %w", err)
	}
	if len(members) == 0 {
		return nil
	}
	_, err = p.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		for _, m := range members {
			if agentID, id, ok := parseIndexMember(m); ok {
				pipe.HDel(ctx, p.recordsKey(agentID), id)
				pipe.ZRem(ctx, p.versionsKey(agentID), id)
			}
			pipe.ZRem(ctx, p.createdKey(), m)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cleanup expired checkpoints: %w", err)
	}
	return nil
}

// Close implements io.Closer. It closes the client only if the provider
// created it.
func (p *RedisProvider) Close() error {
	if p.closed.Swap(true) || !p.ownsClient {
		return nil
	}
	return p.client.Close()
}
