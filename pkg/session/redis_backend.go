package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements StorageBackend using Redis.
// It provides shared session storage for multi-replica deployments.
// State values round-trip through JSON, so structured values come back as
// generic maps and slices.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all session keys (default: "datapilot:session:").
	Prefix string `yaml:"prefix"`
	// SessionTTL is the session expiry duration (0 = never expire).
	SessionTTL time.Duration `yaml:"session_ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

const defaultRedisPrefix = "datapilot:session:"

// NewRedisBackend creates a new Redis storage backend.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBackendFromClient(client, cfg.Prefix, cfg.SessionTTL), nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (b *RedisBackend) sessionKey(sessionID string) string {
	return b.prefix + "meta:" + sessionID
}

func (b *RedisBackend) turnsKey(sessionID string) string {
	return b.prefix + "turns:" + sessionID
}

func (b *RedisBackend) indexKey() string {
	return b.prefix + "index"
}

func (b *RedisBackend) userIndexKey(userID string) string {
	return b.prefix + "user:" + userID
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// SaveSession creates or updates a session snapshot.
func (b *RedisBackend) SaveSession(ctx context.Context, snap *Snapshot) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	id := snap.Metadata.ID
	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.sessionKey(id), data, b.ttl)
	if b.ttl > 0 {
		pipe.Expire(ctx, b.turnsKey(id), b.ttl)
	}
	pipe.SAdd(ctx, b.indexKey(), id)
	if snap.Metadata.UserID != "" {
		pipe.SAdd(ctx, b.userIndexKey(snap.Metadata.UserID), id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession retrieves a session snapshot by ID.
func (b *RedisBackend) LoadSession(ctx context.Context, sessionID string) (*Snapshot, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if snap.Metadata == nil {
		return nil, fmt.Errorf("session %s has no metadata", sessionID)
	}
	return &snap, nil
}

// DeleteSession removes a session and all its turns.
func (b *RedisBackend) DeleteSession(ctx context.Context, sessionID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	snap, err := b.LoadSession(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.sessionKey(sessionID))
	pipe.Del(ctx, b.turnsKey(sessionID))
	pipe.SRem(ctx, b.indexKey(), sessionID)
	if snap != nil && snap.Metadata.UserID != "" {
		pipe.SRem(ctx, b.userIndexKey(snap.Metadata.UserID), sessionID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions returns session metadata matching filter options.
func (b *RedisBackend) ListSessions(ctx context.Context, opts ListOptions) ([]*SessionMetadata, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	index := b.indexKey()
	if opts.UserID != "" {
		index = b.userIndexKey(opts.UserID)
	}
	ids, err := b.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	// Redis sets are unordered.
	sort.Strings(ids)

	page := paginate(ids, opts)
	sessions := make([]*SessionMetadata, 0, len(page))
	for _, id := range page {
		snap, err := b.LoadSession(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Expired; drop the stale index entry.
				b.client.SRem(ctx, index, id)
				continue
			}
			return nil, err
		}
		sessions = append(sessions, snap.Metadata)
	}
	return sessions, nil
}

// AppendTurn adds a turn to a session.
func (b *RedisBackend) AppendTurn(ctx context.Context, sessionID string, turn *Turn) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	if err := b.client.RPush(ctx, b.turnsKey(sessionID), data).Err(); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if b.ttl > 0 {
		// Non-fatal: the next SaveSession refreshes the expiry.
		_ = b.client.Expire(ctx, b.turnsKey(sessionID), b.ttl).Err()
	}
	return nil
}

// LoadTurns retrieves all turns for a session in order.
func (b *RedisBackend) LoadTurns(ctx context.Context, sessionID string) ([]*Turn, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.LRange(ctx, b.turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}

	turns := make([]*Turn, 0, len(data))
	for _, d := range data {
		var turn Turn
		if err := json.Unmarshal([]byte(d), &turn); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		turns = append(turns, &turn)
	}
	return turns, nil
}

// Close releases resources held by the backend.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}
