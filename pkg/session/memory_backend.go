package session

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	memMetaPrefix  = "meta:"
	memTurnsPrefix = "turns:"
)

// MemoryBackend implements StorageBackend with an in-process expiring cache.
// Sessions live for the process lifetime or until ttl elapses without writes.
type MemoryBackend struct {
	cache  *cache.Cache
	mu     sync.RWMutex
	closed bool
}

// NewMemoryBackend creates a memory backend. A zero ttl never expires sessions.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
		if cleanup < time.Minute {
			cleanup = time.Minute
		}
	}
	return &MemoryBackend{cache: cache.New(expiration, cleanup)}
}

func (b *MemoryBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// SaveSession creates or updates a session snapshot.
func (b *MemoryBackend) SaveSession(_ context.Context, snap *Snapshot) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	meta := *snap.Metadata
	b.cache.Set(memMetaPrefix+meta.ID, &Snapshot{Metadata: &meta, State: maps.Clone(snap.State)}, cache.DefaultExpiration)

	// Keep the turn log alive as long as the session.
	if turns, ok := b.cache.Get(memTurnsPrefix + meta.ID); ok {
		b.cache.Set(memTurnsPrefix+meta.ID, turns, cache.DefaultExpiration)
	}
	return nil
}

// LoadSession retrieves a session snapshot by ID.
func (b *MemoryBackend) LoadSession(_ context.Context, sessionID string) (*Snapshot, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	x, ok := b.cache.Get(memMetaPrefix + sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	snap := x.(*Snapshot)
	meta := *snap.Metadata
	return &Snapshot{Metadata: &meta, State: maps.Clone(snap.State)}, nil
}

// DeleteSession removes a session and its turns.
func (b *MemoryBackend) DeleteSession(_ context.Context, sessionID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	b.cache.Delete(memMetaPrefix + sessionID)
	b.cache.Delete(memTurnsPrefix + sessionID)
	return nil
}

// ListSessions returns session metadata ordered by creation time.
func (b *MemoryBackend) ListSessions(_ context.Context, opts ListOptions) ([]*SessionMetadata, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var metas []*SessionMetadata
	for key, item := range b.cache.Items() {
		if !strings.HasPrefix(key, memMetaPrefix) {
			continue
		}
		meta := *item.Object.(*Snapshot).Metadata
		if opts.UserID != "" && meta.UserID != opts.UserID {
			continue
		}
		metas = append(metas, &meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].ID < metas[j].ID
		}
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})

	ids := make([]string, len(metas))
	byID := make(map[string]*SessionMetadata, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
		byID[m.ID] = m
	}
	page := paginate(ids, opts)
	out := make([]*SessionMetadata, 0, len(page))
	for _, id := range page {
		out = append(out, byID[id])
	}
	return out, nil
}

// AppendTurn adds a turn to a session.
func (b *MemoryBackend) AppendTurn(_ context.Context, sessionID string, turn *Turn) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var turns []*Turn
	if x, ok := b.cache.Get(memTurnsPrefix + sessionID); ok {
		turns = x.([]*Turn)
	}
	copied := *turn
	turns = append(turns[:len(turns):len(turns)], &copied)
	b.cache.Set(memTurnsPrefix+sessionID, turns, cache.DefaultExpiration)
	return nil
}

// LoadTurns retrieves all turns for a session in order.
func (b *MemoryBackend) LoadTurns(_ context.Context, sessionID string) ([]*Turn, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	x, ok := b.cache.Get(memTurnsPrefix + sessionID)
	if !ok {
		return []*Turn{}, nil
	}
	turns := x.([]*Turn)
	out := make([]*Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Close releases resources held by the backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cache.Flush()
	return nil
}
