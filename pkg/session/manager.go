package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager manages session lifecycle.
// Manager is safe for concurrent use.
type Manager interface {
	// Create creates a new session.
	Create(ctx context.Context, opts CreateOptions) (Session, error)

	// Get retrieves an existing session by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Get(ctx context.Context, sessionID string) (Session, error)

	// GetOrCreate returns the latest session of userID or creates a new one.
	GetOrCreate(ctx context.Context, userID string) (Session, error)

	// List returns session metadata matching the filter options.
	List(ctx context.Context, opts ListOptions) ([]*SessionMetadata, error)

	// Delete removes a session and all its data.
	Delete(ctx context.Context, sessionID string) error

	// Close releases resources held by the manager.
	Close() error
}

// CreateOptions configures session creation.
type CreateOptions struct {
	// ID forces the session identifier; a UUID is generated when empty.
	ID string
	// UserID identifies the user for this session.
	UserID string
}

// defaultSweepInterval bounds how often live sessions are checked against
// the backend for expiry.
const defaultSweepInterval = time.Minute

// managerImpl is the concrete implementation of Manager. Live sessions are
// kept only while the backend still holds them.
type managerImpl struct {
	backend  StorageBackend
	sessions map[string]*sessionImpl
	touched  map[string]time.Time
	mu       sync.RWMutex

	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewManager creates a new session manager with the given storage backend.
func NewManager(backend StorageBackend) Manager {
	return &managerImpl{
		backend:    backend,
		sessions:   make(map[string]*sessionImpl),
		touched:    make(map[string]time.Time),
		sweepEvery: defaultSweepInterval,
		lastSweep:  time.Now(),
	}
}

func (m *managerImpl) track(sess *sessionImpl) {
	m.sessions[sess.ID()] = sess
	m.touched[sess.ID()] = time.Now()
}

func (m *managerImpl) forget(sessionID string) {
	delete(m.sessions, sessionID)
	delete(m.touched, sessionID)
}

// sweep drops live sessions the backend no longer holds. Sessions touched
// after the sweep started are left alone.
func (m *managerImpl) sweep(ctx context.Context) {
	start := time.Now()
	m.mu.Lock()
	if start.Sub(m.lastSweep) < m.sweepEvery {
		m.mu.Unlock()
		return
	}
	m.lastSweep = start
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.backend.LoadSession(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			continue
		}
		m.mu.Lock()
		if m.touched[id].Before(start) {
			m.forget(id)
		}
		m.mu.Unlock()
	}
}

// Create creates a new session.
func (m *managerImpl) Create(ctx context.Context, opts CreateOptions) (Session, error) {
	now := time.Now().UTC()

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	meta := &SessionMetadata{
		ID:        id,
		UserID:    opts.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.backend.SaveSession(ctx, &Snapshot{Metadata: meta}); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	sess := newSession(meta, nil, m.backend)
	sess.loaded = true

	m.mu.Lock()
	m.track(sess)
	m.mu.Unlock()

	m.sweep(ctx)
	return sess, nil
}

// Get retrieves an existing session by ID. A live session whose backend
// entry has expired is dropped and reported as ErrSessionNotFound.
func (m *managerImpl) Get(ctx context.Context, sessionID string) (Session, error) {
	m.sweep(ctx)

	snap, err := m.backend.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			m.mu.Lock()
			m.forget(sessionID)
			m.mu.Unlock()
		}
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Keep a single live instance per session.
	if sess, ok := m.sessions[sessionID]; ok {
		m.touched[sessionID] = time.Now()
		return sess, nil
	}
	sess := newSession(snap.Metadata, snap.State, m.backend)
	m.track(sess)
	return sess, nil
}

// GetOrCreate returns an existing session or creates a new one.
func (m *managerImpl) GetOrCreate(ctx context.Context, userID string) (Session, error) {
	if userID != "" {
		sessions, err := m.backend.ListSessions(ctx, ListOptions{UserID: userID})
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		var latest *SessionMetadata
		for _, meta := range sessions {
			if latest == nil || meta.UpdatedAt.After(latest.UpdatedAt) {
				latest = meta
			}
		}
		if latest != nil {
			return m.Get(ctx, latest.ID)
		}
	}

	return m.Create(ctx, CreateOptions{UserID: userID})
}

// List returns session metadata matching the filter options.
func (m *managerImpl) List(ctx context.Context, opts ListOptions) ([]*SessionMetadata, error) {
	return m.backend.ListSessions(ctx, opts)
}

// Delete removes a session and all its data.
func (m *managerImpl) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	m.forget(sessionID)
	m.mu.Unlock()

	return m.backend.DeleteSession(ctx, sessionID)
}

// Close releases resources held by the manager.
func (m *managerImpl) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := context.Background()
	for _, sess := range m.sessions {
		_ = sess.Save(ctx)
	}
	m.sessions = make(map[string]*sessionImpl)
	m.touched = make(map[string]time.Time)

	return m.backend.Close()
}
