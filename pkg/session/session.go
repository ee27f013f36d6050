package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session represents an active conversation.
// Sessions are safe for concurrent use; turns are serialized by BeginTurn.
type Session interface {
	// ID returns the unique session identifier.
	ID() string

	// UserID returns the owning user identifier (may be empty).
	UserID() string

	// State returns the session's state store.
	State() *State

	// BeginTurn blocks until no other turn of this session is running and
	// returns the function that ends the turn.
	BeginTurn(ctx context.Context) (end func(), err error)

	// AppendTurn records a completed turn and persists the current state.
	AppendTurn(ctx context.Context, turn *Turn) error

	// Turns returns the turn history in order.
	Turns(ctx context.Context) ([]*Turn, error)

	// Metadata returns a copy of the session metadata.
	Metadata() SessionMetadata

	// Save persists the current state without recording a turn.
	Save(ctx context.Context) error
}

// sessionImpl is the concrete implementation of Session.
type sessionImpl struct {
	meta    *SessionMetadata
	backend StorageBackend
	state   *State
	mu      sync.RWMutex

	// turn is a one-slot semaphore serializing turns.
	turn chan struct{}

	turns  []*Turn
	loaded bool
}

func newSession(meta *SessionMetadata, state map[string]any, backend StorageBackend) *sessionImpl {
	return &sessionImpl{
		meta:    meta,
		backend: backend,
		state:   NewState(state),
		turn:    make(chan struct{}, 1),
	}
}

func (s *sessionImpl) ID() string { return s.meta.ID }

func (s *sessionImpl) UserID() string { return s.meta.UserID }

func (s *sessionImpl) State() *State { return s.state }

func (s *sessionImpl) Metadata() SessionMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.meta
}

// BeginTurn waits for the per-session turn slot or for ctx to be done.
func (s *sessionImpl) BeginTurn(ctx context.Context) (func(), error) {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for turn: %w", ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-s.turn }) }, nil
}

// AppendTurn adds a turn to the session history.
func (s *sessionImpl) AppendTurn(ctx context.Context, turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	turn.ParentID = s.meta.LastTurn
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	if err := s.backend.AppendTurn(ctx, s.meta.ID, turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	if s.loaded {
		s.turns = append(s.turns, turn)
	}
	s.meta.TurnCount++
	s.meta.UpdatedAt = time.Now().UTC()
	s.meta.LastTurn = turn.ID

	if err := s.saveLocked(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Turns retrieves all turns in the session.
func (s *sessionImpl) Turns(ctx context.Context) ([]*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		turns, err := s.backend.LoadTurns(ctx, s.meta.ID)
		if err != nil {
			return nil, fmt.Errorf("load turns: %w", err)
		}
		s.turns = turns
		s.loaded = true
	}

	out := make([]*Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

func (s *sessionImpl) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.UpdatedAt = time.Now().UTC()
	return s.saveLocked(ctx)
}

func (s *sessionImpl) saveLocked(ctx context.Context) error {
	meta := *s.meta
	return s.backend.SaveSession(ctx, &Snapshot{Metadata: &meta, State: s.state.Snapshot()})
}
