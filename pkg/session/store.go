package session

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
)

// StorageBackend abstracts session persistence.
// Implementations must be safe for concurrent use.
type StorageBackend interface {
	// SaveSession creates or updates session metadata and state.
	SaveSession(ctx context.Context, snap *Snapshot) error

	// LoadSession retrieves a session snapshot by ID.
	// Returns ErrSessionNotFound if the session doesn't exist.
	LoadSession(ctx context.Context, sessionID string) (*Snapshot, error)

	// DeleteSession removes a session and all its turns.
	DeleteSession(ctx context.Context, sessionID string) error

	// ListSessions returns session metadata matching the filter options.
	ListSessions(ctx context.Context, opts ListOptions) ([]*SessionMetadata, error)

	// AppendTurn adds a turn to a session (append-only).
	AppendTurn(ctx context.Context, sessionID string, turn *Turn) error

	// LoadTurns retrieves all turns for a session in order.
	LoadTurns(ctx context.Context, sessionID string) ([]*Turn, error)

	// Close releases any resources held by the backend.
	Close() error
}

// ListOptions provides filtering for session listing.
type ListOptions struct {
	// UserID filters sessions by user.
	UserID string
	// Limit caps the number of results.
	Limit int
	// Offset skips the first N results.
	Offset int
}

func paginate(ids []string, opts ListOptions) []string {
	start := opts.Offset
	if start >= len(ids) {
		return nil
	}
	end := len(ids)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return ids[start:end]
}
