// Package session provides per-conversation sessions: turn history plus the
// shared state store threaded through capability invocations.
package session

import (
	"time"
)

// Turn is one question/answer exchange in a session.
// Turns are append-only and immutable once written.
type Turn struct {
	// ID is the unique identifier for this turn.
	ID string `json:"id"`
	// ParentID links to the previous turn.
	ParentID string `json:"parentId,omitempty"`
	// Timestamp is when the turn completed.
	Timestamp time.Time `json:"timestamp"`
	// Question is the user's question.
	Question string `json:"question"`
	// Answer is the composed markdown response.
	Answer string `json:"answer"`
	// Intent is the classified intent of the question.
	Intent string `json:"intent,omitempty"`
	// Capabilities lists the capabilities invoked, in order.
	Capabilities []string `json:"capabilities,omitempty"`
	// Error holds the turn failure, if any.
	Error string `json:"error,omitempty"`
}

// SessionMetadata holds session summary information.
type SessionMetadata struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// UserID identifies the owning user (optional).
	UserID string `json:"userId,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the session was last modified.
	UpdatedAt time.Time `json:"updatedAt"`
	// TurnCount is the number of completed turns.
	TurnCount int `json:"turnCount"`
	// LastTurn is the ID of the latest turn.
	LastTurn string `json:"lastTurn,omitempty"`
}

// Snapshot is what a backend persists for a session besides its turns.
type Snapshot struct {
	Metadata *SessionMetadata `json:"metadata"`
	State    map[string]any   `json:"state,omitempty"`
}
