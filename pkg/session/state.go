package session

import (
	"maps"
	"slices"
	"sync"

	"github.com/aixgo-dev/datapilot/capability"
)

// State is the key/value store scoped to exactly one session.
// Values are written by the router and by capability adapters only.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState returns a state seeded with a copy of values.
func NewState(values map[string]any) *State {
	s := &State{values: make(map[string]any, len(values))}
	maps.Copy(s.values, values)
	return s
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Require returns the value stored under key or a *capability.MissingStateError.
func (s *State) Require(key string) (any, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	return nil, &capability.MissingStateError{Key: key}
}

// Set stores value under key, overwriting any previous value.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Delete removes key.
func (s *State) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Keys returns the stored keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Snapshot returns a shallow copy of the stored values.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

var _ capability.StateView = (*State)(nil)
