// Package engine implements the orchestration core: the authoritative state
// store, the build step tracker, and the command processors for the install
// and update protocols. All results are observed through the event bus; the
// processors have no return channel of their own.
package engine

import "sync"

// Store holds the single authoritative state value of a protocol behind a
// mutual-exclusion lock. The lock is held only across the in-memory copy,
// never across an external call, so readers are never blocked by a slow
// collaborator. States are replaced wholesale; a snapshot is always a
// self-consistent value.
type Store[T any] struct {
	mu    sync.RWMutex
	state T
}

// NewStore creates a store holding the initial state.
func NewStore[T any](initial T) *Store[T] {
	return &Store[T]{state: initial}
}

// Snapshot returns a copy of the current state.
func (s *Store[T]) Snapshot() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Replace installs a new state value. Only a command processor may call
// this.
func (s *Store[T]) Replace(state T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}
