package conversation

import (
	"context"
	"sync"
)

// MemoryStore keeps states in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	states map[int64]State
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[int64]State)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, userID int64) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[userID]; ok {
		return st, nil
	}
	return Idle(), nil
}

// Put implements Store. Storing an idle state deletes the entry.
func (s *MemoryStore) Put(_ context.Context, userID int64, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.IsIdle() {
		delete(s.states, userID)
		return nil
	}
	s.states[userID] = st
	return nil
}

// CompareAndClear implements Store.
func (s *MemoryStore) CompareAndClear(_ context.Context, userID int64, version string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[userID]
	if !ok || st.Version != version {
		return false, nil
	}
	delete(s.states, userID)
	return true, nil
}
