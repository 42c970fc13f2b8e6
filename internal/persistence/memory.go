package persistence

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*RunState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*RunState)}
}

func (s *MemoryStore) SaveRunState(_ context.Context, state *RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.LadderID] = &cp
	return nil
}

func (s *MemoryStore) LoadRunState(_ context.Context, ladderID string) (*RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[ladderID]
	if !ok {
		return nil, nil
	}
	cp := *state
	return &cp, nil
}

func (s *MemoryStore) DeleteRunState(_ context.Context, ladderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, ladderID)
	return nil
}
