package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStorage keeps states in process memory. It backs tests and
// single-instance development runs.
type MemoryStorage struct {
	mu     sync.Mutex
	states map[int64]*UserState
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{states: make(map[int64]*UserState)}
}

// GetState returns a copy of the stored state or ErrStateNotFound.
func (s *MemoryStorage) GetState(_ context.Context, userID int64) (*UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[userID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return cloneState(st), nil
}

// SetState stores a copy of state.
func (s *MemoryStorage) SetState(_ context.Context, userID int64, state *UserState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneState(state)
	stored.UpdatedAt = time.Now().UTC()
	s.states[userID] = stored
	return nil
}

// ClearState removes the state of userID.
func (s *MemoryStorage) ClearState(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, userID)
	return nil
}

// GetAllStates returns copies of all stored states.
func (s *MemoryStorage) GetAllStates(_ context.Context) ([]*UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*UserState, 0, len(s.states))
	for _, st := range s.states {
		result = append(result, cloneState(st))
	}
	return result, nil
}

func cloneState(state *UserState) *UserState {
	if state == nil {
		return nil
	}

	copyState := *state
	if state.Context != nil {
		ctxCopy := make(map[string]interface{}, len(state.Context))
		for k, v := range state.Context {
			ctxCopy[k] = v
		}
		copyState.Context = ctxCopy
	}
	return &copyState
}
