package pipeline

import "github.com/google/uuid"

// Store is the persistence abstraction for session records.
// The SessionRepository uses Store for all reads and writes and serializes
// access to it; implementations need not be safe for concurrent use.
type Store interface {
	GetSession(id uuid.UUID) (*SessionState, bool)
	SetSession(s *SessionState)
	DeleteSession(id uuid.UUID)
	ListSessionIDs() []uuid.UUID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	sessions map[uuid.UUID]*SessionState
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[uuid.UUID]*SessionState),
	}
}

// GetSession implements Store.GetSession.
func (s *InMemoryStore) GetSession(id uuid.UUID) (*SessionState, bool) {
	st, ok := s.sessions[id]
	return st, ok
}

// SetSession implements Store.SetSession.
func (s *InMemoryStore) SetSession(st *SessionState) {
	s.sessions[st.ID] = st
}

// DeleteSession implements Store.DeleteSession.
func (s *InMemoryStore) DeleteSession(id uuid.UUID) {
	delete(s.sessions, id)
}

// ListSessionIDs implements Store.ListSessionIDs.
func (s *InMemoryStore) ListSessionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
