package pipeline

import (
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionHistory is the number of ended sessions kept for display.
const DefaultSessionHistory = 8

// SessionRepository defines the concurrency-safe contract for recording
// pipeline runs and their latest tracking result.
type SessionRepository interface {
	// BeginSession records a new running session.
	BeginSession(id uuid.UUID, startedAt time.Time) error

	// RecordResult replaces the session's last result with r.
	// Results for an ended session are rejected.
	RecordResult(id uuid.UUID, r TrackingResult) error

	// EndSession marks the session ended. failure, if non-nil, is kept as the
	// reason. Ending an already ended session is a no-op.
	EndSession(id uuid.UUID, endedAt time.Time, failure error) error

	// Snapshot returns a copy of the session record.
	Snapshot(id uuid.UUID) (SessionState, bool)

	// Sessions returns copies of all retained sessions, oldest first.
	Sessions() []SessionState
}

var (
	// ErrUnknownSession is returned for operations on a session that was never begun.
	ErrUnknownSession = errors.New("unknown session")

	// ErrSessionExists is returned when beginning a session twice.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionEnded is returned when recording a result on an ended session.
	ErrSessionEnded = errors.New("session has ended")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of
// SessionRepository. Only the newest history ended sessions are retained.
type InMemoryRepository struct {
	mu      sync.RWMutex
	store   Store
	history int
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore(), DefaultSessionHistory)
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given
// Store. If history <= 0, DefaultSessionHistory is used.
func NewInMemoryRepositoryWithStore(store Store, history int) *InMemoryRepository {
	if history <= 0 {
		history = DefaultSessionHistory
	}
	return &InMemoryRepository{store: store, history: history}
}

// BeginSession implements SessionRepository.BeginSession.
func (r *InMemoryRepository) BeginSession(id uuid.UUID, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.GetSession(id); exists {
		return ErrSessionExists
	}
	r.store.SetSession(&SessionState{ID: id, StartedAt: startedAt.UTC()})
	return nil
}

// RecordResult implements SessionRepository.RecordResult.
func (r *InMemoryRepository) RecordResult(id uuid.UUID, res TrackingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, exists := r.store.GetSession(id)
	if !exists {
		return ErrUnknownSession
	}
	if st.Ended {
		return ErrSessionEnded
	}

	st.Results++
	st.LastResult = cloneResult(res)
	return nil
}

// EndSession implements SessionRepository.EndSession.
func (r *InMemoryRepository) EndSession(id uuid.UUID, endedAt time.Time, failure error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, exists := r.store.GetSession(id)
	if !exists {
		return ErrUnknownSession
	}
	if st.Ended {
		return nil
	}

	st.Ended = true
	st.EndedAt = endedAt.UTC()
	if failure != nil {
		st.Failure = failure.Error()
	}
	r.pruneLocked()
	return nil
}

// Snapshot implements SessionRepository.Snapshot.
func (r *InMemoryRepository) Snapshot(id uuid.UUID) (SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, exists := r.store.GetSession(id)
	if !exists {
		return SessionState{}, false
	}
	return copySession(st), true
}

// Sessions implements SessionRepository.Sessions.
func (r *InMemoryRepository) Sessions() []SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedLocked()
}

// sortedLocked returns copies of all sessions ordered by start time.
// Caller must hold r.mu.
func (r *InMemoryRepository) sortedLocked() []SessionState {
	ids := r.store.ListSessionIDs()
	out := make([]SessionState, 0, len(ids))
	for _, id := range ids {
		if st, ok := r.store.GetSession(id); ok {
			out = append(out, copySession(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// pruneLocked drops the oldest ended sessions beyond the history limit.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) pruneLocked() {
	var ended []SessionState
	for _, st := range r.sortedLocked() {
		if st.Ended {
			ended = append(ended, st)
		}
	}
	for i := 0; i < len(ended)-r.history; i++ {
		r.store.DeleteSession(ended[i].ID)
	}
}

// copySession detaches the returned record from repository state.
func copySession(st *SessionState) SessionState {
	out := *st
	if st.LastResult != nil {
		out.LastResult = cloneResult(*st.LastResult)
	}
	return out
}

// cloneResult copies res including its point slices.
func cloneResult(res TrackingResult) *TrackingResult {
	res.Trajectory = slices.Clone(res.Trajectory)
	res.MapPoints = slices.Clone(res.MapPoints)
	return &res
}
