package pipeline

import (
	"testing"

	"github.com/google/uuid"
)

func TestInMemoryStore_GetSetSession(t *testing.T) {
	store := NewInMemoryStore()
	id := uuid.New()

	if _, ok := store.GetSession(id); ok {
		t.Error("expected not found for empty store")
	}

	st := &SessionState{ID: id}
	store.SetSession(st)

	got, ok := store.GetSession(id)
	if !ok || got != st {
		t.Errorf("GetSession: ok=%v, got %p want %p", ok, got, st)
	}
}

func TestInMemoryStore_SetSession_replaces(t *testing.T) {
	store := NewInMemoryStore()
	id := uuid.New()
	st1 := &SessionState{ID: id}
	st2 := &SessionState{ID: id, Results: 3}
	store.SetSession(st1)
	store.SetSession(st2)

	got, ok := store.GetSession(id)
	if !ok || got != st2 {
		t.Errorf("SetSession should replace: got %p want %p", got, st2)
	}
	if n := len(store.ListSessionIDs()); n != 1 {
		t.Errorf("ListSessionIDs: expected 1 id, got %d", n)
	}
}

func TestInMemoryStore_DeleteSession(t *testing.T) {
	store := NewInMemoryStore()
	id := uuid.New()
	store.SetSession(&SessionState{ID: id})

	store.DeleteSession(id)
	store.DeleteSession(uuid.New()) // unknown ids are ignored

	if _, ok := store.GetSession(id); ok {
		t.Error("session should be gone after delete")
	}
	if n := len(store.ListSessionIDs()); n != 0 {
		t.Errorf("expected empty store, got %d ids", n)
	}
}
