package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestRepository_SessionLifecycle(t *testing.T) {
	repo := NewInMemoryRepository()
	id := uuid.New()

	require.NoError(t, repo.BeginSession(id, epoch))
	assert.ErrorIs(t, repo.BeginSession(id, epoch), ErrSessionExists)

	require.NoError(t, repo.RecordResult(id, TrackingResult{Seq: 1, Status: StatusNotInitialized}))
	require.NoError(t, repo.RecordResult(id, TrackingResult{Seq: 2, Status: StatusOK}))

	st, ok := repo.Snapshot(id)
	require.True(t, ok)
	assert.False(t, st.Ended)
	assert.Equal(t, uint64(2), st.Results)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, StatusOK, st.LastResult.Status)

	require.NoError(t, repo.EndSession(id, epoch.Add(time.Minute), nil))
	assert.ErrorIs(t, repo.RecordResult(id, TrackingResult{Seq: 3}), ErrSessionEnded)

	st, _ = repo.Snapshot(id)
	assert.True(t, st.Ended)
	assert.Equal(t, epoch.Add(time.Minute), st.EndedAt)
	assert.Equal(t, uint64(2), st.Results, "rejected result is not counted")
}

func TestRepository_EndSession_keepsFailureAndLastResult(t *testing.T) {
	repo := NewInMemoryRepository()
	id := uuid.New()
	require.NoError(t, repo.BeginSession(id, epoch))
	require.NoError(t, repo.RecordResult(id, TrackingResult{Seq: 9, Status: StatusRecentlyLost}))

	failure := errors.New("tracking engine failure: seq 10: boom")
	require.NoError(t, repo.EndSession(id, epoch, failure))
	// Second end is a no-op and keeps the first reason.
	require.NoError(t, repo.EndSession(id, epoch.Add(time.Hour), nil))

	st, ok := repo.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, failure.Error(), st.Failure)
	assert.Equal(t, epoch, st.EndedAt)
	assert.Equal(t, StatusRecentlyLost, st.LastResult.Status)
}

func TestRepository_unknownSession(t *testing.T) {
	repo := NewInMemoryRepository()
	id := uuid.New()

	assert.ErrorIs(t, repo.RecordResult(id, TrackingResult{}), ErrUnknownSession)
	assert.ErrorIs(t, repo.EndSession(id, epoch, nil), ErrUnknownSession)
	_, ok := repo.Snapshot(id)
	assert.False(t, ok)
}

func TestRepository_Snapshot_isDetached(t *testing.T) {
	repo := NewInMemoryRepository()
	id := uuid.New()
	require.NoError(t, repo.BeginSession(id, epoch))
	require.NoError(t, repo.RecordResult(id, TrackingResult{Seq: 1, Status: StatusOK}))

	st, _ := repo.Snapshot(id)
	st.LastResult.Status = StatusLost
	st.Results = 100

	again, _ := repo.Snapshot(id)
	assert.Equal(t, StatusOK, again.LastResult.Status)
	assert.Equal(t, uint64(1), again.Results)
}

func TestRepository_resultPointsAreNotShared(t *testing.T) {
	repo := NewInMemoryRepository()
	id := uuid.New()
	require.NoError(t, repo.BeginSession(id, epoch))

	res := TrackingResult{
		Status:     StatusOK,
		Trajectory: []Point3{{1, 2, 3}},
		MapPoints:  []Point3{{4, 5, 6}},
	}
	require.NoError(t, repo.RecordResult(id, res))
	res.Trajectory[0] = Point3{9, 9, 9}
	res.MapPoints[0] = Point3{9, 9, 9}

	st, _ := repo.Snapshot(id)
	assert.Equal(t, []Point3{{1, 2, 3}}, st.LastResult.Trajectory)
	assert.Equal(t, []Point3{{4, 5, 6}}, st.LastResult.MapPoints)

	st.LastResult.Trajectory[0] = Point3{7, 7, 7}
	again, _ := repo.Snapshot(id)
	assert.Equal(t, []Point3{{1, 2, 3}}, again.LastResult.Trajectory)
}

func TestRepository_Sessions_orderedAndPruned(t *testing.T) {
	repo := NewInMemoryRepositoryWithStore(NewInMemoryStore(), 2)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		id := uuid.New()
		ids = append(ids, id)
		require.NoError(t, repo.BeginSession(id, epoch.Add(time.Duration(i)*time.Second)))
	}
	live := uuid.New()
	require.NoError(t, repo.BeginSession(live, epoch.Add(-time.Hour)))

	for _, id := range ids {
		require.NoError(t, repo.EndSession(id, epoch.Add(time.Hour), nil))
	}

	got := repo.Sessions()
	require.Len(t, got, 3, "two newest ended sessions plus the running one")
	assert.Equal(t, live, got[0].ID, "running sessions are never pruned")
	assert.Equal(t, ids[2], got[1].ID)
	assert.Equal(t, ids[3], got[2].ID)
}

func TestRepository_concurrentRecord(t *testing.T) {
	repo := NewInMemoryRepository()
	id := uuid.New()
	require.NoError(t, repo.BeginSession(id, epoch))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = repo.RecordResult(id, TrackingResult{Seq: uint64(g*100 + i)})
				_, _ = repo.Snapshot(id)
			}
		}(g)
	}
	wg.Wait()

	st, _ := repo.Snapshot(id)
	assert.Equal(t, uint64(800), st.Results)
}
