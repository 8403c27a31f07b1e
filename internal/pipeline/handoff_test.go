package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packet(seq uint64) WorkPacket {
	return WorkPacket{
		Seq:      seq,
		Frame:    Frame{Pixels: []byte{byte(seq)}, Width: 1, Height: 1, Timestamp: int64(seq) * 1000},
		Inertial: []InertialSample{{Timestamp: int64(seq)*1000 - 1}},
	}
}

func TestHandoff_TrySubmit_burstKeepsOnlyFirst(t *testing.T) {
	h := NewHandoff(nil)

	assert.True(t, h.TrySubmit(packet(1)))
	for i := uint64(2); i <= 10; i++ {
		assert.False(t, h.TrySubmit(packet(i)), "packet %d should be refused while busy", i)
	}

	got, ok := h.TakeSubmitted()
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Seq)

	_, ok = h.TakeSubmitted()
	assert.False(t, ok, "refused packets are never retained")

	stats := h.Stats()
	assert.Equal(t, uint64(1), stats.Submitted)
	assert.Equal(t, uint64(9), stats.Rejected)
}

func TestHandoff_TakeSubmitted_keepsWorkerBusy(t *testing.T) {
	h := NewHandoff(nil)
	require.True(t, h.TrySubmit(packet(1)))

	_, ok := h.TakeSubmitted()
	require.True(t, ok)

	assert.True(t, h.Busy())
	assert.False(t, h.TrySubmit(packet(2)), "busy until the result is published")

	h.PublishResult(TrackingResult{Seq: 1})
	assert.False(t, h.Busy())
	assert.True(t, h.TrySubmit(packet(3)))
}

func TestHandoff_TakeLatestResult_lastWriterWins(t *testing.T) {
	h := NewHandoff(nil)

	_, ok := h.TakeLatestResult()
	assert.False(t, ok)

	h.PublishResult(TrackingResult{Seq: 1, Status: StatusNotInitialized})
	h.PublishResult(TrackingResult{Seq: 2, Status: StatusOK})

	got, ok := h.TakeLatestResult()
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, StatusOK, got.Status)

	_, ok = h.TakeLatestResult()
	assert.False(t, ok, "the superseded result is never observed")

	assert.Equal(t, uint64(1), h.Stats().Superseded)
}

func TestHandoff_WaitSubmitted_boundedWait(t *testing.T) {
	h := NewHandoff(nil)

	start := time.Now()
	assert.False(t, h.WaitSubmitted(context.Background(), 20*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, h.WaitSubmitted(ctx, time.Hour), "cancelled context returns immediately")
}

func TestHandoff_WaitSubmitted_wakesOnSubmit(t *testing.T) {
	h := NewHandoff(nil)

	done := make(chan bool, 1)
	go func() {
		done <- h.WaitSubmitted(context.Background(), 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, h.TrySubmit(packet(1)))

	select {
	case woke := <-done:
		assert.True(t, woke)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitSubmitted did not wake on submit")
	}
}

func TestHandoff_ConcurrentProducerAndWorker(t *testing.T) {
	h := NewHandoff(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var processed []uint64

	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			p, ok := h.TakeSubmitted()
			if !ok {
				h.WaitSubmitted(ctx, time.Millisecond)
				continue
			}
			processed = append(processed, p.Seq)
			h.PublishResult(TrackingResult{Seq: p.Seq})
		}
	}()

	var lastSeen uint64
	for seq := uint64(1); seq <= 5000; seq++ {
		h.TrySubmit(packet(seq))
		if r, ok := h.TakeLatestResult(); ok {
			require.Greater(t, r.Seq, lastSeen, "results must never go backwards")
			lastSeen = r.Seq
		}
		stats := h.Stats()
		require.LessOrEqual(t, stats.Submitted-stats.Published, uint64(1), "at most one packet in flight")
	}

	cancel()
	wg.Wait()

	stats := h.Stats()
	assert.Equal(t, uint64(5000), stats.Submitted+stats.Rejected)
	for i := 1; i < len(processed); i++ {
		assert.Greater(t, processed[i], processed[i-1])
	}
}
