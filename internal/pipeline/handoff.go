package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handoff carries work packets from the coordinator goroutine to the tracking
// worker and tracking results back. At most one packet and one result are in
// flight at any time: a packet offered while the worker is busy is refused,
// and an unread result is overwritten by the next one.
//
// The packet slot and the result slot are guarded by separate mutexes and no
// method holds both, so producer cadence is never coupled to worker cadence.
type Handoff struct {
	packetMu   sync.Mutex
	pending    WorkPacket
	hasPending bool
	busy       bool

	resultMu  sync.Mutex
	result    TrackingResult
	hasResult bool

	// ready holds one token after a successful submit so the worker can
	// wait without polling.
	ready chan struct{}

	rec        Recorder
	submitted  atomic.Uint64
	rejected   atomic.Uint64
	published  atomic.Uint64
	superseded atomic.Uint64
}

// HandoffStats is a snapshot of handoff counters.
type HandoffStats struct {
	Submitted  uint64 `json:"submitted"`
	Rejected   uint64 `json:"rejected"`
	Published  uint64 `json:"published"`
	Superseded uint64 `json:"superseded"`
}

// NewHandoff returns an empty Handoff. rec may be nil.
func NewHandoff(rec Recorder) *Handoff {
	return &Handoff{
		ready: make(chan struct{}, 1),
		rec:   orNop(rec),
	}
}

// TrySubmit stores p for the worker and marks the worker busy. If the worker
// has not finished the previous packet it returns false immediately and p is
// dropped, not queued. On success the caller must not touch p's slices again.
func (h *Handoff) TrySubmit(p WorkPacket) bool {
	h.packetMu.Lock()
	if h.busy {
		h.packetMu.Unlock()
		h.rejected.Add(1)
		h.rec.IncRejected()
		return false
	}
	h.pending = p
	h.hasPending = true
	h.busy = true
	h.packetMu.Unlock()

	h.submitted.Add(1)
	h.rec.IncAdmitted()

	select {
	case h.ready <- struct{}{}:
	default:
	}
	return true
}

// TakeSubmitted removes and returns the pending packet, if any. The worker
// stays busy until PublishResult.
func (h *Handoff) TakeSubmitted() (WorkPacket, bool) {
	h.packetMu.Lock()
	defer h.packetMu.Unlock()

	if !h.hasPending {
		return WorkPacket{}, false
	}
	p := h.pending
	h.pending = WorkPacket{}
	h.hasPending = false
	return p, true
}

// WaitSubmitted blocks until a packet may be available, ctx is done, or
// timeout elapses, whichever comes first. A true return is a hint only; the
// caller must still call TakeSubmitted.
func (h *Handoff) WaitSubmitted(ctx context.Context, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-h.ready:
		return true
	case <-ctx.Done():
		return false
	case <-t.C:
		return false
	}
}

// PublishResult replaces whatever result is waiting with r, then clears the
// busy flag so the next packet can be admitted.
func (h *Handoff) PublishResult(r TrackingResult) {
	h.resultMu.Lock()
	if h.hasResult {
		h.superseded.Add(1)
		h.rec.IncSuperseded()
	}
	h.result = r
	h.hasResult = true
	h.resultMu.Unlock()

	h.published.Add(1)
	h.rec.IncPublished()

	h.packetMu.Lock()
	h.busy = false
	h.packetMu.Unlock()
}

// TakeLatestResult returns and clears the newest unread result.
func (h *Handoff) TakeLatestResult() (TrackingResult, bool) {
	h.resultMu.Lock()
	defer h.resultMu.Unlock()

	if !h.hasResult {
		return TrackingResult{}, false
	}
	r := h.result
	h.result = TrackingResult{}
	h.hasResult = false
	return r, true
}

// Busy reports whether a packet is in flight.
func (h *Handoff) Busy() bool {
	h.packetMu.Lock()
	defer h.packetMu.Unlock()
	return h.busy
}

// Stats returns a snapshot of the handoff counters.
func (h *Handoff) Stats() HandoffStats {
	return HandoffStats{
		Submitted:  h.submitted.Load(),
		Rejected:   h.rejected.Load(),
		Published:  h.published.Load(),
		Superseded: h.superseded.Load(),
	}
}
