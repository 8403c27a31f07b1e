package pipeline

// DefaultMaxQueuedEvents bounds each raw inertial queue (20s of data at 200 Hz).
const DefaultMaxQueuedEvents = 4000

// axisEvent is the stream-agnostic form of AccelEvent and GyroEvent.
type axisEvent struct {
	x, y, z float32
	ts      int64
}

// fusedPair is one emitted fusion: the reference stream interpolated at the
// native event's timestamp.
type fusedPair struct {
	interp axisEvent
	native axisEvent
}

// Synchronizer merges independently clocked accelerometer and gyroscope
// streams into timestamp-aligned InertialSamples.
//
// On each Drain the stream whose queue head is earlier becomes the reference
// stream: its axes are linearly interpolated at every timestamp of the other
// stream that it brackets. The reference choice is re-made on every call, so
// consecutive batches may alternate between accel-interpolated and
// gyro-interpolated samples.
//
// A Synchronizer is owned by a single goroutine and is not safe for
// concurrent use.
type Synchronizer struct {
	accel []axisEvent
	gyro  []axisEvent

	lastAccelTS int64
	lastGyroTS  int64
	seenAccel   bool
	seenGyro    bool

	maxQueued int
	dropped   uint64
}

// NewSynchronizer returns a Synchronizer whose queues hold at most maxQueued
// events each. If maxQueued <= 0, DefaultMaxQueuedEvents is used.
func NewSynchronizer(maxQueued int) *Synchronizer {
	if maxQueued <= 0 {
		maxQueued = DefaultMaxQueuedEvents
	}
	return &Synchronizer{maxQueued: maxQueued}
}

// Ingest appends newly delivered events to the two queues in arrival order.
// Events whose timestamp does not advance their stream are discarded, and
// when a queue exceeds its bound the oldest events are discarded. It returns
// the number of events discarded by this call.
func (s *Synchronizer) Ingest(accel []AccelEvent, gyro []GyroEvent) int {
	dropped := 0
	for _, e := range accel {
		if s.seenAccel && e.Timestamp <= s.lastAccelTS {
			dropped++
			continue
		}
		s.lastAccelTS, s.seenAccel = e.Timestamp, true
		s.accel = append(s.accel, axisEvent{e.X, e.Y, e.Z, e.Timestamp})
	}
	for _, e := range gyro {
		if s.seenGyro && e.Timestamp <= s.lastGyroTS {
			dropped++
			continue
		}
		s.lastGyroTS, s.seenGyro = e.Timestamp, true
		s.gyro = append(s.gyro, axisEvent{e.X, e.Y, e.Z, e.Timestamp})
	}

	var n int
	s.accel, n = trimOldest(s.accel, s.maxQueued)
	dropped += n
	s.gyro, n = trimOldest(s.gyro, s.maxQueued)
	dropped += n

	s.dropped += uint64(dropped)
	return dropped
}

// Drain consumes every fused sample the queued events fully determine and
// returns them in ascending timestamp order. Events newer than the last fused
// timestamp stay queued for the next call. If either queue holds fewer than
// two events nothing can be interpolated: Drain returns nil and leaves both
// queues untouched.
func (s *Synchronizer) Drain() []InertialSample {
	if len(s.accel) < 2 || len(s.gyro) < 2 {
		return nil
	}

	if s.accel[0].ts < s.gyro[0].ts {
		pairs, refRest, otherRest := fuse(s.accel, s.gyro)
		s.accel = compact(s.accel, refRest)
		s.gyro = compact(s.gyro, otherRest)
		out := make([]InertialSample, 0, len(pairs))
		for _, p := range pairs {
			out = append(out, InertialSample{
				Ax: p.interp.x, Ay: p.interp.y, Az: p.interp.z,
				Wx: p.native.x, Wy: p.native.y, Wz: p.native.z,
				Timestamp: p.native.ts,
			})
		}
		return out
	}

	pairs, refRest, otherRest := fuse(s.gyro, s.accel)
	s.gyro = compact(s.gyro, refRest)
	s.accel = compact(s.accel, otherRest)
	out := make([]InertialSample, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, InertialSample{
			Ax: p.native.x, Ay: p.native.y, Az: p.native.z,
			Wx: p.interp.x, Wy: p.interp.y, Wz: p.interp.z,
			Timestamp: p.native.ts,
		})
	}
	return out
}

// Queued returns the number of raw events waiting in each queue.
func (s *Synchronizer) Queued() (accel, gyro int) {
	return len(s.accel), len(s.gyro)
}

// Dropped returns the lifetime count of discarded raw events.
func (s *Synchronizer) Dropped() uint64 {
	return s.dropped
}

// fuse walks ref, whose head is not later than other's head, and interpolates
// it at each timestamp of other that it brackets. It returns the fused pairs
// and the unconsumed remainders of both queues (slices of the inputs).
//
// ref keeps every event at or after the last fused timestamp; if nothing was
// fused only its newest event is kept, since all earlier ones precede
// other's head and can never serve as an anchor again.
func fuse(ref, other []axisEvent) (pairs []fusedPair, refRest, otherRest []axisEvent) {
	anchor := 0
	n := 0
	var lastT int64
	for n < len(other) {
		t := other[n].ts
		for anchor+1 < len(ref) && ref[anchor+1].ts < t {
			anchor++
		}
		if anchor+1 >= len(ref) {
			break
		}
		lo, hi := ref[anchor], ref[anchor+1]
		r := interpRatio(t, lo.ts, hi.ts)
		pairs = append(pairs, fusedPair{
			interp: axisEvent{
				x:  lerp(lo.x, hi.x, r),
				y:  lerp(lo.y, hi.y, r),
				z:  lerp(lo.z, hi.z, r),
				ts: t,
			},
			native: other[n],
		})
		lastT = t
		n++
	}

	if n == 0 {
		return nil, ref[len(ref)-1:], other
	}
	j := 0
	for j < len(ref) && ref[j].ts < lastT {
		j++
	}
	return pairs, ref[j:], other[n:]
}

// interpRatio returns (t-t0)/(t1-t0) in single precision, clamped to [0, 1].
func interpRatio(t, t0, t1 int64) float32 {
	if t1 <= t0 {
		return 0
	}
	r := float32(t-t0) / float32(t1-t0)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

func lerp(a, b, r float32) float32 {
	return a*(1-r) + b*r
}

// compact moves rest (a suffix of q) to the front of q's backing array.
func compact(q, rest []axisEvent) []axisEvent {
	n := copy(q, rest)
	return q[:n]
}

// trimOldest drops events from the front of q until it holds at most limit.
func trimOldest(q []axisEvent, limit int) ([]axisEvent, int) {
	over := len(q) - limit
	if over <= 0 {
		return q, 0
	}
	return compact(q, q[over:]), over
}
