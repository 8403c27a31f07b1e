package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedAcquirer replays a fixed sequence of frames and errors, reusing a
// single pixel buffer the way a camera ring does.
type scriptedAcquirer struct {
	buf   []byte
	steps []acquireStep
	i     int
}

type acquireStep struct {
	ts   int64
	fill byte
	err  error
}

func (a *scriptedAcquirer) AcquireLatest() (Frame, error) {
	if a.i >= len(a.steps) {
		return Frame{}, ErrNoFrameAvailable
	}
	st := a.steps[a.i]
	a.i++
	if st.err != nil {
		return Frame{}, st.err
	}
	for j := range a.buf {
		a.buf[j] = st.fill
	}
	return Frame{Pixels: a.buf, Width: len(a.buf), Height: 1, Timestamp: st.ts}, nil
}

func TestFrameSource_Acquire_copiesPixels(t *testing.T) {
	acq := &scriptedAcquirer{
		buf:   make([]byte, 4),
		steps: []acquireStep{{ts: 100, fill: 1}, {ts: 200, fill: 2}},
	}
	src := NewFrameSource(acq)

	f1, err := src.Acquire()
	require.NoError(t, err)
	f2, err := src.Acquire()
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 1, 1, 1}, f1.Pixels, "first frame must survive buffer reuse")
	assert.Equal(t, []byte{2, 2, 2, 2}, f2.Pixels)
	assert.Equal(t, int64(200), f2.Timestamp)

	ts, ok := src.LastTimestamp()
	assert.True(t, ok)
	assert.Equal(t, int64(200), ts)
}

func TestFrameSource_Acquire_noFrame(t *testing.T) {
	src := NewFrameSource(&scriptedAcquirer{steps: []acquireStep{{err: ErrNoFrameAvailable}}})

	_, err := src.Acquire()
	require.Error(t, err)

	var acqErr *AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.ErrorIs(t, err, ErrNoFrameAvailable)
	assert.Equal(t, "acquire frame: no frame available", err.Error())

	_, ok := src.LastTimestamp()
	assert.False(t, ok)
}

func TestFrameSource_Acquire_rejectsStaleFrames(t *testing.T) {
	acq := &scriptedAcquirer{
		buf:   make([]byte, 1),
		steps: []acquireStep{{ts: 100}, {ts: 100}, {ts: 50}, {ts: 150}},
	}
	src := NewFrameSource(acq)

	_, err := src.Acquire()
	require.NoError(t, err)

	_, err = src.Acquire()
	assert.ErrorIs(t, err, ErrStaleFrame)
	_, err = src.Acquire()
	assert.ErrorIs(t, err, ErrStaleFrame)
	assert.Contains(t, err.Error(), "at 50")

	f, err := src.Acquire()
	require.NoError(t, err)
	assert.Equal(t, int64(150), f.Timestamp)
}
