package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFrameAvailable is returned by a FrameAcquirer that has no frame ready.
	ErrNoFrameAvailable = errors.New("no frame available")

	// ErrStaleFrame means the acquired frame is not newer than the previous one.
	ErrStaleFrame = errors.New("stale frame")
)

// AcquisitionError reports a failed FrameSource.Acquire. Callers skip the
// tick's admission; it is never fatal.
type AcquisitionError struct {
	Timestamp int64 // timestamp of the rejected frame, 0 if none was returned
	Err       error
}

func (e *AcquisitionError) Error() string {
	if e.Timestamp != 0 {
		return fmt.Sprintf("acquire frame at %d: %v", e.Timestamp, e.Err)
	}
	return fmt.Sprintf("acquire frame: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// FrameAcquirer is the camera collaborator. It converts the most recent
// captured image to the pipeline's pixel format. The returned pixel slice
// may be reused by the acquirer on a later call.
type FrameAcquirer interface {
	AcquireLatest() (Frame, error)
}

// FrameSource produces one owned, timestamped Frame per call.
type FrameSource struct {
	acq    FrameAcquirer
	lastTS int64
	seen   bool
}

// NewFrameSource returns a FrameSource reading from acq.
func NewFrameSource(acq FrameAcquirer) *FrameSource {
	return &FrameSource{acq: acq}
}

// Acquire returns the latest frame with its own copy of the pixel data.
// Failures are returned as *AcquisitionError.
func (s *FrameSource) Acquire() (Frame, error) {
	f, err := s.acq.AcquireLatest()
	if err != nil {
		return Frame{}, &AcquisitionError{Err: err}
	}
	if s.seen && f.Timestamp <= s.lastTS {
		return Frame{}, &AcquisitionError{Timestamp: f.Timestamp, Err: ErrStaleFrame}
	}
	s.lastTS, s.seen = f.Timestamp, true

	f.Pixels = append([]byte(nil), f.Pixels...)
	return f, nil
}

// LastTimestamp returns the timestamp of the last frame returned by Acquire.
func (s *FrameSource) LastTimestamp() (int64, bool) {
	return s.lastTS, s.seen
}
