package pipeline

import "time"

// Recorder receives pipeline counters. *metrics.Metrics satisfies it; a nil
// Recorder passed to a constructor disables recording.
type Recorder interface {
	IncTicks()
	IncAdmitted()
	IncRejected()
	IncFramesSkipped()
	IncPublished()
	IncSuperseded()
	AddInertialSamples(n int)
	AddInertialDropped(n int)
	IncEngineFailures()
	ObserveTrackDuration(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) IncTicks()                          {}
func (nopRecorder) IncAdmitted()                       {}
func (nopRecorder) IncRejected()                       {}
func (nopRecorder) IncFramesSkipped()                  {}
func (nopRecorder) IncPublished()                      {}
func (nopRecorder) IncSuperseded()                     {}
func (nopRecorder) AddInertialSamples(int)             {}
func (nopRecorder) AddInertialDropped(int)             {}
func (nopRecorder) IncEngineFailures()                 {}
func (nopRecorder) ObserveTrackDuration(time.Duration) {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
