package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"slam-pipeline/internal/platform/clock"
	"slam-pipeline/internal/platform/logger"
)

// DefaultPollInterval bounds how long an idle worker waits before re-checking
// for shutdown.
const DefaultPollInterval = 20 * time.Millisecond

// ErrEngineFailure wraps any error or panic raised by the tracking engine.
// The engine state is not trusted afterwards, so the call is never retried.
var ErrEngineFailure = errors.New("tracking engine failure")

// Engine is the external tracking engine. The worker is its only caller and
// calls it from a single goroutine.
type Engine interface {
	// Track processes one frame and the inertial samples gathered since the
	// previous call.
	Track(frame Frame, inertial []InertialSample) (TrackingResult, error)

	// Reset discards the engine's map and trajectory.
	Reset() error

	// Close releases engine resources. It is called once, after the last Track.
	Close() error
}

// WorkerState is the lifecycle state of a Worker.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerProcessing
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerProcessing:
		return "processing"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

// MarshalText renders the state by name in JSON diagnostics.
func (s WorkerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Worker runs the consume-track-publish loop on its own goroutine.
type Worker struct {
	handoff      *Handoff
	engine       Engine
	clock        clock.Clock
	pollInterval time.Duration
	log          *slog.Logger
	rec          Recorder

	state          atomic.Int32
	resetRequested atomic.Bool
	processed      atomic.Uint64
}

// WorkerOptions configures a Worker. Zero values select defaults.
type WorkerOptions struct {
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
	Recorder     Recorder
}

// NewWorker returns a Worker that takes packets from h and feeds them to engine.
func NewWorker(h *Handoff, engine Engine, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Worker{
		handoff:      h,
		engine:       engine,
		clock:        opts.Clock,
		pollInterval: opts.PollInterval,
		log:          logger.OrDiscard(opts.Logger),
		rec:          orNop(opts.Recorder),
	}
}

// Run loops until ctx is cancelled or the engine fails, then closes the
// engine. A Track call already in progress when ctx is cancelled runs to
// completion and its result is still published. Run returns nil on
// cancellation and an error wrapping ErrEngineFailure otherwise.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		w.state.Store(int32(WorkerStopped))
		if cerr := w.engine.Close(); cerr != nil {
			w.log.Warn("engine close failed", slog.String("error", cerr.Error()))
			err = errors.Join(err, cerr)
		}
	}()

	for ctx.Err() == nil {
		if w.resetRequested.CompareAndSwap(true, false) {
			if rerr := w.reset(); rerr != nil {
				return rerr
			}
		}

		p, ok := w.handoff.TakeSubmitted()
		if !ok {
			w.handoff.WaitSubmitted(ctx, w.pollInterval)
			continue
		}

		res, terr := w.track(p)
		if terr != nil {
			w.rec.IncEngineFailures()
			w.log.Error("tracking failed, stopping worker",
				slog.Uint64("seq", p.Seq),
				slog.String("error", terr.Error()))
			return terr
		}
		w.processed.Add(1)
		w.handoff.PublishResult(res)
	}
	return nil
}

// RequestReset asks the worker to reset the engine before its next packet.
func (w *Worker) RequestReset() {
	w.resetRequested.Store(true)
}

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Processed returns the number of packets tracked successfully.
func (w *Worker) Processed() uint64 {
	return w.processed.Load()
}

func (w *Worker) track(p WorkPacket) (res TrackingResult, err error) {
	w.state.Store(int32(WorkerProcessing))
	defer w.state.Store(int32(WorkerIdle))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: seq %d: panic: %v", ErrEngineFailure, p.Seq, r)
		}
	}()

	start := w.clock.Now()
	res, err = w.engine.Track(p.Frame, p.Inertial)
	elapsed := w.clock.Since(start)
	if err != nil {
		return TrackingResult{}, fmt.Errorf("%w: seq %d: %w", ErrEngineFailure, p.Seq, err)
	}

	res.Seq = p.Seq
	res.FrameTimestamp = p.Frame.Timestamp
	res.ProcessingTime = elapsed
	w.rec.ObserveTrackDuration(elapsed)

	w.log.Debug("packet tracked",
		slog.Uint64("seq", p.Seq),
		slog.Int("inertial_samples", len(p.Inertial)),
		slog.String("status", res.Status.String()),
		slog.Duration("elapsed", elapsed))
	return res, nil
}

func (w *Worker) reset() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: reset: panic: %v", ErrEngineFailure, r)
		}
	}()
	if err := w.engine.Reset(); err != nil {
		return fmt.Errorf("%w: reset: %w", ErrEngineFailure, err)
	}
	w.log.Info("engine reset")
	return nil
}
