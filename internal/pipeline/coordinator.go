package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"slam-pipeline/internal/platform/clock"
	"slam-pipeline/internal/platform/logger"

	"github.com/google/uuid"
)

var (
	// ErrNotRunning is returned by operations that need a started pipeline.
	ErrNotRunning = errors.New("pipeline not running")

	// ErrAlreadyRunning is returned by Start on a running pipeline.
	ErrAlreadyRunning = errors.New("pipeline already running")

	// ErrStopping is returned by Start while a previous session is still
	// waiting for its worker to exit.
	ErrStopping = errors.New("pipeline stopping")
)

// Config carries the coordinator's tunables.
type Config struct {
	// PollInterval bounds the worker's idle wait.
	PollInterval time.Duration
	// MaxQueuedEvents caps each raw inertial queue and the inertial batch
	// carried across refused submissions.
	MaxQueuedEvents int
	// StartPaused starts each session with admission paused.
	StartPaused bool
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		MaxQueuedEvents: DefaultMaxQueuedEvents,
	}
}

// AccelSource delivers accelerometer events received since the last call,
// in timestamp order.
type AccelSource interface {
	DrainEvents() []AccelEvent
}

// GyroSource delivers gyroscope events received since the last call,
// in timestamp order.
type GyroSource interface {
	DrainEvents() []GyroEvent
}

// Sensors groups the external collaborators the coordinator reads from.
type Sensors struct {
	Frames FrameAcquirer
	Accel  AccelSource
	Gyro   GyroSource
}

// EngineFactory opens a tracking engine for a new session. The engine is
// closed by the worker when the session ends.
type EngineFactory func() (Engine, error)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(c *Coordinator) { c.rec = rec }
}

// WithClock sets the clock used for session times and processing durations.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// WithRepository sets where session records are kept.
func WithRepository(repo SessionRepository) Option {
	return func(c *Coordinator) { c.repo = repo }
}

// Output is a tracking result forwarded by Tick, with tick-level diagnostics.
// The caller owns it; the session record keeps its own copy.
type Output struct {
	TrackingResult
	SessionID uuid.UUID
	// FramesDropped counts frames refused by the busy worker since the
	// previous Output of this session.
	FramesDropped uint64
}

// Status is a point-in-time snapshot of the pipeline for display.
type Status struct {
	SessionID          uuid.UUID      `json:"session_id"`
	Running            bool           `json:"running"`
	Stopping           bool           `json:"stopping,omitempty"`
	Paused             bool           `json:"paused"`
	WorkerBusy         bool           `json:"worker_busy"`
	WorkerState        WorkerState    `json:"worker_state"`
	LastStatus         TrackingStatus `json:"last_status"`
	LastProcessingTime time.Duration  `json:"last_processing_ns"`
	Ticks              uint64         `json:"ticks"`
	Handoff            HandoffStats   `json:"handoff"`
	QueuedAccel        int            `json:"queued_accel"`
	QueuedGyro         int            `json:"queued_gyro"`
	CarriedSamples     int            `json:"carried_samples"`
	InertialDropped    uint64         `json:"inertial_dropped"`
	LastError          string         `json:"last_error,omitempty"`
}

// session is the state of one Start..Stop run.
type session struct {
	id      uuid.UUID
	frames  *FrameSource
	sync    *Synchronizer
	handoff *Handoff
	worker  *Worker
	log     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	err    error // worker exit error, valid once done is closed

	carry         []InertialSample
	seq           uint64
	lastFrameTS   int64 // frame timestamp of the last admitted packet
	admitted      bool
	carryDropped  uint64
	droppedFrames uint64
}

// Coordinator drives the pipeline from the caller's goroutine: once per Tick
// it gathers sensor data, offers one work packet to the tracking worker and
// forwards the newest result. The tracking engine is only ever called from
// the worker goroutine.
type Coordinator struct {
	cfg       Config
	sensors   Sensors
	newEngine EngineFactory
	log       *slog.Logger
	rec       Recorder
	clock     clock.Clock
	repo      SessionRepository

	paused atomic.Bool

	mu             sync.Mutex
	cur            *session // nil unless running
	stopping       *session // detached, worker not yet joined
	prev           *session // last ended session, for Status
	ticks          uint64
	lastStatus     TrackingStatus
	lastProcessing time.Duration
	lastErr        error
}

// NewCoordinator returns a stopped Coordinator. Zero fields of cfg fall back
// to DefaultConfig.
func NewCoordinator(cfg Config, sensors Sensors, newEngine EngineFactory, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxQueuedEvents <= 0 {
		cfg.MaxQueuedEvents = def.MaxQueuedEvents
	}

	c := &Coordinator{
		cfg:        cfg,
		sensors:    sensors,
		newEngine:  newEngine,
		lastStatus: StatusNotReady,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.OrDiscard(c.log)
	c.rec = orNop(c.rec)
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.repo == nil {
		c.repo = NewInMemoryRepository()
	}
	return c
}

// Start opens an engine, begins a new session and spawns the worker. The
// worker also stops if ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != nil {
		return ErrAlreadyRunning
	}
	if c.stopping != nil {
		return ErrStopping
	}
	if c.sensors.Frames == nil || c.sensors.Accel == nil || c.sensors.Gyro == nil {
		return errors.New("start pipeline: frame, accelerometer and gyroscope sources are required")
	}

	eng, err := c.newEngine()
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}

	id := uuid.New()
	if err := c.repo.BeginSession(id, c.clock.Now()); err != nil {
		_ = eng.Close()
		return fmt.Errorf("begin session: %w", err)
	}

	log := c.log.With(slog.String("session", id.String()))
	h := NewHandoff(c.rec)
	s := &session{
		id:      id,
		frames:  NewFrameSource(c.sensors.Frames),
		sync:    NewSynchronizer(c.cfg.MaxQueuedEvents),
		handoff: h,
		worker: NewWorker(h, eng, WorkerOptions{
			PollInterval: c.cfg.PollInterval,
			Clock:        c.clock,
			Logger:       log,
			Recorder:     c.rec,
		}),
		log:  log,
		done: make(chan struct{}),
	}

	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go func() {
		s.err = s.worker.Run(wctx)
		close(s.done)
	}()

	c.cur = s
	c.lastStatus = StatusNotReady
	c.lastProcessing = 0
	c.lastErr = nil
	c.paused.Store(c.cfg.StartPaused)

	log.Info("pipeline started",
		slog.Bool("paused", c.cfg.StartPaused),
		slog.Duration("poll_interval", c.cfg.PollInterval),
		slog.Int("max_queued_events", c.cfg.MaxQueuedEvents))
	return nil
}

// Stop signals the worker, waits for it to finish any in-flight Track call
// and close the engine, then ends the session. Stopping a stopped pipeline
// is a no-op. The returned error is the worker's exit error, if any.
//
// The worker is joined without holding the coordinator lock, so Status keeps
// answering while an in-flight Track call finishes.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	s := c.detachLocked()
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	<-s.done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finishLocked(s)
}

// Tick runs one coordinator step. Unless paused it admits new sensor data
// and offers a work packet to the worker; in every case it forwards the
// newest unread result, or returns a nil Output when there is none.
//
// If the worker has died Tick tears the pipeline down and returns an error
// wrapping ErrEngineFailure; the last status stays available via Status.
func (c *Coordinator) Tick() (*Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.cur
	if s == nil {
		return nil, ErrNotRunning
	}
	c.ticks++
	c.rec.IncTicks()

	select {
	case <-s.done:
		c.detachLocked()
		if err := c.finishLocked(s); err != nil {
			return nil, fmt.Errorf("pipeline stopped: %w", err)
		}
		return nil, ErrNotRunning
	default:
	}

	if !c.paused.Load() {
		c.admitLocked(s)
	}

	res, ok := s.handoff.TakeLatestResult()
	if !ok {
		return nil, nil
	}
	return c.acceptLocked(s, res), nil
}

// SetPaused pauses or resumes data admission. Results already in flight are
// still forwarded while paused.
func (c *Coordinator) SetPaused(paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return ErrNotRunning
	}
	if c.paused.Swap(paused) != paused {
		c.cur.log.Info("pipeline pause changed", slog.Bool("paused", paused))
	}
	return nil
}

// Paused reports whether admission is paused.
func (c *Coordinator) Paused() bool {
	return c.paused.Load()
}

// RequestReset asks the worker to reset the engine's map and trajectory
// before its next packet.
func (c *Coordinator) RequestReset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur == nil {
		return ErrNotRunning
	}
	c.cur.worker.RequestReset()
	c.cur.log.Info("engine reset requested")
	return nil
}

// LastProcessingTime returns the engine time of the last forwarded result.
func (c *Coordinator) LastProcessingTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastProcessing
}

// Sessions returns the retained session records, oldest first.
func (c *Coordinator) Sessions() []SessionState {
	return c.repo.Sessions()
}

// Session returns the retained record of one session.
func (c *Coordinator) Session(id uuid.UUID) (SessionState, bool) {
	return c.repo.Snapshot(id)
}

// Status returns a snapshot of the running session, or of the last one if
// the pipeline is stopped.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Running:            c.cur != nil,
		Stopping:           c.stopping != nil,
		Paused:             c.paused.Load(),
		WorkerState:        WorkerStopped,
		LastStatus:         c.lastStatus,
		LastProcessingTime: c.lastProcessing,
		Ticks:              c.ticks,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}

	s := c.cur
	if s == nil {
		s = c.stopping
	}
	if s == nil {
		s = c.prev
	}
	if s == nil {
		return st
	}
	st.SessionID = s.id
	st.Handoff = s.handoff.Stats()
	st.QueuedAccel, st.QueuedGyro = s.sync.Queued()
	st.CarriedSamples = len(s.carry)
	st.InertialDropped = s.sync.Dropped() + s.carryDropped
	if c.cur != nil || c.stopping != nil {
		st.WorkerBusy = s.handoff.Busy()
		st.WorkerState = s.worker.State()
	}
	return st
}

// admitLocked gathers this tick's sensor data and offers one packet.
// A refused packet loses its frame only: the inertial batch is carried into
// the next packet. Samples older than the last admitted frame are dropped, so
// consecutive packets never overlap in time.
func (c *Coordinator) admitLocked(s *session) {
	dropped := s.sync.Ingest(c.sensors.Accel.DrainEvents(), c.sensors.Gyro.DrainEvents())
	samples := s.sync.Drain()
	c.rec.AddInertialSamples(len(samples))

	s.carry = append(s.carry, samples...)
	if s.admitted {
		late := sort.Search(len(s.carry), func(i int) bool {
			return s.carry[i].Timestamp >= s.lastFrameTS
		})
		if late > 0 {
			s.carry = append(s.carry[:0], s.carry[late:]...)
			s.carryDropped += uint64(late)
			dropped += late
		}
	}
	if over := len(s.carry) - c.cfg.MaxQueuedEvents; over > 0 {
		s.carry = append(s.carry[:0], s.carry[over:]...)
		s.carryDropped += uint64(over)
		dropped += over
	}
	if dropped > 0 {
		c.rec.AddInertialDropped(dropped)
	}

	frame, err := s.frames.Acquire()
	if err != nil {
		c.rec.IncFramesSkipped()
		s.log.Debug("frame skipped", slog.String("error", err.Error()))
		return
	}

	p := WorkPacket{Seq: s.seq + 1, Frame: frame, Inertial: s.carry}
	if !s.handoff.TrySubmit(p) {
		s.droppedFrames++
		s.log.Debug("worker busy, frame dropped",
			slog.Int64("frame_ts", frame.Timestamp),
			slog.Int("carried_samples", len(s.carry)))
		return
	}
	s.seq++
	s.carry = nil
	s.lastFrameTS, s.admitted = frame.Timestamp, true
}

// acceptLocked records res as the newest result of s.
func (c *Coordinator) acceptLocked(s *session, res TrackingResult) *Output {
	c.lastStatus = res.Status
	c.lastProcessing = res.ProcessingTime
	if err := c.repo.RecordResult(s.id, res); err != nil {
		s.log.Warn("record result failed", slog.String("error", err.Error()))
	}

	out := &Output{TrackingResult: res, SessionID: s.id, FramesDropped: s.droppedFrames}
	s.droppedFrames = 0
	return out
}

// detachLocked signals the worker of the current session and parks the
// session until finishLocked. It returns nil when nothing is running.
func (c *Coordinator) detachLocked() *session {
	s := c.cur
	if s == nil {
		return nil
	}
	s.cancel()
	c.cur = nil
	c.stopping = s
	return s
}

// finishLocked ends a detached session whose worker has exited.
func (c *Coordinator) finishLocked(s *session) error {
	// A result published while stopping still updates the retained status.
	if res, ok := s.handoff.TakeLatestResult(); ok {
		c.acceptLocked(s, res)
	}
	if err := c.repo.EndSession(s.id, c.clock.Now(), s.err); err != nil {
		s.log.Warn("end session failed", slog.String("error", err.Error()))
	}

	c.stopping = nil
	c.prev = s
	c.lastErr = s.err

	if s.err != nil {
		s.log.Error("pipeline stopped on failure",
			slog.String("last_status", c.lastStatus.String()),
			slog.String("error", s.err.Error()))
	} else {
		s.log.Info("pipeline stopped", slog.Uint64("packets", s.worker.Processed()))
	}
	return s.err
}
