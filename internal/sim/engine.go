package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"slam-pipeline/internal/pipeline"

	"gonum.org/v1/gonum/mat"
)

const (
	// initFrames is the number of frames the engine needs before it reports OK.
	initFrames = 3

	maxTrajectory = 2000
	maxMapPoints  = 5000

	// mapPointEvery adds one landmark per this many tracked frames.
	mapPointEvery = 5
)

// ErrEngineClosed is returned by calls on a closed Engine.
var ErrEngineClosed = errors.New("engine closed")

// EngineConfig configures the stand-in engine.
type EngineConfig struct {
	// Latency is how long each Track call takes.
	Latency time.Duration
	// FailAfter makes the Nth Track call fail. Zero never fails.
	FailAfter int
	// Sleep waits for Latency. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Engine is a stand-in tracking engine. It dead-reckons a pose from the fused
// inertial samples (gyro integrated into orientation, gravity-compensated
// accelerometer integrated twice into position) and drops a synthetic
// landmark ahead of the camera every few frames.
//
// Like a real SLAM kernel it is not safe for concurrent use.
type Engine struct {
	cfg EngineConfig

	pose     *mat.Dense // 4x4 body-to-world transform
	velocity *mat.VecDense
	lastTS   int64
	haveTS   bool

	frames     int
	calls      int
	trajectory []pipeline.Point3
	mapPoints  []pipeline.Point3
	closed     bool
}

// NewEngine returns an Engine at the identity pose.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	e := &Engine{cfg: cfg}
	e.resetState()
	return e
}

// NewEngineFactory returns a pipeline.EngineFactory opening a fresh Engine
// for every session.
func NewEngineFactory(cfg EngineConfig) pipeline.EngineFactory {
	return func() (pipeline.Engine, error) {
		return NewEngine(cfg), nil
	}
}

// Track implements pipeline.Engine.
func (e *Engine) Track(frame pipeline.Frame, inertial []pipeline.InertialSample) (pipeline.TrackingResult, error) {
	if e.closed {
		return pipeline.TrackingResult{}, ErrEngineClosed
	}
	e.calls++
	if e.cfg.Latency > 0 {
		e.cfg.Sleep(e.cfg.Latency)
	}
	if e.cfg.FailAfter > 0 && e.calls >= e.cfg.FailAfter {
		return pipeline.TrackingResult{}, fmt.Errorf("simulated failure on call %d", e.calls)
	}
	if len(frame.Pixels) != frame.Width*frame.Height {
		return pipeline.TrackingResult{}, fmt.Errorf("frame size %d does not match %dx%d", len(frame.Pixels), frame.Width, frame.Height)
	}

	for _, s := range inertial {
		e.integrate(s)
	}
	e.frames++

	status := pipeline.StatusOK
	switch {
	case e.frames < initFrames:
		status = pipeline.StatusNotInitialized
	case len(inertial) == 0:
		status = pipeline.StatusOKDegraded
	}

	pos := e.position()
	if status != pipeline.StatusNotInitialized {
		e.trajectory = appendBounded(e.trajectory, pos, maxTrajectory)
		if e.frames%mapPointEvery == 0 {
			e.mapPoints = appendBounded(e.mapPoints, e.landmarkAhead(), maxMapPoints)
		}
	}

	return pipeline.TrackingResult{
		Pose:       pipeline.PoseFromMatrix(e.pose),
		Trajectory: append([]pipeline.Point3(nil), e.trajectory...),
		MapPoints:  append([]pipeline.Point3(nil), e.mapPoints...),
		Status:     status,
	}, nil
}

// Reset implements pipeline.Engine.
func (e *Engine) Reset() error {
	if e.closed {
		return ErrEngineClosed
	}
	e.resetState()
	return nil
}

// Close implements pipeline.Engine.
func (e *Engine) Close() error {
	e.closed = true
	return nil
}

func (e *Engine) resetState() {
	e.pose = mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		e.pose.Set(i, i, 1)
	}
	e.velocity = mat.NewVecDense(3, nil)
	e.haveTS = false
	e.frames = 0
	e.trajectory = nil
	e.mapPoints = nil
}

// integrate advances the pose by one inertial sample.
func (e *Engine) integrate(s pipeline.InertialSample) {
	if !e.haveTS {
		e.lastTS, e.haveTS = s.Timestamp, true
		return
	}
	dt := float64(s.Timestamp-e.lastTS) / float64(time.Second)
	e.lastTS = s.Timestamp
	if dt <= 0 {
		return
	}

	rot := e.pose.Slice(0, 3, 0, 3)

	// World-frame acceleration with gravity removed.
	var acc mat.VecDense
	acc.MulVec(rot, mat.NewVecDense(3, []float64{float64(s.Ax), float64(s.Ay), float64(s.Az)}))
	acc.SetVec(2, acc.AtVec(2)-gravity)

	// p += v*dt + a*dt²/2; v += a*dt
	for i := 0; i < 3; i++ {
		v := e.velocity.AtVec(i)
		a := acc.AtVec(i)
		e.pose.Set(i, 3, e.pose.At(i, 3)+v*dt+0.5*a*dt*dt)
		e.velocity.SetVec(i, v+a*dt)
	}

	// R = R * exp([w*dt]x)
	var next mat.Dense
	next.Mul(rot, rodrigues(float64(s.Wx)*dt, float64(s.Wy)*dt, float64(s.Wz)*dt))
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			e.pose.Set(r, c, next.At(r, c))
		}
	}
}

func (e *Engine) position() pipeline.Point3 {
	return pipeline.Point3{float32(e.pose.At(0, 3)), float32(e.pose.At(1, 3)), float32(e.pose.At(2, 3))}
}

// landmarkAhead returns the point one metre along the body x axis.
func (e *Engine) landmarkAhead() pipeline.Point3 {
	var p mat.VecDense
	p.MulVec(e.pose, mat.NewVecDense(4, []float64{1, 0, 0, 1}))
	return pipeline.Point3{float32(p.AtVec(0)), float32(p.AtVec(1)), float32(p.AtVec(2))}
}

// rodrigues returns the rotation matrix for the rotation vector (x, y, z).
func rodrigues(x, y, z float64) *mat.Dense {
	r := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	theta := math.Sqrt(x*x + y*y + z*z)
	if theta < 1e-12 {
		return r
	}
	x, y, z = x/theta, y/theta, z/theta
	k := mat.NewDense(3, 3, []float64{
		0, -z, y,
		z, 0, -x,
		-y, x, 0,
	})
	var k2 mat.Dense
	k2.Mul(k, k)

	k.Scale(math.Sin(theta), k)
	k2.Scale(1-math.Cos(theta), &k2)
	r.Add(r, k)
	r.Add(r, &k2)
	return r
}

func appendBounded(pts []pipeline.Point3, p pipeline.Point3, limit int) []pipeline.Point3 {
	pts = append(pts, p)
	if len(pts) > limit {
		pts = append(pts[:0], pts[len(pts)-limit:]...)
	}
	return pts
}
