// Package sim provides synthetic sensors and a stand-in tracking engine so the
// pipeline can run without camera or IMU hardware.
package sim

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"slam-pipeline/internal/pipeline"
	"slam-pipeline/internal/platform/clock"
)

const (
	// DefaultIMURateHz matches the 5ms sensor refresh of the phone IMU.
	DefaultIMURateHz = 200

	// MaxIMURateHz keeps the sample period well above zero.
	MaxIMURateHz = 100_000

	// DefaultMaxBacklog bounds the events a stalled reader can accumulate;
	// older events are lost, as with a hardware FIFO.
	DefaultMaxBacklog = 1000

	gravity = 9.81
)

// Motion describes the synthetic trajectory: a constant yaw rate with a
// sinusoidal forward acceleration.
type Motion struct {
	YawRate     float64 // rad/s
	Amplitude   float64 // m/s², forward acceleration peak
	Frequency   float64 // Hz
	NoiseStdDev float64 // added to every axis
}

// DefaultMotion is a slow walk around a circle.
var DefaultMotion = Motion{YawRate: 0.3, Amplitude: 0.5, Frequency: 0.5, NoiseStdDev: 0.01}

// IMU synthesizes accelerometer and gyroscope events against a clock.
// Events are produced lazily when drained, so an idle reader costs nothing.
// The gyroscope is sampled half a period after the accelerometer, as two
// independently clocked sensors would be.
type IMU struct {
	mu      sync.Mutex
	clock   clock.Clock
	origin  time.Time
	period  time.Duration
	motion  Motion
	backlog int
	rng     *rand.Rand

	nextAccel time.Duration
	nextGyro  time.Duration
	lost      uint64
}

// NewIMU returns an IMU sampling both sensors at rateHz. A rate outside
// (0, MaxIMURateHz] selects DefaultIMURateHz. Timestamps are nanoseconds
// since origin.
func NewIMU(clk clock.Clock, origin time.Time, rateHz int, motion Motion, seed int64) *IMU {
	if rateHz <= 0 || rateHz > MaxIMURateHz {
		rateHz = DefaultIMURateHz
	}
	period := time.Second / time.Duration(rateHz)
	return &IMU{
		clock:    clk,
		origin:   origin,
		period:   period,
		motion:   motion,
		backlog:  DefaultMaxBacklog,
		rng:      rand.New(rand.NewSource(seed)),
		nextGyro: period / 2,
	}
}

// Accel returns the accelerometer as a pipeline.AccelSource.
func (m *IMU) Accel() pipeline.AccelSource {
	return accelSource{m}
}

// Gyro returns the gyroscope as a pipeline.GyroSource.
func (m *IMU) Gyro() pipeline.GyroSource {
	return gyroSource{m}
}

// Lost returns the number of events discarded because the backlog overflowed.
func (m *IMU) Lost() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost
}

type accelSource struct{ m *IMU }

func (s accelSource) DrainEvents() []pipeline.AccelEvent {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []pipeline.AccelEvent
	for _, t := range m.dueLocked(&m.nextAccel) {
		sec := t.Seconds()
		fwd := m.motion.Amplitude * math.Sin(2*math.Pi*m.motion.Frequency*sec)
		out = append(out, pipeline.AccelEvent{
			X:         m.noisy(fwd),
			Y:         m.noisy(0),
			Z:         m.noisy(gravity),
			Timestamp: int64(t),
		})
	}
	return out
}

type gyroSource struct{ m *IMU }

func (s gyroSource) DrainEvents() []pipeline.GyroEvent {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []pipeline.GyroEvent
	for _, t := range m.dueLocked(&m.nextGyro) {
		out = append(out, pipeline.GyroEvent{
			X:         m.noisy(0),
			Y:         m.noisy(0),
			Z:         m.noisy(m.motion.YawRate),
			Timestamp: int64(t),
		})
	}
	return out
}

// dueLocked returns the sample times in (previous drain, now] for one sensor
// and advances *next past them.
func (m *IMU) dueLocked(next *time.Duration) []time.Duration {
	now := m.clock.Since(m.origin)
	if now < *next {
		return nil
	}
	n := int((now-*next)/m.period) + 1
	if n > m.backlog {
		skip := n - m.backlog
		*next += time.Duration(skip) * m.period
		m.lost += uint64(skip)
		n = m.backlog
	}
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = *next
		*next += m.period
	}
	return out
}

func (m *IMU) noisy(v float64) float32 {
	if m.motion.NoiseStdDev > 0 {
		v += m.rng.NormFloat64() * m.motion.NoiseStdDev
	}
	return float32(v)
}
