package sim

import (
	"sync"
	"time"

	"slam-pipeline/internal/pipeline"
	"slam-pipeline/internal/platform/clock"
)

const (
	// DefaultCameraFPS is the simulated capture rate.
	DefaultCameraFPS = 30
	// MaxCameraFPS keeps the frame period well above zero.
	MaxCameraFPS = 1000
)

// ringSize is the number of image buffers the camera alternates between.
// A returned frame stays valid until the second following acquisition.
const ringSize = 2

// Camera renders a moving grayscale test pattern at a fixed frame rate.
// Frame n is captured n frame periods after the origin.
type Camera struct {
	mu     sync.Mutex
	clock  clock.Clock
	origin time.Time
	period time.Duration
	width  int
	height int

	ring     [ringSize][]byte
	slot     int
	last     int64 // index of the last returned frame
	acquired bool
}

// NewCamera returns a camera producing width x height 8-bit frames at fps.
// An fps outside (0, MaxCameraFPS] selects DefaultCameraFPS; a negative size
// yields empty frames. Timestamps are nanoseconds since origin.
func NewCamera(clk clock.Clock, origin time.Time, width, height, fps int) *Camera {
	if fps <= 0 || fps > MaxCameraFPS {
		fps = DefaultCameraFPS
	}
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	c := &Camera{
		clock:  clk,
		origin: origin,
		period: time.Second / time.Duration(fps),
		width:  width,
		height: height,
	}
	for i := range c.ring {
		c.ring[i] = make([]byte, width*height)
	}
	return c
}

// AcquireLatest implements pipeline.FrameAcquirer. It returns the most
// recently captured frame, or pipeline.ErrNoFrameAvailable if no frame has
// been captured since the previous call. Frames captured in between are
// skipped. The pixel buffer is reused by later calls.
func (c *Camera) AcquireLatest() (pipeline.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := int64(c.clock.Since(c.origin) / c.period)
	if c.acquired && idx <= c.last {
		return pipeline.Frame{}, pipeline.ErrNoFrameAvailable
	}
	c.last, c.acquired = idx, true

	buf := c.ring[c.slot]
	c.slot = (c.slot + 1) % ringSize
	c.render(buf, idx)

	return pipeline.Frame{
		Pixels:    buf,
		Width:     c.width,
		Height:    c.height,
		Timestamp: idx * int64(c.period),
	}, nil
}

// render draws diagonal stripes that scroll one pixel per frame.
func (c *Camera) render(buf []byte, idx int64) {
	shift := int(idx % 256)
	for y := 0; y < c.height; y++ {
		row := buf[y*c.width : (y+1)*c.width]
		for x := range row {
			row[x] = byte((x + y + shift) * 4)
		}
	}
}
