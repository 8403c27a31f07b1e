package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// AccelEvent is one device-native accelerometer reading (m/s²).
// Timestamp is in nanoseconds, in the same clock domain as frame timestamps.
type AccelEvent struct {
	X, Y, Z   float32
	Timestamp int64
}

// GyroEvent is one device-native gyroscope reading (rad/s).
type GyroEvent struct {
	X, Y, Z   float32
	Timestamp int64
}

// InertialSample is a fused acceleration and angular-rate reading at one
// timestamp. Exactly one of the two axis sets was natively sampled at
// Timestamp; the other is interpolated.
type InertialSample struct {
	Ax, Ay, Az float32
	Wx, Wy, Wz float32
	Timestamp  int64
}

// Frame is one decoded camera frame.
type Frame struct {
	Pixels    []byte
	Width     int
	Height    int
	Timestamp int64 // capture time, nanoseconds
}

// WorkPacket is the unit handed to the tracking worker. Inertial is ascending
// by timestamp. After a successful TrySubmit the producer holds no reference
// to the packet's slices.
type WorkPacket struct {
	Seq      uint64
	Frame    Frame
	Inertial []InertialSample
}

// TrackingStatus mirrors the tracking states reported by the engine.
type TrackingStatus int

const (
	StatusNotReady TrackingStatus = iota - 1
	StatusNoData
	StatusNotInitialized
	StatusOK
	StatusRecentlyLost
	StatusLost
	StatusOKDegraded
)

func (s TrackingStatus) String() string {
	switch s {
	case StatusNotReady:
		return "NOT_READY"
	case StatusNoData:
		return "NO_DATA"
	case StatusNotInitialized:
		return "NOT_INITIALIZED"
	case StatusOK:
		return "OK"
	case StatusRecentlyLost:
		return "RECENTLY_LOST"
	case StatusLost:
		return "LOST"
	case StatusOKDegraded:
		return "OK_DEGRADED"
	default:
		return fmt.Sprintf("TrackingStatus(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON diagnostics.
func (s TrackingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Point3 is a point in the world frame.
type Point3 [3]float32

// Pose is a 4x4 homogeneous SE(3) transform stored column-major.
type Pose [16]float32

// IdentityPose returns the identity transform.
func IdentityPose() Pose {
	var p Pose
	p[0], p[5], p[10], p[15] = 1, 1, 1, 1
	return p
}

// At returns the element at row r, column c.
func (p Pose) At(r, c int) float32 {
	return p[c*4+r]
}

// Translation returns the translation column.
func (p Pose) Translation() Point3 {
	return Point3{p[12], p[13], p[14]}
}

// Matrix returns the pose as a row-major gonum matrix.
func (p Pose) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m.Set(r, c, float64(p.At(r, c)))
		}
	}
	return m
}

// PoseFromMatrix converts a 4x4 matrix into a column-major Pose.
// It panics if m is not 4x4.
func PoseFromMatrix(m mat.Matrix) Pose {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		panic(fmt.Sprintf("pipeline: pose matrix must be 4x4, got %dx%d", r, c))
	}
	var p Pose
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			p[col*4+row] = float32(m.At(row, col))
		}
	}
	return p
}

// TrackingResult is the outcome of one completed Track call. It is never
// modified after being published.
type TrackingResult struct {
	Seq            uint64 // sequence of the packet that produced it
	FrameTimestamp int64
	Pose           Pose
	Trajectory     []Point3
	MapPoints      []Point3
	Status         TrackingStatus
	ProcessingTime time.Duration
}

// SessionState is the retained record of one Start..Stop run of the pipeline.
// The last result outlives the run so a failed pipeline can still display
// its final tracking status.
type SessionState struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Ended     bool      `json:"ended"`
	Failure   string    `json:"failure,omitempty"`

	Results    uint64          `json:"results"`
	LastResult *TrackingResult `json:"-"`
}
