package config

import "time"

// Limits for the simulator settings. Rates become sample periods and sizes
// become buffer allocations.
const (
	maxIMURateHz = 100_000
	maxCameraFPS = 1000
	maxFrameSide = 8192
)

// Settings is the process configuration of slamd, read from the environment.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	TickInterval       time.Duration // render cadence driving Tick
	WorkerPollInterval time.Duration
	MaxQueuedEvents    int
	StartPaused        bool

	SimTrackLatency time.Duration
	SimFailAfter    int
	SimIMURateHz    int
	SimCameraFPS    int
	FrameWidth      int
	FrameHeight     int
}

// FromEnv reads Settings from the environment, applying defaults for unset or
// malformed values. Call Load first to pick up a .env file.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		TickInterval:       positiveDuration(GetEnvDuration("TICK_INTERVAL", 16*time.Millisecond), 16*time.Millisecond),
		WorkerPollInterval: GetEnvDuration("WORKER_POLL_INTERVAL", 20*time.Millisecond),
		MaxQueuedEvents:    GetEnvInt("MAX_QUEUED_EVENTS", 4000),
		StartPaused:        GetEnvBool("START_PAUSED", false),

		SimTrackLatency: GetEnvDuration("SIM_TRACK_LATENCY", 50*time.Millisecond),
		SimFailAfter:    GetEnvInt("SIM_FAIL_AFTER", 0),
		SimIMURateHz:    intInRange(GetEnvInt("SIM_IMU_RATE_HZ", 200), 1, maxIMURateHz, 200),
		SimCameraFPS:    intInRange(GetEnvInt("SIM_CAMERA_FPS", 30), 1, maxCameraFPS, 30),
		FrameWidth:      intInRange(GetEnvInt("FRAME_WIDTH", 640), 1, maxFrameSide, 640),
		FrameHeight:     intInRange(GetEnvInt("FRAME_HEIGHT", 480), 1, maxFrameSide, 480),
	}
}

// positiveDuration guards values that feed a ticker, which panics on <= 0.
func positiveDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// intInRange returns v if lo <= v <= hi, otherwise fallback.
func intInRange(v, lo, hi, fallback int) int {
	if v < lo || v > hi {
		return fallback
	}
	return v
}
