package pipeline

import (
	"fmt"
	"time"

	"github.com/banshee-data/fatigue.report/internal/config"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l3events"
	"github.com/banshee-data/fatigue.report/internal/timeutil"
)

// Config holds everything a Session needs besides its sinks.
type Config struct {
	Camera l2metrics.CameraModel
	Pose   l2metrics.PoseOptions
	Events l3events.Config

	SampleWindow  time.Duration // rate sampling window
	AlertInterval time.Duration // alert check cadence

	// NotifyBuffer is the capacity of the notification queue. When it is
	// full, new notifications are dropped rather than blocking frames.
	NotifyBuffer int

	// Clock drives the sampler and alert loops. Nil means the real clock.
	Clock timeutil.Clock
}

// DefaultConfig returns the built-in defaults. It needs no config file.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Camera: l2metrics.NewCameraModel(cfg.GetCameraMatrix(), cfg.GetDistCoeffs()),
		Pose: l2metrics.PoseOptions{
			MaxReprojectionError: cfg.GetMaxReprojectionError(),
		},
		Events: l3events.Config{
			EyeARThresh:         cfg.GetEyeARThresh(),
			EyeARConsecFrames:   cfg.GetEyeARConsecFrames(),
			MouthARThresh:       cfg.GetMARThresh(),
			MouthARConsecFrames: cfg.GetMouthARConsecFrames(),
			HeadPitchThresh:     cfg.GetHARThresh(),
			NodConsecFrames:     cfg.GetNodARConsecFrames(),
			AbsenceConsecFrames: cfg.GetAbsenceConsecFrames(),
		},
		SampleWindow:  cfg.GetSampleWindow(),
		AlertInterval: cfg.GetAlertInterval(),
		NotifyBuffer:  cfg.GetNotifyBuffer(),
	}
}

// Validate checks the config can drive a session.
func (c Config) Validate() error {
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if c.SampleWindow <= 0 {
		return fmt.Errorf("sample window must be positive, got %v", c.SampleWindow)
	}
	if c.AlertInterval <= 0 {
		return fmt.Errorf("alert interval must be positive, got %v", c.AlertInterval)
	}
	if c.NotifyBuffer < 0 {
		return fmt.Errorf("notify buffer must be non-negative, got %d", c.NotifyBuffer)
	}
	return nil
}
