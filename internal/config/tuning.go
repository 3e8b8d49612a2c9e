package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the fatigue
// thresholds, cadences and camera calibration. The schema matches the
// /api/config endpoint so the same JSON can be used for both startup
// configuration and inspection.
type TuningConfig struct {
	// Debounce params
	EyeARThresh         *float64 `json:"eye_ar_thresh,omitempty"`
	EyeARConsecFrames   *int     `json:"eye_ar_consec_frames,omitempty"`
	MARThresh           *float64 `json:"mar_thresh,omitempty"`
	MouthARConsecFrames *int     `json:"mouth_ar_consec_frames,omitempty"`
	HARThresh           *float64 `json:"har_thresh,omitempty"` // degrees of normalized pitch
	NodARConsecFrames   *int     `json:"nod_ar_consec_frames,omitempty"`
	AbsenceConsecFrames *int     `json:"absence_consec_frames,omitempty"`

	// Cadences
	SampleWindow  *string `json:"sample_window,omitempty"`  // duration string like "5s"
	AlertInterval *string `json:"alert_interval,omitempty"` // duration string like "3s"

	// Pose params
	MaxReprojectionError *float64 `json:"max_reprojection_error,omitempty"` // pixels RMS, 0 disables

	// Delivery params
	NotifyBuffer *int `json:"notify_buffer,omitempty"`

	// Camera calibration (optional)
	CameraMatrix []float64 `json:"camera_matrix,omitempty"` // row-major 3x3
	DistCoeffs   []float64 `json:"dist_coeffs,omitempty"`   // k1 k2 p1 p2 k3
}

// Generic 640x480 webcam calibration.
var (
	defaultCameraMatrix = [9]float64{
		653.0839, 0, 319.5,
		0, 653.0839, 239.5,
		0, 0, 1,
	}
	defaultDistCoeffs = [5]float64{0.070834633684407095, 0.069140193737175351, 0, 0, -1.3073460323689292}
)

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults. It needs no file on disk.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	matrix := e.GetCameraMatrix()
	dist := e.GetDistCoeffs()
	return &TuningConfig{
		EyeARThresh:          ptrFloat64(e.GetEyeARThresh()),
		EyeARConsecFrames:    ptrInt(e.GetEyeARConsecFrames()),
		MARThresh:            ptrFloat64(e.GetMARThresh()),
		MouthARConsecFrames:  ptrInt(e.GetMouthARConsecFrames()),
		HARThresh:            ptrFloat64(e.GetHARThresh()),
		NodARConsecFrames:    ptrInt(e.GetNodARConsecFrames()),
		AbsenceConsecFrames:  ptrInt(e.GetAbsenceConsecFrames()),
		SampleWindow:         ptrString(e.GetSampleWindow().String()),
		AlertInterval:        ptrString(e.GetAlertInterval().String()),
		MaxReprojectionError: ptrFloat64(e.GetMaxReprojectionError()),
		NotifyBuffer:         ptrInt(e.GetNotifyBuffer()),
		CameraMatrix:         matrix[:],
		DistCoeffs:           dist[:],
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/fatigue/pipeline/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.EyeARThresh != nil && (*c.EyeARThresh <= 0 || *c.EyeARThresh >= 1) {
		return fmt.Errorf("eye_ar_thresh must be in (0,1), got %f", *c.EyeARThresh)
	}
	if c.MARThresh != nil && *c.MARThresh <= 0 {
		return fmt.Errorf("mar_thresh must be positive, got %f", *c.MARThresh)
	}
	if c.HARThresh != nil && (*c.HARThresh <= 0 || *c.HARThresh >= 90) {
		return fmt.Errorf("har_thresh must be in (0,90) degrees, got %f", *c.HARThresh)
	}

	for name, v := range map[string]*int{
		"eye_ar_consec_frames":   c.EyeARConsecFrames,
		"mouth_ar_consec_frames": c.MouthARConsecFrames,
		"nod_ar_consec_frames":   c.NodARConsecFrames,
		"absence_consec_frames":  c.AbsenceConsecFrames,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	for name, v := range map[string]*string{
		"sample_window":  c.SampleWindow,
		"alert_interval": c.AlertInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.MaxReprojectionError != nil && *c.MaxReprojectionError < 0 {
		return fmt.Errorf("max_reprojection_error must be non-negative, got %f", *c.MaxReprojectionError)
	}
	if c.NotifyBuffer != nil && *c.NotifyBuffer < 0 {
		return fmt.Errorf("notify_buffer must be non-negative, got %d", *c.NotifyBuffer)
	}

	if n := len(c.CameraMatrix); n != 0 && n != 9 {
		return fmt.Errorf("camera_matrix must have 9 entries, got %d", n)
	}
	if len(c.CameraMatrix) == 9 && (c.CameraMatrix[0] <= 0 || c.CameraMatrix[4] <= 0) {
		return fmt.Errorf("camera_matrix focal lengths must be positive")
	}
	if n := len(c.DistCoeffs); n != 0 && n != 5 {
		return fmt.Errorf("dist_coeffs must have 5 entries, got %d", n)
	}

	return nil
}

// GetEyeARThresh returns the eye_ar_thresh value or the default.
func (c *TuningConfig) GetEyeARThresh() float64 {
	if c.EyeARThresh == nil {
		return 0.2
	}
	return *c.EyeARThresh
}

// GetEyeARConsecFrames returns the eye_ar_consec_frames value or the default.
func (c *TuningConfig) GetEyeARConsecFrames() int {
	if c.EyeARConsecFrames == nil {
		return 3
	}
	return *c.EyeARConsecFrames
}

// GetMARThresh returns the mar_thresh value or the default.
func (c *TuningConfig) GetMARThresh() float64 {
	if c.MARThresh == nil {
		return 0.5
	}
	return *c.MARThresh
}

// GetMouthARConsecFrames returns the mouth_ar_consec_frames value or the default.
func (c *TuningConfig) GetMouthARConsecFrames() int {
	if c.MouthARConsecFrames == nil {
		return 3
	}
	return *c.MouthARConsecFrames
}

// GetHARThresh returns the har_thresh value or the default.
func (c *TuningConfig) GetHARThresh() float64 {
	if c.HARThresh == nil {
		return 15.0
	}
	return *c.HARThresh
}

// GetNodARConsecFrames returns the nod_ar_consec_frames value or the default.
func (c *TuningConfig) GetNodARConsecFrames() int {
	if c.NodARConsecFrames == nil {
		return 3
	}
	return *c.NodARConsecFrames
}

// GetAbsenceConsecFrames returns the absence_consec_frames value or the default.
func (c *TuningConfig) GetAbsenceConsecFrames() int {
	if c.AbsenceConsecFrames == nil {
		return 5
	}
	return *c.AbsenceConsecFrames
}

// GetSampleWindow parses and returns the SampleWindow as a time.Duration.
func (c *TuningConfig) GetSampleWindow() time.Duration {
	return parseDurationOr(c.SampleWindow, 5*time.Second)
}

// GetAlertInterval parses and returns the AlertInterval as a time.Duration.
func (c *TuningConfig) GetAlertInterval() time.Duration {
	return parseDurationOr(c.AlertInterval, 3*time.Second)
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetMaxReprojectionError returns the max_reprojection_error value or the default.
func (c *TuningConfig) GetMaxReprojectionError() float64 {
	if c.MaxReprojectionError == nil {
		return 0 // default: no fit-quality gate
	}
	return *c.MaxReprojectionError
}

// GetNotifyBuffer returns the notify_buffer value or the default.
func (c *TuningConfig) GetNotifyBuffer() int {
	if c.NotifyBuffer == nil {
		return 64
	}
	return *c.NotifyBuffer
}

// GetCameraMatrix returns the camera_matrix value or the default.
func (c *TuningConfig) GetCameraMatrix() [9]float64 {
	if len(c.CameraMatrix) != 9 {
		return defaultCameraMatrix
	}
	var m [9]float64
	copy(m[:], c.CameraMatrix)
	return m
}

// GetDistCoeffs returns the dist_coeffs value or the default.
func (c *TuningConfig) GetDistCoeffs() [5]float64 {
	if len(c.DistCoeffs) != 5 {
		return defaultDistCoeffs
	}
	var d [5]float64
	copy(d[:], c.DistCoeffs)
	return d
}
