package l2metrics

import (
	"fmt"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"gonum.org/v1/gonum/spatial/r3"
)

// PoseOptions tunes head pose acceptance.
type PoseOptions struct {
	// MaxReprojectionError rejects solutions whose RMS reprojection error
	// in pixels exceeds this value. Zero disables the check.
	MaxReprojectionError float64
}

// HeadPose is the solved head orientation for one frame.
type HeadPose struct {
	// Normalized angles in degrees, folded into [-90, 90]. Roll is
	// negated so that tilting the head to the subject's right is positive.
	Pitch float64
	Yaw   float64
	Roll  float64

	// RawEuler holds the un-normalized decomposition (x, y, z) in degrees.
	RawEuler [3]float64

	Rotation Mat3
	RVec     r3.Vec
	TVec     r3.Vec

	// Axis holds the reprojected cube corners, indexed like
	// CameraModel.AxisPoints.
	Axis [8]l1landmarks.Point

	ReprojectionError float64
}

// PoseMatrix returns the 3x4 matrix [R|t].
func (h HeadPose) PoseMatrix() [3][4]float64 {
	t := [3]float64{h.TVec.X, h.TVec.Y, h.TVec.Z}
	var pm [3][4]float64
	for i := 0; i < 3; i++ {
		copy(pm[i][:3], h.Rotation[i][:])
		pm[i][3] = t[i]
	}
	return pm
}

// FrameMetrics are the per-frame measurements consumed by event detection.
type FrameMetrics struct {
	LeftEAR  float64
	RightEAR float64
	EAR      float64 // mean of both eyes
	MAR      float64

	// Pose is nil when the head pose could not be solved; PoseErr then
	// wraps ErrPoseUnavailable.
	Pose    *HeadPose
	PoseErr error
}

// HasPose reports whether head pose angles are available.
func (m FrameMetrics) HasPose() bool { return m.Pose != nil }

// EstimateHeadPose solves the head pose from the 14 pose landmarks.
func EstimateHeadPose(set l1landmarks.LandmarkSet, cam CameraModel, opts PoseOptions) (HeadPose, error) {
	if err := set.Validate(); err != nil {
		return HeadPose{}, err
	}
	sol, err := SolvePnP(cam.ObjectPoints[:], set.PosePoints(), cam)
	if err != nil {
		return HeadPose{}, err
	}
	if opts.MaxReprojectionError > 0 && sol.RMS > opts.MaxReprojectionError {
		return HeadPose{}, fmt.Errorf("%w: reprojection error %.2fpx exceeds %.2fpx",
			ErrPoseUnavailable, sol.RMS, opts.MaxReprojectionError)
	}

	raw := DecomposeEuler(sol.Rotation)
	pose := HeadPose{
		Pitch:             NormalizeAngle(raw[0]),
		Yaw:               NormalizeAngle(raw[1]),
		Roll:              -NormalizeAngle(raw[2]),
		RawEuler:          raw,
		Rotation:          sol.Rotation,
		RVec:              sol.RVec,
		TVec:              sol.TVec,
		ReprojectionError: sol.RMS,
	}
	copy(pose.Axis[:], projectWith(cam.AxisPoints[:], sol.Rotation, sol.TVec, cam, nil))
	return pose, nil
}

// Extract computes all per-frame metrics. It fails only for an invalid
// landmark count; a pose failure is reported through FrameMetrics.PoseErr.
func Extract(set l1landmarks.LandmarkSet, cam CameraModel, opts PoseOptions) (FrameMetrics, error) {
	if err := set.Validate(); err != nil {
		return FrameMetrics{}, err
	}

	left := EyeAspectRatio(set.Eye(l1landmarks.LeftEye))
	right := EyeAspectRatio(set.Eye(l1landmarks.RightEye))
	m := FrameMetrics{
		LeftEAR:  left,
		RightEAR: right,
		EAR:      (left + right) / 2,
		MAR:      MouthAspectRatio(set.MouthPoints()),
	}

	pose, err := EstimateHeadPose(set, cam, opts)
	if err != nil {
		m.PoseErr = err
		return m, nil
	}
	m.Pose = &pose
	return m, nil
}
