package l2metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// CameraModel holds the pinhole intrinsics, lens distortion and the 3D
// reference geometry used for head pose estimation. It is immutable once
// constructed and safe to share between goroutines.
type CameraModel struct {
	// Intrinsics is the row-major 3x3 camera matrix
	// [fx 0 cx; 0 fy cy; 0 0 1].
	Intrinsics [9]float64

	// Distortion holds [k1 k2 p1 p2 k3] in the Brown-Conrady model.
	Distortion [5]float64

	// ObjectPoints are the head model points matching
	// l1landmarks.PoseIndices one-to-one.
	ObjectPoints [14]r3.Vec

	// AxisPoints are the corners of a cube around the head origin,
	// reprojected for visual feedback.
	AxisPoints [8]r3.Vec

	// AxisLines lists index pairs into AxisPoints forming the cube edges.
	AxisLines [12][2]int
}

// Generic head model in centimetres, origin near the centre of the head,
// +Y up. Order matches l1landmarks.PoseIndices.
var headModel = [14]r3.Vec{
	{X: 6.825897, Y: 6.760612, Z: 4.402142},   // right brow, outer
	{X: 1.330353, Y: 7.122144, Z: 6.903745},   // right brow, inner
	{X: -1.330353, Y: 7.122144, Z: 6.903745},  // left brow, inner
	{X: -6.825897, Y: 6.760612, Z: 4.402142},  // left brow, outer
	{X: 5.311432, Y: 5.485328, Z: 3.987654},   // right eye, outer
	{X: 1.789930, Y: 5.393625, Z: 4.413414},   // right eye, inner
	{X: -1.789930, Y: 5.393625, Z: 4.413414},  // left eye, inner
	{X: -5.311432, Y: 5.485328, Z: 3.987654},  // left eye, outer
	{X: 2.005628, Y: 1.409845, Z: 6.165652},   // nose, right wing
	{X: -2.005628, Y: 1.409845, Z: 6.165652},  // nose, left wing
	{X: 2.774015, Y: -2.080775, Z: 5.048531},  // mouth, right corner
	{X: -2.774015, Y: -2.080775, Z: 5.048531}, // mouth, left corner
	{X: 0.000000, Y: -3.116408, Z: 6.097667},  // lower lip
	{X: 0.000000, Y: -7.415691, Z: 4.070434},  // chin
}

var axisCube = [8]r3.Vec{
	{X: 10, Y: 10, Z: 10},
	{X: 10, Y: 10, Z: -10},
	{X: 10, Y: -10, Z: -10},
	{X: 10, Y: -10, Z: 10},
	{X: -10, Y: 10, Z: 10},
	{X: -10, Y: 10, Z: -10},
	{X: -10, Y: -10, Z: -10},
	{X: -10, Y: -10, Z: 10},
}

var axisLines = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// DefaultCameraModel returns a generic calibration for a 640x480 webcam.
func DefaultCameraModel() CameraModel {
	return NewCameraModel(
		[9]float64{
			653.0839, 0, 319.5,
			0, 653.0839, 239.5,
			0, 0, 1,
		},
		[5]float64{0.070834633684407095, 0.069140193737175351, 0, 0, -1.3073460323689292},
	)
}

// NewCameraModel builds a model with the given calibration and the generic
// head geometry.
func NewCameraModel(intrinsics [9]float64, distortion [5]float64) CameraModel {
	return CameraModel{
		Intrinsics:   intrinsics,
		Distortion:   distortion,
		ObjectPoints: headModel,
		AxisPoints:   axisCube,
		AxisLines:    axisLines,
	}
}

func (c CameraModel) fx() float64 { return c.Intrinsics[0] }
func (c CameraModel) fy() float64 { return c.Intrinsics[4] }
func (c CameraModel) cx() float64 { return c.Intrinsics[2] }
func (c CameraModel) cy() float64 { return c.Intrinsics[5] }

// Validate checks the calibration is usable.
func (c CameraModel) Validate() error {
	for i, v := range c.Intrinsics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("camera matrix element %d is not finite", i)
		}
	}
	for i, v := range c.Distortion {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("distortion coefficient %d is not finite", i)
		}
	}
	if c.fx() <= 0 || c.fy() <= 0 {
		return fmt.Errorf("focal lengths must be positive, got fx=%g fy=%g", c.fx(), c.fy())
	}
	if c.Intrinsics[6] != 0 || c.Intrinsics[7] != 0 || c.Intrinsics[8] != 1 {
		return fmt.Errorf("camera matrix bottom row must be [0 0 1]")
	}
	return nil
}
