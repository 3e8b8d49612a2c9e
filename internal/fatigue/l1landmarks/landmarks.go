package l1landmarks

import (
	"errors"
	"fmt"
	"math"
)

// NumLandmarks is the number of points in a complete landmark set.
const NumLandmarks = 68

// ErrInvalidLandmarkCount is returned when a landmark set does not contain
// exactly NumLandmarks points.
var ErrInvalidLandmarkCount = errors.New("invalid landmark count")

// Range is a half-open index range [Start, End) into a LandmarkSet.
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices covered by the range.
func (r Range) Len() int { return r.End - r.Start }

// Anatomical ranges. "Right" and "left" are from the subject's point of view,
// so the right eye appears on the left of a non-mirrored image.
var (
	Jaw       = Range{0, 17}
	RightBrow = Range{17, 22}
	LeftBrow  = Range{22, 27}
	Nose      = Range{27, 36}
	RightEye  = Range{36, 42}
	LeftEye   = Range{42, 48}
	Mouth     = Range{48, 68}
)

// PoseIndices selects the 14 landmarks that correspond, in order, to the
// reference points of the generic 3D head model: brow corners, eye corners,
// nose wings, mouth corners, lower lip centre and chin.
var PoseIndices = [14]int{17, 21, 22, 26, 36, 39, 42, 45, 31, 35, 48, 54, 57, 8}

// Point is a 2D image coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Lerp returns the point a fraction t of the way from p to q.
func (p Point) Lerp(q Point, t float64) Point {
	return Point{X: p.X + (q.X-p.X)*t, Y: p.Y + (q.Y-p.Y)*t}
}

// LandmarkSet is an ordered set of facial landmarks. It is only meaningful
// when it holds exactly NumLandmarks points; use Validate before indexing.
type LandmarkSet []Point

// Validate reports ErrInvalidLandmarkCount unless the set has exactly
// NumLandmarks points.
func (s LandmarkSet) Validate() error {
	if len(s) != NumLandmarks {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidLandmarkCount, len(s), NumLandmarks)
	}
	return nil
}

// Slice returns the points covered by r. The result aliases s.
func (s LandmarkSet) Slice(r Range) []Point {
	return s[r.Start:r.End]
}

// Eye returns the six contour points of one eye, starting at the outer
// corner and running clockwise in image space.
func (s LandmarkSet) Eye(r Range) [6]Point {
	var eye [6]Point
	copy(eye[:], s[r.Start:r.End])
	return eye
}

// MouthPoints returns the 20 mouth points (outer then inner lip contour).
func (s LandmarkSet) MouthPoints() []Point {
	return s.Slice(Mouth)
}

// PosePoints returns the image points matching PoseIndices.
func (s LandmarkSet) PosePoints() []Point {
	pts := make([]Point, len(PoseIndices))
	for i, idx := range PoseIndices {
		pts[i] = s[idx]
	}
	return pts
}

// Scale returns a copy of s with every coordinate multiplied by k.
func (s LandmarkSet) Scale(k float64) LandmarkSet {
	out := make(LandmarkSet, len(s))
	for i, p := range s {
		out[i] = Point{X: p.X * k, Y: p.Y * k}
	}
	return out
}

// Translate returns a copy of s shifted by (dx, dy).
func (s LandmarkSet) Translate(dx, dy float64) LandmarkSet {
	out := make(LandmarkSet, len(s))
	for i, p := range s {
		out[i] = Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}

// Clone returns a deep copy of s.
func (s LandmarkSet) Clone() LandmarkSet {
	out := make(LandmarkSet, len(s))
	copy(out, s)
	return out
}
