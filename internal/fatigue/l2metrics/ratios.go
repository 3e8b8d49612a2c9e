package l2metrics

import (
	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
)

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2|p0-p3|) over the six
// contour points of one eye. A degenerate eye with zero width yields 0.
func EyeAspectRatio(eye [6]l1landmarks.Point) float64 {
	a := eye[1].Dist(eye[5])
	b := eye[2].Dist(eye[4])
	c := eye[0].Dist(eye[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2 * c)
}

// Mouth offsets within the 20-point mouth range for the two vertical
// openings and the horizontal span.
const (
	mouthUpperA = 2 // 50
	mouthLowerA = 9 // 57
	mouthUpperB = 4 // 52
	mouthLowerB = 7 // 55
	mouthLeft   = 0 // 48
	mouthRight  = 6 // 54
)

// MouthAspectRatio computes (|m2-m9| + |m4-m7|) / (2|m0-m6|) over the
// 20 mouth points. A degenerate mouth with zero width yields 0.
func MouthAspectRatio(mouth []l1landmarks.Point) float64 {
	if len(mouth) < l1landmarks.Mouth.Len() {
		return 0
	}
	a := mouth[mouthUpperA].Dist(mouth[mouthLowerA])
	b := mouth[mouthUpperB].Dist(mouth[mouthLowerB])
	c := mouth[mouthLeft].Dist(mouth[mouthRight])
	if c == 0 {
		return 0
	}
	return (a + b) / (2 * c)
}
