package l2metrics

import (
	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"gonum.org/v1/gonum/spatial/r3"
)

// undistortIterations bounds the fixed-point inversion of the lens model.
const undistortIterations = 20

// distort applies the Brown-Conrady lens model to a normalized image
// coordinate.
func (c CameraModel) distort(x, y float64) (float64, float64) {
	k1, k2, p1, p2, k3 := c.Distortion[0], c.Distortion[1], c.Distortion[2], c.Distortion[3], c.Distortion[4]
	r2 := x*x + y*y
	radial := 1 + r2*(k1+r2*(k2+r2*k3))
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// toPixel maps a distorted normalized coordinate to pixels.
func (c CameraModel) toPixel(xd, yd float64) l1landmarks.Point {
	return l1landmarks.Point{
		X: c.fx()*xd + c.Intrinsics[1]*yd + c.cx(),
		Y: c.fy()*yd + c.cy(),
	}
}

// ProjectPoints projects model points through the pose (rvec, tvec) and the
// camera model, including lens distortion.
func ProjectPoints(obj []r3.Vec, rvec, tvec r3.Vec, cam CameraModel) []l1landmarks.Point {
	return projectWith(obj, Rodrigues(rvec), tvec, cam, nil)
}

// projectWith projects into dst (grown as needed) using a precomputed
// rotation. Points on the camera plane come out non-finite.
func projectWith(obj []r3.Vec, rot Mat3, tvec r3.Vec, cam CameraModel, dst []l1landmarks.Point) []l1landmarks.Point {
	if cap(dst) < len(obj) {
		dst = make([]l1landmarks.Point, len(obj))
	}
	dst = dst[:len(obj)]
	for i, p := range obj {
		pc := r3.Add(rot.MulVec(p), tvec)
		x, y := pc.X/pc.Z, pc.Y/pc.Z
		xd, yd := cam.distort(x, y)
		dst[i] = cam.toPixel(xd, yd)
	}
	return dst
}

// UndistortPoints maps pixel coordinates to ideal normalized image
// coordinates (x/z, y/z) by iteratively inverting the lens model.
func UndistortPoints(img []l1landmarks.Point, cam CameraModel) []l1landmarks.Point {
	k1, k2, p1, p2, k3 := cam.Distortion[0], cam.Distortion[1], cam.Distortion[2], cam.Distortion[3], cam.Distortion[4]
	out := make([]l1landmarks.Point, len(img))
	for i, p := range img {
		y0 := (p.Y - cam.cy()) / cam.fy()
		x0 := (p.X - cam.cx() - cam.Intrinsics[1]*y0) / cam.fx()
		x, y := x0, y0
		for it := 0; it < undistortIterations; it++ {
			r2 := x*x + y*y
			icdist := 1 / (1 + r2*(k1+r2*(k2+r2*k3)))
			dx := 2*p1*x*y + p2*(r2+2*x*x)
			dy := p1*(r2+2*y*y) + 2*p2*x*y
			x = (x0 - dx) * icdist
			y = (y0 - dy) * icdist
		}
		out[i] = l1landmarks.Point{X: x, Y: y}
	}
	return out
}
