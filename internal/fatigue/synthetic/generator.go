// Package synthetic generates plausible 68-point landmark sets with a known
// head pose, eye openness and mouth openness. It drives tests and the
// gen-landmarks replay tool.
package synthetic

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l2metrics"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose places the head relative to the camera. Angles are in degrees and
// are applied in the head frame, pitch first.
type Pose struct {
	Pitch    float64
	Yaw      float64
	Roll     float64
	Distance float64 // along the optical axis, model units
	OffsetX  float64
	OffsetY  float64
}

// Face describes one synthetic observation.
type Face struct {
	Pose Pose
	EAR  float64
	MAR  float64
}

// DefaultFace is an alert subject looking straight at the camera.
func DefaultFace() Face {
	return Face{
		Pose: Pose{Distance: 60},
		EAR:  0.30,
		MAR:  0.10,
	}
}

// Generator turns Face descriptions into landmark sets.
type Generator struct {
	Camera l2metrics.CameraModel

	// Noise is the standard deviation of Gaussian pixel jitter added to
	// every landmark. Zero produces exact geometry.
	Noise float64

	rng *rand.Rand
}

// New returns a generator for the given camera. seed makes jitter
// reproducible.
func New(cam l2metrics.CameraModel, noise float64, seed uint64) *Generator {
	g := &Generator{Camera: cam, Noise: noise}
	if noise > 0 {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return g
}

// Transform returns the camera-from-model rotation vector and translation
// for p. The model faces the camera at zero angles, which with the generic
// head model is a half turn about the optical axis.
func (g *Generator) Transform(p Pose) (r3.Vec, r3.Vec) {
	rad := math.Pi / 180
	head := l2metrics.RotX(p.Pitch * rad).Mul(l2metrics.RotY(p.Yaw * rad)).Mul(l2metrics.RotZ(p.Roll * rad))
	rot := l2metrics.RotZ(math.Pi).Mul(head)
	dist := p.Distance
	if dist <= 0 {
		dist = 60
	}
	return l2metrics.RodriguesVector(rot), r3.Vec{X: p.OffsetX, Y: p.OffsetY, Z: dist}
}

// Landmarks builds a complete landmark set for f.
func (g *Generator) Landmarks(f Face) l1landmarks.LandmarkSet {
	rvec, tvec := g.Transform(f.Pose)
	anchors := l2metrics.ProjectPoints(g.Camera.ObjectPoints[:], rvec, tvec, g.Camera)

	set := make(l1landmarks.LandmarkSet, l1landmarks.NumLandmarks)
	for i, idx := range l1landmarks.PoseIndices {
		set[idx] = anchors[i]
	}

	placeEye(set, 36, f.EAR)
	placeEye(set, 42, f.EAR)
	placeBrow(set, 17)
	placeBrow(set, 22)
	placeNose(set)
	placeMouth(set, f.MAR)
	placeJaw(set)

	if g.rng != nil {
		for i := range set {
			set[i].X += g.rng.NormFloat64() * g.Noise
			set[i].Y += g.rng.NormFloat64() * g.Noise
		}
	}
	return set
}

// up returns the unit normal of the segment a->b pointing towards the top
// of the image, and the segment length.
func up(a, b l1landmarks.Point) (l1landmarks.Point, float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	w := math.Hypot(dx, dy)
	if w == 0 {
		return l1landmarks.Point{Y: -1}, 0
	}
	n := l1landmarks.Point{X: dy / w, Y: -dx / w}
	if n.Y > 0 {
		n = l1landmarks.Point{X: -n.X, Y: -n.Y}
	}
	return n, w
}

func offset(p, n l1landmarks.Point, d float64) l1landmarks.Point {
	return l1landmarks.Point{X: p.X + n.X*d, Y: p.Y + n.Y*d}
}

// placeEye fills the four lid points of the eye starting at first so the
// eye aspect ratio equals ear. The corners must already be set.
func placeEye(set l1landmarks.LandmarkSet, first int, ear float64) {
	p0, p3 := set[first], set[first+3]
	n, w := up(p0, p3)
	h := ear * w
	set[first+1] = offset(p0.Lerp(p3, 1.0/3), n, h/2)
	set[first+2] = offset(p0.Lerp(p3, 2.0/3), n, h/2)
	set[first+4] = offset(p0.Lerp(p3, 2.0/3), n, -h/2)
	set[first+5] = offset(p0.Lerp(p3, 1.0/3), n, -h/2)
}

func placeBrow(set l1landmarks.LandmarkSet, first int) {
	a, b := set[first], set[first+4]
	n, w := up(a, b)
	for k := 1; k <= 3; k++ {
		t := float64(k) / 4
		arch := math.Sin(t*math.Pi) * w * 0.12
		set[first+k] = offset(a.Lerp(b, t), n, arch)
	}
}

func placeNose(set l1landmarks.LandmarkSet) {
	top := set[21].Lerp(set[22], 0.5)
	wingL, wingR := set[31], set[35]
	base := wingL.Lerp(wingR, 0.5)
	n, w := up(wingL, wingR)
	tip := offset(base, n, w*0.25)
	for k := 0; k < 4; k++ {
		set[27+k] = top.Lerp(tip, float64(k)/3)
	}
	set[32] = offset(wingL.Lerp(wingR, 0.25), n, -w*0.08)
	set[33] = offset(base, n, -w*0.12)
	set[34] = offset(wingL.Lerp(wingR, 0.75), n, -w*0.08)
}

// placeMouth fills the mouth so the mouth aspect ratio equals mar. Corners
// (48, 54) and the lower lip centre (57) must already be set.
func placeMouth(set l1landmarks.LandmarkSet, mar float64) {
	left, right, bottom := set[48], set[54], set[57]
	n, w := up(left, right)
	dx := (right.X - left.X) / 6
	dy := (right.Y - left.Y) / 6

	set[55] = l1landmarks.Point{X: bottom.X + dx, Y: bottom.Y + dy}
	set[58] = l1landmarks.Point{X: bottom.X - dx, Y: bottom.Y - dy}
	set[56] = bottom.Lerp(set[55], 0.5)
	set[59] = set[58].Lerp(left, 0.5)

	open := mar * w
	set[50] = offset(bottom, n, open)
	set[52] = offset(set[55], n, open)
	set[51] = set[50].Lerp(set[52], 0.5)
	set[49] = offset(left.Lerp(set[50], 0.5), n, w*0.03)
	set[53] = offset(set[52].Lerp(right, 0.5), n, w*0.03)

	set[60] = left.Lerp(right, 0.08)
	set[64] = left.Lerp(right, 0.92)
	set[61] = offset(set[50], n, -w*0.04)
	set[62] = offset(set[51], n, -w*0.04)
	set[63] = offset(set[52], n, -w*0.04)
	set[65] = offset(set[55], n, w*0.04)
	set[66] = offset(set[56], n, w*0.04)
	set[67] = offset(set[58], n, w*0.04)
}

// placeJaw sweeps the jaw line from beside each outer eye corner down to
// the chin along quadratic curves.
func placeJaw(set l1landmarks.LandmarkSet) {
	chin := set[8]
	outR, outL := set[36], set[45]
	span := outL.X - outR.X
	startR := l1landmarks.Point{X: outR.X - span*0.25, Y: outR.Y}
	startL := l1landmarks.Point{X: outL.X + span*0.25, Y: outL.Y}

	curve := func(a, ctrl, b l1landmarks.Point, t float64) l1landmarks.Point {
		u := 1 - t
		return l1landmarks.Point{
			X: u*u*a.X + 2*u*t*ctrl.X + t*t*b.X,
			Y: u*u*a.Y + 2*u*t*ctrl.Y + t*t*b.Y,
		}
	}
	ctrlR := l1landmarks.Point{X: startR.X, Y: chin.Y}
	ctrlL := l1landmarks.Point{X: startL.X, Y: chin.Y}
	for k := 0; k < 8; k++ {
		t := float64(k) / 8
		set[k] = curve(startR, ctrlR, chin, t)
		set[16-k] = curve(startL, ctrlL, chin, t)
	}
}

// SegmentKind selects the behaviour of a script segment.
type SegmentKind int

const (
	Steady SegmentKind = iota
	Blink
	Yawn
	Nod
	Absent
)

// Segment is a run of identical frames. Value overrides the relevant
// quantity: EAR for Blink, MAR for Yawn, pitch for Nod. Zero keeps a
// sensible default.
type Segment struct {
	Kind   SegmentKind
	Frames int
	Value  float64
}

// Script renders segments into timestamped frames at fps, starting at
// start, using base for every quantity a segment does not override.
func (g *Generator) Script(start time.Time, fps float64, base Face, segments []Segment) []l1landmarks.Frame {
	if fps <= 0 {
		fps = 30
	}
	step := time.Duration(float64(time.Second) / fps)
	var frames []l1landmarks.Frame
	seq := uint64(0)
	for _, seg := range segments {
		for i := 0; i < seg.Frames; i++ {
			seq++
			ts := start.Add(time.Duration(seq-1) * step)
			if seg.Kind == Absent {
				frames = append(frames, l1landmarks.NoFace(seq, ts))
				continue
			}
			f := base
			switch seg.Kind {
			case Blink:
				f.EAR = valueOr(seg.Value, 0.10)
			case Yawn:
				f.MAR = valueOr(seg.Value, 0.80)
			case Nod:
				f.Pose.Pitch = valueOr(seg.Value, 25)
			}
			frames = append(frames, l1landmarks.Frame{
				Seq:       seq,
				Timestamp: ts,
				Face:      true,
				Landmarks: g.Landmarks(f),
			})
		}
	}
	return frames
}

func valueOr(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
