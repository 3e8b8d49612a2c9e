package l2metrics

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l1landmarks"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrPoseUnavailable is returned when the head pose cannot be solved for a
// frame. It is recoverable: the frame's other metrics remain valid.
var ErrPoseUnavailable = errors.New("head pose unavailable")

const (
	minCorrespondences = 6
	maxLMIterations    = 100
	maxLMLambda        = 1e10
)

// PoseSolution is the camera-from-model transform found by SolvePnP.
type PoseSolution struct {
	RVec       r3.Vec
	TVec       r3.Vec
	Rotation   Mat3
	RMS        float64 // reprojection error in pixels
	Iterations int
}

// SolvePnP estimates the pose of the model points obj that best explains
// their observed pixel positions img. A linear estimate from the direct
// linear transform seeds a Levenberg-Marquardt refinement of the
// reprojection error.
func SolvePnP(obj []r3.Vec, img []l1landmarks.Point, cam CameraModel) (PoseSolution, error) {
	if len(obj) != len(img) {
		return PoseSolution{}, fmt.Errorf("%w: %d model points but %d image points", ErrPoseUnavailable, len(obj), len(img))
	}
	if len(obj) < minCorrespondences {
		return PoseSolution{}, fmt.Errorf("%w: need at least %d correspondences, got %d", ErrPoseUnavailable, minCorrespondences, len(obj))
	}
	for _, p := range img {
		if !finite(p.X) || !finite(p.Y) {
			return PoseSolution{}, fmt.Errorf("%w: non-finite image point", ErrPoseUnavailable)
		}
	}

	rot, tvec, err := dltPose(obj, UndistortPoints(img, cam))
	if err != nil {
		return PoseSolution{}, err
	}

	sol := refinePose(obj, img, cam, RodriguesVector(rot), tvec)
	if !finite(sol.RVec.X) || !finite(sol.RVec.Y) || !finite(sol.RVec.Z) ||
		!finite(sol.TVec.X) || !finite(sol.TVec.Y) || !finite(sol.TVec.Z) || !finite(sol.RMS) {
		return PoseSolution{}, fmt.Errorf("%w: solution did not converge", ErrPoseUnavailable)
	}
	if sol.TVec.Z <= 0 {
		return PoseSolution{}, fmt.Errorf("%w: model behind camera (z=%.3f)", ErrPoseUnavailable, sol.TVec.Z)
	}
	return sol, nil
}

// dltPose solves the 3x4 projection from normalized image coordinates by
// SVD, then projects its left block onto the nearest rotation.
func dltPose(obj []r3.Vec, norm []l1landmarks.Point) (Mat3, r3.Vec, error) {
	n := len(obj)

	// Hartley normalization keeps the design matrix well conditioned.
	var c3 r3.Vec
	for _, p := range obj {
		c3 = r3.Add(c3, p)
	}
	c3 = r3.Scale(1/float64(n), c3)
	var d3 float64
	for _, p := range obj {
		d3 += r3.Norm(r3.Sub(p, c3))
	}
	d3 /= float64(n)

	var mx, my float64
	for _, p := range norm {
		mx += p.X
		my += p.Y
	}
	mx /= float64(n)
	my /= float64(n)
	var d2 float64
	for _, p := range norm {
		d2 += math.Hypot(p.X-mx, p.Y-my)
	}
	d2 /= float64(n)

	if d3 == 0 || d2 == 0 {
		return Mat3{}, r3.Vec{}, fmt.Errorf("%w: degenerate point spread", ErrPoseUnavailable)
	}
	s3 := math.Sqrt(3) / d3
	s2 := math.Sqrt2 / d2

	a := mat.NewDense(2*n, 12, nil)
	for i := range obj {
		q := r3.Scale(s3, r3.Sub(obj[i], c3))
		h := [4]float64{q.X, q.Y, q.Z, 1}
		x := s2 * (norm[i].X - mx)
		y := s2 * (norm[i].Y - my)
		for j := 0; j < 4; j++ {
			a.Set(2*i, j, h[j])
			a.Set(2*i, 8+j, -x*h[j])
			a.Set(2*i+1, 4+j, h[j])
			a.Set(2*i+1, 8+j, -y*h[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThinV); !ok {
		return Mat3{}, r3.Vec{}, fmt.Errorf("%w: DLT factorization failed", ErrPoseUnavailable)
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := v.Dims()

	// Right singular vector of the smallest singular value.
	pn := mat.NewDense(3, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			pn.Set(r, c, v.At(4*r+c, cols-1))
		}
	}

	t2inv := mat.NewDense(3, 3, []float64{
		1 / s2, 0, mx,
		0, 1 / s2, my,
		0, 0, 1,
	})
	t3 := mat.NewDense(4, 4, []float64{
		s3, 0, 0, -s3 * c3.X,
		0, s3, 0, -s3 * c3.Y,
		0, 0, s3, -s3 * c3.Z,
		0, 0, 0, 1,
	})
	var tmp, p mat.Dense
	tmp.Mul(t2inv, pn)
	p.Mul(&tmp, t3)

	// The null vector's sign is arbitrary; keep the one that puts the
	// model centroid in front of the camera.
	depth := p.At(2, 0)*c3.X + p.At(2, 1)*c3.Y + p.At(2, 2)*c3.Z + p.At(2, 3)
	if depth < 0 {
		p.Scale(-1, &p)
	}

	m := mat3FromDense(p.Slice(0, 3, 0, 3))
	t := r3.Vec{X: p.At(0, 3), Y: p.At(1, 3), Z: p.At(2, 3)}

	var msvd mat.SVD
	if ok := msvd.Factorize(m.Dense(), mat.SVDFull); !ok {
		return Mat3{}, r3.Vec{}, fmt.Errorf("%w: rotation factorization failed", ErrPoseUnavailable)
	}
	var u, vr mat.Dense
	msvd.UTo(&u)
	msvd.VTo(&vr)
	vals := msvd.Values(nil)
	scale := (vals[0] + vals[1] + vals[2]) / 3
	if scale < 1e-12 {
		return Mat3{}, r3.Vec{}, fmt.Errorf("%w: singular projection", ErrPoseUnavailable)
	}

	// Nearest proper rotation: U diag(1, 1, det(UVᵀ)) Vᵀ. Noise can leave
	// det(M) negative; the translation keeps its sign either way.
	var r mat.Dense
	r.Mul(&u, vr.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, vr.T())
	}
	return mat3FromDense(&r), r3.Scale(1/scale, t), nil
}

// inFront reports whether every model point has positive depth under x.
func inFront(obj []r3.Vec, x []float64) bool {
	rot := Rodrigues(r3.Vec{X: x[0], Y: x[1], Z: x[2]})
	t := r3.Vec{X: x[3], Y: x[4], Z: x[5]}
	for _, p := range obj {
		if r3.Add(rot.MulVec(p), t).Z <= 0 {
			return false
		}
	}
	return true
}

// refinePose minimises the pixel reprojection error over the rotation
// vector and translation with a damped Gauss-Newton iteration. Steps that
// would move any model point behind the camera are rejected, so a seed in
// front cannot slide onto the mirrored solution.
func refinePose(obj []r3.Vec, img []l1landmarks.Point, cam CameraModel, rvec, tvec r3.Vec) PoseSolution {
	n := len(obj)
	m := 2 * n

	residuals := func(dst, x []float64) {
		pts := projectWith(obj, Rodrigues(r3.Vec{X: x[0], Y: x[1], Z: x[2]}), r3.Vec{X: x[3], Y: x[4], Z: x[5]}, cam, nil)
		for i, p := range pts {
			dst[2*i] = p.X - img[i].X
			dst[2*i+1] = p.Y - img[i].Y
		}
	}

	params := []float64{rvec.X, rvec.Y, rvec.Z, tvec.X, tvec.Y, tvec.Z}
	r := make([]float64, m)
	residuals(r, params)
	cost := floats.Dot(r, r)

	jac := mat.NewDense(m, 6, nil)
	settings := &fd.JacobianSettings{Formula: fd.Central}
	trial := make([]float64, 6)
	rTrial := make([]float64, m)
	lambda := 1e-3

	iter := 0
	for ; iter < maxLMIterations; iter++ {
		fd.Jacobian(jac, residuals, params, settings)

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var g mat.VecDense
		g.MulVec(jac.T(), mat.NewVecDense(m, r))

		improved, converged := false, false
		for lambda < maxLMLambda {
			aug := mat.DenseCopyOf(&jtj)
			for k := 0; k < 6; k++ {
				d := jtj.At(k, k)
				aug.Set(k, k, d+lambda*math.Max(d, 1e-9))
			}
			var step mat.VecDense
			if err := step.SolveVec(aug, &g); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					lambda *= 10
					continue
				}
			}
			for k := range trial {
				trial[k] = params[k] - step.AtVec(k)
			}
			if !inFront(obj, trial) {
				lambda *= 10
				continue
			}
			residuals(rTrial, trial)
			trialCost := floats.Dot(rTrial, rTrial)
			if trialCost < cost {
				converged = cost-trialCost <= 1e-12*cost || mat.Norm(&step, 2) < 1e-12
				copy(params, trial)
				copy(r, rTrial)
				cost = trialCost
				lambda = math.Max(lambda/10, 1e-12)
				improved = true
				break
			}
			lambda *= 10
		}
		if !improved || converged {
			break
		}
	}

	rv := r3.Vec{X: params[0], Y: params[1], Z: params[2]}
	return PoseSolution{
		RVec:       rv,
		TVec:       r3.Vec{X: params[3], Y: params[4], Z: params[5]},
		Rotation:   Rodrigues(rv),
		RMS:        math.Sqrt(cost / float64(n)),
		Iterations: iter,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
