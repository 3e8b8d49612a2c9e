package l2metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

// Identity3 returns the 3x3 identity.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Mul returns m*n.
func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return out
}

// MulVec returns m*v.
func (m Mat3) MulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// T returns the transpose of m.
func (m Mat3) T() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Det returns the determinant of m.
func (m Mat3) Det() float64 {
	return mat.Det(m.Dense())
}

// Dense converts m to a gonum matrix.
func (m Mat3) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

func mat3FromDense(d mat.Matrix) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = d.At(i, j)
		}
	}
	return out
}

// RotX, RotY and RotZ return right-handed rotations by rad radians.
func RotX(rad float64) Mat3 {
	s, c := math.Sincos(rad)
	return Mat3{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

func RotY(rad float64) Mat3 {
	s, c := math.Sincos(rad)
	return Mat3{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

func RotZ(rad float64) Mat3 {
	s, c := math.Sincos(rad)
	return Mat3{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

// Rodrigues converts an axis-angle rotation vector to a rotation matrix.
func Rodrigues(rvec r3.Vec) Mat3 {
	theta := r3.Norm(rvec)
	if theta < 1e-12 {
		// first-order expansion around the identity
		return Mat3{
			{1, -rvec.Z, rvec.Y},
			{rvec.Z, 1, -rvec.X},
			{-rvec.Y, rvec.X, 1},
		}
	}
	k := r3.Scale(1/theta, rvec)
	s, c := math.Sincos(theta)
	cc := 1 - c
	return Mat3{
		{c + cc*k.X*k.X, cc*k.X*k.Y - s*k.Z, cc*k.X*k.Z + s*k.Y},
		{cc*k.Y*k.X + s*k.Z, c + cc*k.Y*k.Y, cc*k.Y*k.Z - s*k.X},
		{cc*k.Z*k.X - s*k.Y, cc*k.Z*k.Y + s*k.X, c + cc*k.Z*k.Z},
	}
}

// RodriguesVector converts a rotation matrix to its axis-angle vector.
// The angle is in [0, pi].
func RodriguesVector(r Mat3) r3.Vec {
	v := r3.Vec{
		X: r[2][1] - r[1][2],
		Y: r[0][2] - r[2][0],
		Z: r[1][0] - r[0][1],
	}
	s := math.Sqrt((v.X*v.X + v.Y*v.Y + v.Z*v.Z) * 0.25)
	c := (r[0][0] + r[1][1] + r[2][2] - 1) * 0.5
	c = math.Max(-1, math.Min(1, c))
	theta := math.Acos(c)

	if s >= 1e-5 {
		return r3.Scale(theta/(2*s), v)
	}
	if c > 0 {
		return r3.Vec{}
	}

	// theta close to pi: recover the axis from the symmetric part.
	axis := r3.Vec{
		X: math.Sqrt(math.Max((r[0][0]+1)*0.5, 0)),
		Y: math.Sqrt(math.Max((r[1][1]+1)*0.5, 0)),
		Z: math.Sqrt(math.Max((r[2][2]+1)*0.5, 0)),
	}
	if r[0][1] < 0 {
		axis.Y = -axis.Y
	}
	if r[0][2] < 0 {
		axis.Z = -axis.Z
	}
	if math.Abs(axis.X) < math.Abs(axis.Y) && math.Abs(axis.X) < math.Abs(axis.Z) &&
		(r[1][2] > 0) != (axis.Y*axis.Z > 0) {
		axis.Z = -axis.Z
	}
	n := r3.Norm(axis)
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(theta/n, axis)
}

// DecomposeEuler splits a rotation (or the left 3x3 block of a projection
// matrix) into Givens rotations about X, Y and Z by RQ decomposition and
// returns the three angles in degrees, in that order. Angles follow the
// projection-matrix decomposition convention, so a camera facing a subject
// reports roll near +/-180; see NormalizeAngle.
func DecomposeEuler(m Mat3) [3]float64 {
	const eps = 1e-300

	// Zero out m[2][1] with a rotation about X.
	s, c := m[2][1], m[2][2]
	z := 1 / math.Sqrt(c*c+s*s+eps)
	c, s = c*z, s*z
	qx := Mat3{{1, 0, 0}, {0, c, s}, {0, -s, c}}
	m = m.Mul(qx)

	// Zero out m[2][0] with a rotation about Y.
	s, c = -m[2][0], m[2][2]
	z = 1 / math.Sqrt(c*c+s*s+eps)
	c, s = c*z, s*z
	qy := Mat3{{c, 0, -s}, {0, 1, 0}, {s, 0, c}}
	m = m.Mul(qy)

	// Zero out m[1][0] with a rotation about Z.
	s, c = m[1][0], m[1][1]
	z = 1 / math.Sqrt(c*c+s*s+eps)
	c, s = c*z, s*z
	qz := Mat3{{c, s, 0}, {-s, c, 0}, {0, 0, 1}}
	m = m.Mul(qz)

	// Resolve the sign ambiguity so the upper-triangular factor has a
	// positive diagonal.
	if m[0][0] < 0 {
		if m[1][1] < 0 {
			qz[0][0], qz[0][1], qz[1][0], qz[1][1] = -qz[0][0], -qz[0][1], -qz[1][0], -qz[1][1]
		} else {
			qz = qz.T()
			qy[0][0], qy[0][2], qy[2][0], qy[2][2] = -qy[0][0], -qy[0][2], -qy[2][0], -qy[2][2]
		}
	} else if m[1][1] < 0 {
		qz = qz.T()
		qy = qy.T()
		qx[1][1], qx[1][2], qx[2][1], qx[2][2] = -qx[1][1], -qx[1][2], -qx[2][1], -qx[2][2]
	}

	return [3]float64{
		signedAcos(qx[1][1], qx[1][2]),
		signedAcos(qy[0][0], qy[2][0]),
		signedAcos(qz[0][0], qz[0][1]),
	}
}

func signedAcos(c, s float64) float64 {
	c = math.Max(-1, math.Min(1, c))
	deg := math.Acos(c) * 180 / math.Pi
	if s < 0 {
		return -deg
	}
	return deg
}

// NormalizeAngle folds an angle in degrees into [-90, 90] via
// asin(sin(a)). It removes the 180 degree ambiguity of DecomposeEuler
// at the cost of reflecting angles past 90 degrees.
func NormalizeAngle(deg float64) float64 {
	return math.Asin(math.Sin(deg*math.Pi/180)) * 180 / math.Pi
}
