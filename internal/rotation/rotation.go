// Package rotation implements the SO(3) manifold operations the ESKF
// needs: the exponential and logarithm maps between axis-angle vectors
// and rotation matrices, and the small set of matrix operations built
// on top of them.
//
// Ported from the Rodrigues-formula implementation in this project's
// reference math utilities; the singularity guards (tiny angle, trace
// near 3) match that implementation's thresholds exactly.
package rotation

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Vec3 is a body- or world-frame 3-vector (angular velocity, specific
// force, position, velocity, ...).
type Vec3 struct {
	X, Y, Z float64
}

func NewVec3(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) toVecDense() *mat.VecDense {
	return mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
}

func vecFromDense(d *mat.VecDense) Vec3 {
	return Vec3{d.AtVec(0), d.AtVec(1), d.AtVec(2)}
}

// Matrix is a 3x3 rotation matrix (or, for Hat, a skew-symmetric
// matrix used only as an intermediate).
type Matrix struct {
	d *mat.Dense
}

// Identity returns the 3x3 identity rotation.
func Identity() Matrix {
	d := mat.NewDense(3, 3, nil)
	d.Set(0, 0, 1)
	d.Set(1, 1, 1)
	d.Set(2, 2, 1)
	return Matrix{d: d}
}

// FromDense wraps a raw 3x3 gonum matrix as a Matrix. Callers that
// build R by hand (e.g. the ESKF's installation-rotation builder) use
// this escape hatch.
func FromDense(d *mat.Dense) Matrix {
	r, c := d.Dims()
	if r != 3 || c != 3 {
		panic("rotation: FromDense requires a 3x3 matrix")
	}
	return Matrix{d: mat.DenseCopyOf(d)}
}

// Dense exposes the underlying 3x3 matrix, for callers (the ESKF) that
// need to slot it into a larger block matrix.
func (m Matrix) Dense() *mat.Dense { return m.d }

func (m Matrix) At(i, j int) float64 { return m.d.At(i, j) }

// Mul returns m * o.
func (m Matrix) Mul(o Matrix) Matrix {
	var out mat.Dense
	out.Mul(m.d, o.d)
	return Matrix{d: &out}
}

// MulVec returns m * v.
func (m Matrix) MulVec(v Vec3) Vec3 {
	var out mat.VecDense
	out.MulVec(m.d, v.toVecDense())
	return vecFromDense(&out)
}

// Transpose returns m^T.
func (m Matrix) Transpose() Matrix {
	var out mat.Dense
	out.CloneFrom(m.d.T())
	return Matrix{d: &out}
}

// Hat returns the skew-symmetric cross-product matrix [v]x such that
// Hat(v) * w == v.Cross(w) for all w.
func Hat(v Vec3) Matrix {
	d := mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
	return Matrix{d: d}
}

// Cross returns v x o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Hat(v).MulVec(o)
}

const expSingularityEps = 1e-7
const logSingularityEps = 0.001

// Exp is the SO(3) exponential map: Exp(ang) where ang is an
// axis-angle vector (direction = rotation axis, magnitude = rotation
// angle in radians).
func Exp(ang Vec3) Matrix {
	angNorm := ang.Norm()
	if angNorm <= expSingularityEps {
		return Identity()
	}
	axis := ang.Scale(1.0 / angNorm)
	k := Hat(axis)
	kk := k.Mul(k)
	id := Identity()
	term1 := scaleMatrix(k, math.Sin(angNorm))
	term2 := scaleMatrix(kk, 1.0-math.Cos(angNorm))
	return addMatrices(addMatrices(id, term1), term2)
}

// ExpDt is the SO(3) exponential map applied to an angular velocity
// integrated over dt: Exp(angVel * dt).
func ExpDt(angVel Vec3, dt float64) Matrix {
	return Exp(angVel.Scale(dt))
}

// Log is the SO(3) logarithm map, the inverse of Exp: it returns the
// axis-angle vector corresponding to a rotation matrix.
func Log(r Matrix) Vec3 {
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	var theta float64
	if trace > 3.0-1e-6 {
		theta = 0.0
	} else {
		theta = math.Acos(0.5 * (trace - 1))
	}
	k := Vec3{
		X: r.At(2, 1) - r.At(1, 2),
		Y: r.At(0, 2) - r.At(2, 0),
		Z: r.At(1, 0) - r.At(0, 1),
	}
	if math.Abs(theta) < logSingularityEps {
		return k.Scale(0.5)
	}
	return k.Scale(0.5 * theta / math.Sin(theta))
}

// Rz builds the rotation about the vertical (world Z) axis by the
// given angle in radians, roll = pitch = 0. Used by the coordinate
// adapter to turn a GNSS heading into a full attitude.
func Rz(angle float64) Matrix {
	c, s := math.Cos(angle), math.Sin(angle)
	d := mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
	return Matrix{d: d}
}

// IsProper reports whether m is a proper rotation (orthogonal, unit
// determinant) within tol — used by tests asserting the universal
// invariant that R stays on SO(3).
func (m Matrix) IsProper(tol float64) bool {
	rt := m.Transpose()
	prod := rt.Mul(m)
	id := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(prod.At(i, j)-id.At(i, j)) > tol {
				return false
			}
		}
	}
	det := m.At(0, 0)*(m.At(1, 1)*m.At(2, 2)-m.At(1, 2)*m.At(2, 1)) -
		m.At(0, 1)*(m.At(1, 0)*m.At(2, 2)-m.At(1, 2)*m.At(2, 0)) +
		m.At(0, 2)*(m.At(1, 0)*m.At(2, 1)-m.At(1, 1)*m.At(2, 0))
	return math.Abs(det-1.0) <= tol
}

func scaleMatrix(m Matrix, s float64) Matrix {
	var out mat.Dense
	out.Scale(s, m.d)
	return Matrix{d: &out}
}

func addMatrices(a, b Matrix) Matrix {
	var out mat.Dense
	out.Add(a.d, b.d)
	return Matrix{d: &out}
}
