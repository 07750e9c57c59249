package physics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Transform is a rigid transform [R | t] stored as a 3x4 row-major matrix.
// Columns 0..2 hold the rotation block R, column 3 the translation t.
//
// Transforms are values: every operation returns a new Transform and never
// mutates its receiver.
type Transform [3][4]float64

// Identity returns the transform with R = I and t = 0.
func Identity() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
}

// FromPose builds the world transform of a pose sample.
//
// The quaternion is [w, x, y, z] with Real = w. It is normalized before the
// rotation block is derived so that R is orthonormal and Inverse stays exact.
// Quaternions with a norm below MinQuatNorm or with non-finite components
// return ErrDegenerateQuaternion; a non-finite position returns ErrNonFinitePose.
func FromPose(position r3.Vector, q quat.Number) (Transform, error) {
	if !finiteVector(position) {
		return Transform{}, fmt.Errorf("%w: position %v", ErrNonFinitePose, position)
	}
	n, err := Normalize(q)
	if err != nil {
		return Transform{}, err
	}

	w, x, y, z := n.Real, n.Imag, n.Jmag, n.Kmag

	return Transform{
		{1 - 2*y*y - 2*z*z, 2*x*y - 2*w*z, 2*x*z + 2*w*y, position.X},
		{2*x*y + 2*w*z, 1 - 2*x*x - 2*z*z, 2*y*z - 2*w*x, position.Y},
		{2*x*z - 2*w*y, 2*y*z + 2*w*x, 1 - 2*x*x - 2*y*y, position.Z},
	}, nil
}

// MustFromPose is FromPose that panics on error.
func MustFromPose(position r3.Vector, q quat.Number) Transform {
	t, err := FromPose(position, q)
	if err != nil {
		panic(err)
	}
	return t
}

// Inverse returns [Rᵗ | -Rᵗ·t].
//
// This is the exact inverse only when R is orthonormal, which holds for every
// Transform produced by FromPose. Hand-built transforms can be checked with IsRigid.
func (t Transform) Inverse() Transform {
	var out Transform

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = t[j][i]
		}
	}

	for i := 0; i < 3; i++ {
		out[i][3] = 0
		for j := 0; j < 3; j++ {
			out[i][3] -= out[i][j] * t[j][3]
		}
	}

	return out
}

// Compose returns t ∘ o = [Rt·Ro | Rt·po + pt]: apply o first, then t.
//
// For world transforms, Inverse(reference).Compose(subject) is the subject
// expressed in the reference frame. Swapping the operands gives a different frame.
func (t Transform) Compose(o Transform) Transform {
	var out Transform

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += t[i][k] * o[k][j]
			}
		}
	}

	for i := 0; i < 3; i++ {
		out[i][3] = t[i][3]
		for j := 0; j < 3; j++ {
			out[i][3] += t[i][j] * o[j][3]
		}
	}

	return out
}

// Translation returns column 3 unchanged.
func (t Transform) Translation() r3.Vector {
	return r3.Vector{X: t[0][3], Y: t[1][3], Z: t[2][3]}
}

// Rotation returns the 3x3 rotation block.
func (t Transform) Rotation() [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[i][j]
		}
	}
	return r
}

// Apply maps a point through the transform: R·p + t.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t[0][0]*p.X + t[0][1]*p.Y + t[0][2]*p.Z + t[0][3],
		Y: t[1][0]*p.X + t[1][1]*p.Y + t[1][2]*p.Z + t[1][3],
		Z: t[2][0]*p.X + t[2][1]*p.Y + t[2][2]*p.Z + t[2][3],
	}
}

// Orientation recovers the unit quaternion of the rotation block, with w >= 0.
func (t Transform) Orientation() quat.Number {
	r := t.Rotation()
	trace := r[0][0] + r[1][1] + r[2][2]

	var q quat.Number
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{
			Real: 0.25 * s,
			Imag: (r[2][1] - r[1][2]) / s,
			Jmag: (r[0][2] - r[2][0]) / s,
			Kmag: (r[1][0] - r[0][1]) / s,
		}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := math.Sqrt(1+r[0][0]-r[1][1]-r[2][2]) * 2
		q = quat.Number{
			Real: (r[2][1] - r[1][2]) / s,
			Imag: 0.25 * s,
			Jmag: (r[0][1] + r[1][0]) / s,
			Kmag: (r[0][2] + r[2][0]) / s,
		}
	case r[1][1] > r[2][2]:
		s := math.Sqrt(1+r[1][1]-r[0][0]-r[2][2]) * 2
		q = quat.Number{
			Real: (r[0][2] - r[2][0]) / s,
			Imag: (r[0][1] + r[1][0]) / s,
			Jmag: 0.25 * s,
			Kmag: (r[1][2] + r[2][1]) / s,
		}
	default:
		s := math.Sqrt(1+r[2][2]-r[0][0]-r[1][1]) * 2
		q = quat.Number{
			Real: (r[1][0] - r[0][1]) / s,
			Imag: (r[0][2] + r[2][0]) / s,
			Jmag: (r[1][2] + r[2][1]) / s,
			Kmag: 0.25 * s,
		}
	}

	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	return q
}

// IsRigid reports whether R·Rᵗ = I and det(R) = +1 within tol.
func (t Transform) IsRigid(tol float64) bool {
	r := t.Rotation()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dot float64
			for k := 0; k < 3; k++ {
				dot += r[i][k] * r[j][k]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > tol {
				return false
			}
		}
	}
	return math.Abs(determinant(r)-1) <= tol
}

// ApproxEqual compares every element within tol.
func (t Transform) ApproxEqual(o Transform, tol float64) bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(t[i][j]-o[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

func (t Transform) String() string {
	return fmt.Sprintf("[% .4f % .4f % .4f | % .4f]\n[% .4f % .4f % .4f | % .4f]\n[% .4f % .4f % .4f | % .4f]",
		t[0][0], t[0][1], t[0][2], t[0][3],
		t[1][0], t[1][1], t[1][2], t[1][3],
		t[2][0], t[2][1], t[2][2], t[2][3])
}

func determinant(r [3][3]float64) float64 {
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}

func finiteVector(v r3.Vector) bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
