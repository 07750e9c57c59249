package physics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// MinQuatNorm is the smallest quaternion norm FromPose will normalize.
// Anything shorter carries no usable orientation.
const MinQuatNorm = 1e-9

// NewQuat builds a quaternion from [w, x, y, z] components.
func NewQuat(w, x, y, z float64) quat.Number {
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// IdentityQuat is the zero rotation.
func IdentityQuat() quat.Number {
	return quat.Number{Real: 1}
}

// QuatFromAxisAngle returns the unit quaternion rotating by angle radians
// about axis. A zero axis yields the identity.
func QuatFromAxisAngle(axis r3.Vector, angle float64) quat.Number {
	n := axis.Norm()
	if n == 0 {
		return IdentityQuat()
	}
	s := math.Sin(angle/2) / n
	return quat.Number{
		Real: math.Cos(angle / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// Normalize scales q to unit norm.
func Normalize(q quat.Number) (quat.Number, error) {
	if !finite(q.Real) || !finite(q.Imag) || !finite(q.Jmag) || !finite(q.Kmag) {
		return quat.Number{}, fmt.Errorf("%w: non-finite component in %v", ErrDegenerateQuaternion, q)
	}
	n := quat.Abs(q)
	if n < MinQuatNorm {
		return quat.Number{}, fmt.Errorf("%w: norm %g", ErrDegenerateQuaternion, n)
	}
	if n == 1 {
		return q, nil
	}
	return quat.Scale(1/n, q), nil
}
