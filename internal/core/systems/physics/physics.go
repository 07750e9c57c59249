// Package physics holds the rigid-transform algebra used to express one
// tracked device in another device's frame.
package physics

import (
	"errors"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

var (
	// ErrDegenerateQuaternion is returned for quaternions that cannot be normalized.
	ErrDegenerateQuaternion = errors.New("degenerate orientation quaternion")
	// ErrNonFinitePose is returned for positions containing NaN or Inf.
	ErrNonFinitePose = errors.New("non-finite pose")
)

// Posed is anything that reports a world-frame position and orientation.
type Posed interface {
	WorldPosition() r3.Vector
	WorldOrientation() quat.Number
}

// TransformOf builds the world transform of p.
func TransformOf(p Posed) (Transform, error) {
	return FromPose(p.WorldPosition(), p.WorldOrientation())
}

// Relative returns subject expressed in reference's local frame:
// Inverse(reference) ∘ subject.
func Relative(reference, subject Transform) Transform {
	return reference.Inverse().Compose(subject)
}

// Distance is the Euclidean norm of v.
func Distance(v r3.Vector) float64 { return v.Norm() }
