package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"github.com/zeusync/relpose/internal/core/systems/physics"
)

// RelativePosition returns the subject's position in the reference's local
// frame. Both devices are queried every call; if either query or conversion
// fails the error names each failing device and the vector is meaningless.
func RelativePosition(ctx context.Context, q PoseQuerier, subject, reference string) (r3.Vector, error) {
	rel, _, _, err := relativeTransform(ctx, q, subject, reference)
	if err != nil {
		return r3.Vector{}, err
	}
	return rel.Translation(), nil
}

// RelativePose runs the same pipeline as RelativePosition and packages the
// outcome, including the relative orientation, as a Reading.
func RelativePose(ctx context.Context, q PoseQuerier, subject, reference string) (Reading, error) {
	rel, subPose, refPose, err := relativeTransform(ctx, q, subject, reference)
	if err != nil {
		return Reading{}, err
	}

	position := rel.Translation()
	return Reading{
		ID:                 uuid.New(),
		Subject:            subject,
		Reference:          reference,
		Position:           position,
		Distance:           Distance(position),
		Orientation:        rel.Orientation(),
		SubjectSampledAt:   subPose.SampledAt,
		ReferenceSampledAt: refPose.SampledAt,
		ComputedAt:         time.Now(),
	}, nil
}

// Distance is sqrt(x²+y²+z²) of a relative position.
func Distance(v r3.Vector) float64 {
	return physics.Distance(v)
}

func relativeTransform(ctx context.Context, q PoseQuerier, subject, reference string) (physics.Transform, Pose, Pose, error) {
	subPose, subErr := q.Pose(ctx, subject)
	refPose, refErr := q.Pose(ctx, reference)

	var subWorld, refWorld physics.Transform
	if subErr == nil {
		subWorld, subErr = physics.TransformOf(subPose)
	}
	if refErr == nil {
		refWorld, refErr = physics.TransformOf(refPose)
	}

	if subErr != nil || refErr != nil {
		return physics.Transform{}, Pose{}, Pose{}, errors.Join(
			deviceError(subject, "subject", subErr),
			deviceError(reference, "reference", refErr),
		)
	}

	return physics.Relative(refWorld, subWorld), subPose, refPose, nil
}

func deviceError(device, role string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) && de.Device == device {
		return &DeviceError{Device: device, Role: role, Err: de.Err}
	}
	return &DeviceError{Device: device, Role: role, Err: err}
}
