// Package tracking turns world-frame device poses into the position of one
// device in another device's local frame.
package tracking

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/num/quat"

	"github.com/zeusync/relpose/internal/core/systems/physics"
)

var _ physics.Posed = Pose{}

// Pose is one world-frame sample of a named device.
// Orientation is [w, x, y, z] with Real = w.
type Pose struct {
	Device      string
	Position    r3.Vector
	Orientation quat.Number
	SampledAt   time.Time
}

func (p Pose) WorldPosition() r3.Vector      { return p.Position }
func (p Pose) WorldOrientation() quat.Number { return p.Orientation }

// Device describes a device known to a Source.
type Device struct {
	Name    string `json:"name" yaml:"name"`
	Class   string `json:"class,omitempty" yaml:"class,omitempty"`
	Serial  string `json:"serial,omitempty" yaml:"serial,omitempty"`
	Tracked bool   `json:"tracked" yaml:"tracked"`
}

// PoseQuerier answers "where is this device right now" in world frame.
// Pose must not block on hardware; it reads whatever Update last refreshed.
type PoseQuerier interface {
	Pose(ctx context.Context, device string) (Pose, error)
}

// Source is a refreshable pose provider.
type Source interface {
	PoseQuerier

	// Update refreshes the poses returned by Pose. It is called once per cycle
	// before any query.
	Update(ctx context.Context) error

	// Devices lists every device the source currently knows about.
	Devices(ctx context.Context) ([]Device, error)
}

// Reading is the outcome of one successful cycle.
type Reading struct {
	ID        uuid.UUID
	Subject   string
	Reference string

	// Position is the subject's position in the reference frame, in meters.
	Position r3.Vector
	// Distance is the norm of Position.
	Distance float64
	// Orientation is the subject's orientation relative to the reference.
	Orientation quat.Number

	SubjectSampledAt   time.Time
	ReferenceSampledAt time.Time
	ComputedAt         time.Time
}

// Skew is the time between the two samples the reading was built from.
func (r Reading) Skew() time.Duration {
	d := r.SubjectSampledAt.Sub(r.ReferenceSampledAt)
	if d < 0 {
		return -d
	}
	return d
}

// Failure is the outcome of a cycle that produced no reading.
type Failure struct {
	Subject   string
	Reference string
	// Devices lists every device the error refers to.
	Devices []string
	Err     error
	At      time.Time
}

// NewFailure describes err as a failed subject/reference cycle.
func NewFailure(subject, reference string, err error) Failure {
	return Failure{
		Subject:   subject,
		Reference: reference,
		Devices:   FailedDevices(err),
		Err:       err,
		At:        time.Now(),
	}
}
