package protocol

import (
	"math"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/zeusync/relpose/internal/core/systems/physics"
	"github.com/zeusync/relpose/internal/core/tracking"
)

// PoseFrame is one world-frame sample as sent by a device publisher.
// Orientation is [w, x, y, z]. Timestamp is unix nanoseconds; zero means
// "stamp on receipt". Tracked defaults to true when omitted.
type PoseFrame struct {
	Device      string     `json:"device" yaml:"device"`
	Class       string     `json:"class,omitempty" yaml:"class,omitempty"`
	Serial      string     `json:"serial,omitempty" yaml:"serial,omitempty"`
	Position    [3]float64 `json:"position" yaml:"position"`
	Orientation [4]float64 `json:"orientation" yaml:"orientation"`
	Tracked     *bool      `json:"tracked,omitempty" yaml:"tracked,omitempty"`
	Timestamp   int64      `json:"ts,omitempty" yaml:"ts,omitempty"`
}

// LostFrame reports that a device stopped being tracked.
type LostFrame struct {
	Device string `json:"device"`
}

// AckFrame acknowledges the number of frames accepted on a connection.
type AckFrame struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// HelloFrame is the first envelope on a QUIC ingest stream.
type HelloFrame struct {
	Client string `json:"client,omitempty"`
	Token  string `json:"token,omitempty"`
}

// IsTracked reports the tracked flag, defaulting to true.
func (f PoseFrame) IsTracked() bool {
	return f.Tracked == nil || *f.Tracked
}

// Validate checks the frame can be turned into a pose. Orientation norm is
// only checked for degeneracy; normalization happens in the transform layer.
func (f PoseFrame) Validate() error {
	if strings.TrimSpace(f.Device) == "" {
		return errors.Wrap(ErrInvalidFrame, "missing device name")
	}
	for i, v := range f.Position {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrInvalidFrame, "%s: position[%d] is not finite", f.Device, i)
		}
	}
	if !f.IsTracked() {
		return nil
	}
	q := physics.NewQuat(f.Orientation[0], f.Orientation[1], f.Orientation[2], f.Orientation[3])
	if _, err := physics.Normalize(q); err != nil {
		return errors.Wrapf(ErrInvalidFrame, "%s: %v", f.Device, err)
	}
	return nil
}

// ToPose converts the frame, stamping it with received when it carries no timestamp.
func (f PoseFrame) ToPose(received time.Time) tracking.Pose {
	sampled := received
	if f.Timestamp != 0 {
		sampled = time.Unix(0, f.Timestamp)
	}
	return tracking.Pose{
		Device:      f.Device,
		Position:    r3.Vector{X: f.Position[0], Y: f.Position[1], Z: f.Position[2]},
		Orientation: physics.NewQuat(f.Orientation[0], f.Orientation[1], f.Orientation[2], f.Orientation[3]),
		SampledAt:   sampled,
	}
}

// FrameFromPose is the inverse of ToPose.
func FrameFromPose(p tracking.Pose) PoseFrame {
	f := PoseFrame{
		Device:      p.Device,
		Position:    [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
		Orientation: [4]float64{p.Orientation.Real, p.Orientation.Imag, p.Orientation.Jmag, p.Orientation.Kmag},
	}
	if !p.SampledAt.IsZero() {
		f.Timestamp = p.SampledAt.UnixNano()
	}
	return f
}

// ReadingFrame is the JSON view of a tracking.Reading.
type ReadingFrame struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Reference   string     `json:"reference"`
	Position    [3]float64 `json:"position"`
	Distance    float64    `json:"distance"`
	Orientation [4]float64 `json:"orientation"`
	SkewMillis  float64    `json:"skew_ms"`
	ComputedAt  time.Time  `json:"computed_at"`
}

func NewReadingFrame(r tracking.Reading) ReadingFrame {
	return ReadingFrame{
		ID:          r.ID.String(),
		Subject:     r.Subject,
		Reference:   r.Reference,
		Position:    [3]float64{r.Position.X, r.Position.Y, r.Position.Z},
		Distance:    r.Distance,
		Orientation: [4]float64{r.Orientation.Real, r.Orientation.Imag, r.Orientation.Jmag, r.Orientation.Kmag},
		SkewMillis:  float64(r.Skew().Microseconds()) / 1000,
		ComputedAt:  r.ComputedAt,
	}
}

// FailureFrame reports a cycle that produced no reading.
type FailureFrame struct {
	Subject   string    `json:"subject"`
	Reference string    `json:"reference"`
	Devices   []string  `json:"devices,omitempty"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

func NewFailureFrame(f tracking.Failure) FailureFrame {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return FailureFrame{
		Subject:   f.Subject,
		Reference: f.Reference,
		Devices:   f.Devices,
		Error:     msg,
		At:        f.At,
	}
}
