// Package sim provides a synthetic pose source: devices that sit still,
// orbit a point or spin in place, driven by a clock.
package sim

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/zeusync/relpose/internal/core/systems/physics"
	"github.com/zeusync/relpose/internal/core/tracking"
)

var _ tracking.Source = (*Source)(nil)

// Orbit moves a device on a circle in the XY plane around its Center.
type Orbit struct {
	Radius float64       `json:"radius" yaml:"radius"`
	Period time.Duration `json:"period" yaml:"period"`
}

// Dropout makes a device lose tracking for For out of every Every.
type Dropout struct {
	Every time.Duration `json:"every" yaml:"every"`
	For   time.Duration `json:"for" yaml:"for"`
}

// DeviceSpec describes one simulated device.
type DeviceSpec struct {
	Name   string `json:"name" yaml:"name"`
	Class  string `json:"class,omitempty" yaml:"class,omitempty"`
	Serial string `json:"serial,omitempty" yaml:"serial,omitempty"`

	Center [3]float64 `json:"center" yaml:"center"`
	// Orientation is the initial orientation [w, x, y, z]; zero means identity.
	Orientation [4]float64 `json:"orientation,omitempty" yaml:"orientation,omitempty"`
	// YawRate spins the device about world Z, in radians per second.
	YawRate float64 `json:"yaw_rate,omitempty" yaml:"yaw_rate,omitempty"`

	Orbit   *Orbit   `json:"orbit,omitempty" yaml:"orbit,omitempty"`
	Dropout *Dropout `json:"dropout,omitempty" yaml:"dropout,omitempty"`
}

// DefaultDevices mirrors a typical desk setup: a fixed tracker and a
// controller circling it.
func DefaultDevices() []DeviceSpec {
	return []DeviceSpec{
		{
			Name:        "tracker_1",
			Class:       "tracker",
			Center:      [3]float64{0, 0, 1},
			Orientation: [4]float64{math.Cos(math.Pi / 4), 0, 0, math.Sin(math.Pi / 4)},
		},
		{
			Name:    "controller_1",
			Class:   "controller",
			Center:  [3]float64{0, 0, 1},
			YawRate: 0.5,
			Orbit:   &Orbit{Radius: 0.5, Period: 8 * time.Second},
		},
	}
}

// Option configures a Source.
type Option func(*Source)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.now = now }
}

// Source computes poses from DeviceSpecs at Update time.
type Source struct {
	specs []DeviceSpec
	now   func() time.Time
	start time.Time

	mu      sync.RWMutex
	current map[string]tracking.Pose
	tracked map[string]bool
}

func NewSource(specs []DeviceSpec, opts ...Option) *Source {
	s := &Source{
		specs:   append([]DeviceSpec(nil), specs...),
		now:     time.Now,
		current: make(map[string]tracking.Pose, len(specs)),
		tracked: make(map[string]bool, len(specs)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.start = s.now()
	sort.Slice(s.specs, func(i, j int) bool { return s.specs[i].Name < s.specs[j].Name })
	return s
}

func (s *Source) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.now()
	elapsed := now.Sub(s.start)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range s.specs {
		s.current[spec.Name] = spec.poseAt(elapsed, now)
		s.tracked[spec.Name] = spec.trackedAt(elapsed)
	}
	return nil
}

func (s *Source) Pose(_ context.Context, device string) (tracking.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.current[device]
	if !ok {
		if s.known(device) {
			return tracking.Pose{}, &tracking.DeviceError{Device: device, Err: tracking.ErrDeviceNotTracked}
		}
		return tracking.Pose{}, &tracking.DeviceError{Device: device, Err: tracking.ErrDeviceUnknown}
	}
	if !s.tracked[device] {
		return tracking.Pose{}, &tracking.DeviceError{Device: device, Err: tracking.ErrDeviceNotTracked}
	}
	return p, nil
}

func (s *Source) Devices(_ context.Context) ([]tracking.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]tracking.Device, 0, len(s.specs))
	for _, spec := range s.specs {
		tracked, updated := s.tracked[spec.Name]
		out = append(out, tracking.Device{
			Name:    spec.Name,
			Class:   spec.Class,
			Serial:  spec.Serial,
			Tracked: tracked || !updated,
		})
	}
	return out, nil
}

func (s *Source) known(device string) bool {
	for _, spec := range s.specs {
		if spec.Name == device {
			return true
		}
	}
	return false
}

func (d DeviceSpec) poseAt(elapsed time.Duration, now time.Time) tracking.Pose {
	pos := r3.Vector{X: d.Center[0], Y: d.Center[1], Z: d.Center[2]}
	if d.Orbit != nil && d.Orbit.Period > 0 {
		phase := 2 * math.Pi * elapsed.Seconds() / d.Orbit.Period.Seconds()
		pos = pos.Add(r3.Vector{X: d.Orbit.Radius * math.Cos(phase), Y: d.Orbit.Radius * math.Sin(phase)})
	}

	q := physics.IdentityQuat()
	if d.Orientation != [4]float64{} {
		q = physics.NewQuat(d.Orientation[0], d.Orientation[1], d.Orientation[2], d.Orientation[3])
	}
	if d.YawRate != 0 {
		yaw := physics.QuatFromAxisAngle(r3.Vector{Z: 1}, d.YawRate*elapsed.Seconds())
		q = quat.Mul(yaw, q)
	}

	return tracking.Pose{
		Device:      d.Name,
		Position:    pos,
		Orientation: q,
		SampledAt:   now,
	}
}

func (d DeviceSpec) trackedAt(elapsed time.Duration) bool {
	if d.Dropout == nil || d.Dropout.Every <= 0 || d.Dropout.For <= 0 {
		return true
	}
	return elapsed%d.Dropout.Every >= d.Dropout.For
}
