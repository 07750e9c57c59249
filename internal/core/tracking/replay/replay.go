// Package replay plays back recorded pose traces, one frame per Update.
package replay

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/relpose/internal/core/protocol"
	"github.com/zeusync/relpose/internal/core/tracking"
)

var _ tracking.Source = (*Source)(nil)

// ErrTraceExhausted is returned by Update after the last frame of a
// non-looping trace.
var ErrTraceExhausted = errors.Wrap(tracking.ErrSourceExhausted, "trace")

// Trace is a recorded sequence of frames. Frames are incremental: a device
// keeps its last pose until a later frame updates it.
type Trace struct {
	Name   string  `json:"name,omitempty" yaml:"name,omitempty"`
	Loop   bool    `json:"loop,omitempty" yaml:"loop,omitempty"`
	Frames []Frame `json:"frames" yaml:"frames"`
}

// Frame groups the samples recorded at one instant. At is the offset from
// the start of the recording (nanoseconds in JSON, duration strings in YAML).
type Frame struct {
	At    time.Duration        `json:"at" yaml:"at"`
	Poses []protocol.PoseFrame `json:"poses" yaml:"poses"`
}

// LoadYAML loads a trace from a YAML reader.
func LoadYAML(r io.Reader) (*Trace, error) {
	var t Trace
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&t); err != nil {
		return nil, errors.Wrap(err, "decode yaml trace")
	}
	return &t, t.Validate()
}

// LoadJSON loads a trace from a JSON reader.
func LoadJSON(r io.Reader) (*Trace, error) {
	var t Trace
	dec := json.NewDecoder(r)
	if err := dec.Decode(&t); err != nil {
		return nil, errors.Wrap(err, "decode json trace")
	}
	return &t, t.Validate()
}

// LoadFile picks the decoder from the file extension (.json, else YAML).
func LoadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open trace %s", path)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(f)
	}
	return LoadYAML(f)
}

// Validate checks every frame and that frames are in time order.
func (t *Trace) Validate() error {
	if len(t.Frames) == 0 {
		return errors.New("trace has no frames")
	}
	for i, fr := range t.Frames {
		if i > 0 && fr.At < t.Frames[i-1].At {
			return errors.Errorf("frame %d: at %s is before previous frame", i, fr.At)
		}
		for _, p := range fr.Poses {
			if err := p.Validate(); err != nil {
				return errors.Wrapf(err, "frame %d", i)
			}
		}
	}
	return nil
}

type state struct {
	frame   protocol.PoseFrame
	tracked bool
}

// Source replays a Trace.
type Source struct {
	trace *Trace
	start time.Time

	mu      sync.RWMutex
	next    int
	pass    int
	devices map[string]state
}

func NewSource(t *Trace) *Source {
	return &Source{
		trace:   t,
		start:   time.Now(),
		devices: make(map[string]state),
	}
}

// Update applies the next frame.
func (s *Source) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.trace.Frames) {
		if !s.trace.Loop {
			return ErrTraceExhausted
		}
		s.next = 0
		s.pass++
		s.devices = make(map[string]state)
	}

	fr := s.trace.Frames[s.next]
	s.next++
	for _, p := range fr.Poses {
		s.devices[p.Device] = state{frame: p, tracked: p.IsTracked()}
	}
	return nil
}

func (s *Source) Pose(_ context.Context, device string) (tracking.Pose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.devices[device]
	if !ok {
		return tracking.Pose{}, &tracking.DeviceError{Device: device, Err: tracking.ErrDeviceUnknown}
	}
	if !st.tracked {
		return tracking.Pose{}, &tracking.DeviceError{Device: device, Err: tracking.ErrDeviceNotTracked}
	}

	p := st.frame.ToPose(s.frameTime())
	return p, nil
}

func (s *Source) Devices(_ context.Context) ([]tracking.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]tracking.Device)
	for _, fr := range s.trace.Frames {
		for _, p := range fr.Poses {
			if _, ok := seen[p.Device]; !ok {
				seen[p.Device] = tracking.Device{Name: p.Device, Class: p.Class, Serial: p.Serial, Tracked: true}
			}
		}
	}
	for name, st := range s.devices {
		d := seen[name]
		d.Tracked = st.tracked
		seen[name] = d
	}

	out := make([]tracking.Device, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Position returns how many frames were applied in the current pass and
// how many passes completed.
func (s *Source) Position() (frame, pass int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next, s.pass
}

func (s *Source) frameTime() time.Time {
	if s.next == 0 {
		return s.start
	}
	return s.start.Add(s.trace.Frames[s.next-1].At)
}
