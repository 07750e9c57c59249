package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zeusync/relpose/internal/core/tracking"
)

var _ tracking.Source = (*Source)(nil)

// Source serves poses out of a Store. Update freezes a snapshot so that every
// query inside one cycle sees the same samples, while ingest keeps writing to
// the live store.
type Source struct {
	store  *Store
	maxAge time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	frozen   map[string]Entry
	frozenAt time.Time
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithMaxAge treats samples older than d (at Update time) as not tracked.
// Zero disables the check.
func WithMaxAge(d time.Duration) SourceOption {
	return func(s *Source) { s.maxAge = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SourceOption {
	return func(s *Source) { s.now = now }
}

func NewSource(st *Store, opts ...SourceOption) *Source {
	s := &Source{
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the live store ingest writes into.
func (s *Source) Store() *Store { return s.store }

func (s *Source) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := s.store.Snapshot()
	now := s.now()

	s.mu.Lock()
	s.frozen = snap
	s.frozenAt = now
	s.mu.Unlock()
	return nil
}

func (s *Source) Pose(_ context.Context, device string) (tracking.Pose, error) {
	s.mu.RLock()
	e, ok := s.frozen[device]
	at := s.frozenAt
	s.mu.RUnlock()

	if !ok {
		return tracking.Pose{}, &tracking.DeviceError{Device: device, Err: tracking.ErrDeviceUnknown}
	}
	if !e.Tracked {
		return tracking.Pose{}, &tracking.DeviceError{Device: device, Err: tracking.ErrDeviceNotTracked}
	}
	if age := s.age(e, at); s.maxAge > 0 && age > s.maxAge {
		return tracking.Pose{}, &tracking.DeviceError{
			Device: device,
			Err:    fmt.Errorf("%w: last sample is %s old", tracking.ErrDeviceNotTracked, age.Round(time.Millisecond)),
		}
	}
	return e.Pose, nil
}

func (s *Source) Devices(_ context.Context) ([]tracking.Device, error) {
	s.mu.RLock()
	snap := s.frozen
	at := s.frozenAt
	s.mu.RUnlock()

	if snap == nil {
		snap = s.store.Snapshot()
		at = s.now()
	}

	out := make([]tracking.Device, 0, len(snap))
	for _, e := range snap {
		d := e.Device()
		if s.maxAge > 0 && s.age(e, at) > s.maxAge {
			d.Tracked = false
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Source) age(e Entry, at time.Time) time.Duration {
	ts := e.ReceivedAt
	if ts.IsZero() {
		ts = e.Pose.SampledAt
	}
	if ts.IsZero() {
		return 0
	}
	return at.Sub(ts)
}
