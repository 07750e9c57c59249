// Package tracker runs the fixed-rate loop that refreshes a pose source and
// publishes the subject's position relative to the reference.
package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/zeusync/relpose/internal/core/events/bus"
	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/tracking"
)

// EventSource is the Source field of every event the tracker publishes.
const EventSource = "tracker"

var ErrAlreadyRunning = errors.New("tracker already running")

// Config selects the device pair and loop rate.
type Config struct {
	Subject   string        `json:"subject" yaml:"subject"`
	Reference string        `json:"reference" yaml:"reference"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
	// MaxCycles stops Run after that many cycles; zero runs until canceled.
	MaxCycles uint64 `json:"max_cycles,omitempty" yaml:"max_cycles,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Subject:   "controller_1",
		Reference: "tracker_1",
		Interval:  100 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Subject == "":
		return errors.New("subject device is required")
	case c.Reference == "":
		return errors.New("reference device is required")
	case c.Interval <= 0:
		return errors.New("interval must be positive")
	}
	return nil
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Cycles      uint64    `json:"cycles"`
	Readings    uint64    `json:"readings"`
	Failures    uint64    `json:"failures"`
	LastReading time.Time `json:"last_reading"`
	LastError   string    `json:"last_error,omitempty"`
}

// Tracker owns the per-cycle Update, query and publish sequence.
type Tracker struct {
	cfg    Config
	source tracking.Source
	events bus.EventBus
	logger log.Log
	topic  string

	running  atomic.Bool
	stopChan chan struct{}
	stopOnce sync.Once

	cycles   atomic.Uint64
	readings atomic.Uint64
	failures atomic.Uint64

	mu          sync.RWMutex
	lastReading time.Time
	lastErr     error
	failing     bool
}

func New(cfg Config, source tracking.Source, events bus.EventBus, logger log.Log) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "tracker config")
	}
	if source == nil {
		return nil, errors.New("tracker: nil source")
	}
	if events == nil {
		events = bus.New()
	}
	if logger == nil {
		logger = log.NewNop()
	}

	t := &Tracker{
		cfg:      cfg,
		source:   source,
		events:   events,
		logger:   logger.With(log.String("subject", cfg.Subject), log.String("reference", cfg.Reference)),
		topic:    bus.PairTopic(cfg.Subject, cfg.Reference),
		stopChan: make(chan struct{}),
	}
	if cfg.Subject == cfg.Reference {
		t.logger.Warn("subject and reference are the same device, every reading will be zero")
	}
	return t, nil
}

func (t *Tracker) Config() Config { return t.cfg }

// Topic is the bus topic readings and failures are published on.
func (t *Tracker) Topic() string { return t.topic }

// Step runs one cycle: refresh the source, compute the relative pose and
// publish the outcome. The returned error is the cycle failure, if any;
// handler errors from the bus are logged, not returned. An exhausted source
// ends the cycle without publishing anything.
func (t *Tracker) Step(ctx context.Context) (tracking.Reading, error) {
	t.cycles.Add(1)

	var reading tracking.Reading
	err := t.source.Update(ctx)
	if err != nil {
		err = pkgerrors.Wrap(err, "update source")
		if errors.Is(err, tracking.ErrSourceExhausted) {
			return tracking.Reading{}, err
		}
	} else {
		reading, err = tracking.RelativePose(ctx, t.source, t.cfg.Subject, t.cfg.Reference)
	}

	if err != nil {
		t.recordFailure(err)
		return tracking.Reading{}, err
	}

	t.recordReading(reading)
	return reading, nil
}

func (t *Tracker) recordReading(r tracking.Reading) {
	t.readings.Add(1)

	t.mu.Lock()
	recovered := t.failing
	t.failing = false
	t.lastReading = r.ComputedAt
	t.mu.Unlock()

	if recovered {
		t.logger.Info("tracking recovered", log.Vector("position", r.Position))
	}
	if err := t.events.PublishToTopic(t.topic, bus.NewReadingEvent(EventSource, r)); err != nil {
		t.logger.Warn("publish reading", log.Error(err))
	}
}

func (t *Tracker) recordFailure(err error) {
	t.failures.Add(1)

	t.mu.Lock()
	first := !t.failing
	t.failing = true
	t.lastErr = err
	t.mu.Unlock()

	f := tracking.NewFailure(t.cfg.Subject, t.cfg.Reference, err)
	if first {
		t.logger.Warn("tracking lost", log.Strings("devices", f.Devices), log.Error(err))
	} else {
		t.logger.Debug("cycle failed", log.Error(err))
	}
	if perr := t.events.PublishToTopic(t.topic, bus.NewFailureEvent(EventSource, f)); perr != nil {
		t.logger.Warn("publish failure", log.Error(perr), log.ErrorWithKey("cycle_error", err))
	}
}

// Run steps once immediately and then on every tick until ctx is done, Stop
// is called, MaxCycles is reached or the source is exhausted. Cycle failures
// do not end the loop.
func (t *Tracker) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer t.running.Store(false)

	t.logger.Info("tracker started", log.Duration("interval", t.cfg.Interval))
	defer t.logger.Info("tracker stopped", log.Uint64("cycles", t.cycles.Load()))

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := t.Step(ctx); err != nil {
			if errors.Is(err, tracking.ErrSourceExhausted) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		if t.cfg.MaxCycles > 0 && t.cycles.Load() >= t.cfg.MaxCycles {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.stopChan:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop ends a running loop. It is safe to call more than once.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}

func (t *Tracker) IsRunning() bool { return t.running.Load() }

func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{
		Cycles:      t.cycles.Load(),
		Readings:    t.readings.Load(),
		Failures:    t.failures.Load(),
		LastReading: t.lastReading,
	}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s
}
