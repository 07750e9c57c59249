// Package output renders tracking outcomes to a terminal or a JSON-lines stream.
package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"

	"github.com/zeusync/relpose/internal/core/events/bus"
	"github.com/zeusync/relpose/internal/core/protocol"
	"github.com/zeusync/relpose/internal/core/tracking"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Sink consumes tracking outcomes.
type Sink interface {
	Reading(r tracking.Reading) error
	Failure(f tracking.Failure) error
}

// New returns the sink for format.
func New(format string, w io.Writer) (Sink, error) {
	switch format {
	case "", FormatConsole:
		return NewConsole(w), nil
	case FormatJSON:
		return NewJSONLines(w), nil
	default:
		return nil, errors.Errorf("unknown output format %q", format)
	}
}

// Attach subscribes sink to the reading and failure events of topic. The
// returned function cancels both subscriptions.
func Attach(b bus.EventBus, topic string, sink Sink) (func(), error) {
	readings, err := b.SubscribeTopic(topic, bus.EventReading, func(e bus.Event) error {
		r, ok := bus.ReadingOf(e)
		if !ok {
			return errors.Errorf("%s event without reading", e.Type())
		}
		return sink.Reading(r)
	})
	if err != nil {
		return nil, err
	}

	failures, err := b.SubscribeTopic(topic, bus.EventFailure, func(e bus.Event) error {
		f, ok := bus.FailureOf(e)
		if !ok {
			return errors.Errorf("%s event without failure", e.Type())
		}
		return sink.Failure(f)
	})
	if err != nil {
		_ = b.Unsubscribe(readings)
		return nil, err
	}

	return func() {
		_ = b.Unsubscribe(readings)
		_ = b.Unsubscribe(failures)
	}, nil
}

// Console rewrites a single terminal line per reading:
//
//	Controller position relative to Tracker: X=1.000m, Y=2.000m, Z=3.000m | Distance=3.742m
//
// Failures are printed on their own line.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{out: w}
}

func (c *Console) Reading(r tracking.Reading) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := fmt.Fprintf(c.out, "\r%s position relative to %s: X=%.3fm, Y=%.3fm, Z=%.3fm | Distance=%.3fm   ",
		Label(r.Subject), Label(r.Reference), r.Position.X, r.Position.Y, r.Position.Z, r.Distance)
	return err
}

func (c *Console) Failure(f tracking.Failure) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	devices := f.Devices
	if len(devices) == 0 {
		devices = []string{f.Subject, f.Reference}
	}
	_, err := fmt.Fprintf(c.out, "\rError: could not get poses for %s: %v\n", strings.Join(devices, ", "), f.Err)
	return err
}

// Label turns a device name such as "controller_1" into "Controller".
func Label(device string) string {
	if device == "" {
		return ""
	}
	name := strings.TrimRightFunc(device, unicode.IsDigit)
	name = strings.TrimRight(name, "_-")
	if name == "" {
		name = device
	}
	runes := []rune(name)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// JSONLines writes one protocol envelope per line.
type JSONLines struct {
	mu    sync.Mutex
	out   io.Writer
	codec protocol.JSONCodec
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{out: w}
}

func (j *JSONLines) Reading(r tracking.Reading) error {
	return j.write(protocol.MessageReading, protocol.NewReadingFrame(r))
}

func (j *JSONLines) Failure(f tracking.Failure) error {
	return j.write(protocol.MessageFailure, protocol.NewFailureFrame(f))
}

func (j *JSONLines) write(typ protocol.MessageType, payload any) error {
	data, err := j.codec.Encode(typ, payload)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err = j.out.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "write json line")
	}
	return nil
}
