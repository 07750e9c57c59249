package tracking

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotTracked means the device exists but has no usable pose this cycle.
	ErrDeviceNotTracked = errors.New("device not tracked")
	// ErrDeviceUnknown means the source has never seen the device.
	ErrDeviceUnknown = errors.New("device unknown")
	// ErrSourceExhausted is returned by Update when a finite source has no more data.
	ErrSourceExhausted = errors.New("source exhausted")
	// ErrNoDevices means the source reports no devices at all.
	ErrNoDevices = errors.New("no devices detected")
	// ErrDeviceNotDetected means a required device is absent from the source's device list.
	ErrDeviceNotDetected = errors.New("device not detected")
)

// DeviceError ties a pose failure to the device it happened on.
type DeviceError struct {
	Device string
	Role   string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("%s %q: %v", e.Role, e.Device, e.Err)
	}
	return fmt.Sprintf("device %q: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// FailedDevices returns the names of every device a pipeline error refers to.
func FailedDevices(err error) []string {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DeviceError); ok {
		return []string{de.Device}
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, inner := range joined.Unwrap() {
			out = append(out, FailedDevices(inner)...)
		}
		return out
	}
	return FailedDevices(errors.Unwrap(err))
}
