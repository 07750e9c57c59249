package tracker

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/zeusync/relpose/internal/core/tracking"
)

// CheckDevices verifies both devices are listed by src. The source is only
// refreshed when it lists nothing yet, so a check never consumes a replay
// frame. It returns ErrNoDevices for an empty source, otherwise one
// DeviceError per missing device. A listed but untracked device passes;
// losing tracking is a per-cycle failure, not a startup one.
func CheckDevices(ctx context.Context, src tracking.Source, subject, reference string) error {
	devices, err := src.Devices(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "list devices")
	}
	if len(devices) == 0 {
		if err := src.Update(ctx); err != nil {
			return pkgerrors.Wrap(err, "update source")
		}
		if devices, err = src.Devices(ctx); err != nil {
			return pkgerrors.Wrap(err, "list devices")
		}
	}
	if len(devices) == 0 {
		return tracking.ErrNoDevices
	}

	known := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		known[d.Name] = struct{}{}
	}

	var errs []error
	for _, want := range []struct{ name, role string }{{subject, "subject"}, {reference, "reference"}} {
		if _, ok := known[want.name]; !ok {
			errs = append(errs, &tracking.DeviceError{Device: want.name, Role: want.role, Err: tracking.ErrDeviceNotDetected})
		}
	}
	return errors.Join(errs...)
}
