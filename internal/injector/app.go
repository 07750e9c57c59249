package injector

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/relpose/internal/config"
	"github.com/zeusync/relpose/internal/core/events/bus"
	"github.com/zeusync/relpose/internal/core/observability/log"
	rquic "github.com/zeusync/relpose/internal/core/protocol/quic"
	"github.com/zeusync/relpose/internal/core/tracking"
	"github.com/zeusync/relpose/internal/output"
	"github.com/zeusync/relpose/internal/server"
	"github.com/zeusync/relpose/internal/tracker"
)

// App is the assembled program. Server and QUIC are nil when disabled.
type App struct {
	Config  config.Config
	Logger  log.Log
	Source  tracking.Source
	Bus     bus.EventBus
	Tracker *tracker.Tracker
	Sink    output.Sink
	Feed    *server.Feed
	Server  *server.Server
	QUIC    *rquic.Listener
}

// Check verifies the configured devices are detected. Network sources are
// skipped since their devices only appear once publishers connect.
func (a *App) Check(ctx context.Context) error {
	if a.Config.Source.Kind == config.SourceNetwork {
		return nil
	}
	return tracker.CheckDevices(ctx, a.Source, a.Config.Subject, a.Config.Reference)
}

// ListDevices writes one line per device known to the source.
func (a *App) ListDevices(ctx context.Context, w io.Writer) error {
	devices, err := a.Source.Devices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		_, err = fmt.Fprintln(w, "No devices detected.")
		return err
	}
	for _, d := range devices {
		state := "tracked"
		if !d.Tracked {
			state = "not tracked"
		}
		if _, err := fmt.Fprintf(w, "%-16s %-24s %-20s %s\n", d.Name, d.Class, d.Serial, state); err != nil {
			return err
		}
	}
	return nil
}

// Run attaches the sinks and runs the tracker alongside any servers. When the
// tracker ends on its own the servers are shut down too.
func (a *App) Run(ctx context.Context) error {
	topic := a.Tracker.Topic()
	detachSink, err := output.Attach(a.Bus, topic, a.Sink)
	if err != nil {
		return err
	}
	defer detachSink()

	detachFeed, err := output.Attach(a.Bus, topic, a.Feed)
	if err != nil {
		return err
	}
	defer detachFeed()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.Server != nil {
		g.Go(func() error { return a.serveHTTP(gctx) })
	}
	if a.QUIC != nil {
		g.Go(func() error { return a.QUIC.Serve(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		return a.Tracker.Run(gctx)
	})

	err = g.Wait()
	stats := a.Tracker.Stats()
	a.Logger.Info("relpose finished",
		log.Uint64("cycles", stats.Cycles),
		log.Uint64("readings", stats.Readings),
		log.Uint64("failures", stats.Failures),
	)
	return err
}

// serveHTTP fails the group only for network sources. Otherwise a failed bind
// is logged and the tracker keeps running.
func (a *App) serveHTTP(ctx context.Context) error {
	err := a.Server.Serve(ctx)
	if err == nil || a.Config.Source.Kind == config.SourceNetwork {
		return err
	}
	a.Logger.Warn("Reading feed server disabled",
		log.String("addr", a.Config.Network.HTTPAddr),
		log.Error(err),
	)
	return nil
}
