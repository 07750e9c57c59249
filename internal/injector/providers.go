package injector

import (
	"io"
	"time"

	"github.com/google/wire"
	"github.com/pkg/errors"

	"github.com/zeusync/relpose/internal/config"
	"github.com/zeusync/relpose/internal/core/events/bus"
	"github.com/zeusync/relpose/internal/core/observability/log"
	rquic "github.com/zeusync/relpose/internal/core/protocol/quic"
	"github.com/zeusync/relpose/internal/core/tracking"
	"github.com/zeusync/relpose/internal/core/tracking/replay"
	"github.com/zeusync/relpose/internal/core/tracking/sim"
	"github.com/zeusync/relpose/internal/core/tracking/store"
	"github.com/zeusync/relpose/internal/ingest"
	"github.com/zeusync/relpose/internal/output"
	"github.com/zeusync/relpose/internal/server"
	"github.com/zeusync/relpose/internal/tracker"
)

// ProviderSet builds an App from a config.Config and an output writer.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	ProvideStore,
	ProvideIngest,
	ProvideSource,
	ProvideBus,
	ProvideTracker,
	ProvideSink,
	ProvideFeed,
	ProvideServer,
	ProvideQUIC,
	wire.Struct(new(App), "*"),
)

func ProvideLogger(cfg config.Config) *log.Logger {
	return log.NewWithOptions(log.Options{Level: cfg.Level(), Encoding: "console"})
}

func ProvideStore(cfg config.Config) *store.Store {
	return store.New(cfg.Network.Shards)
}

func ProvideIngest(cfg config.Config, st *store.Store, logger log.Log) *ingest.Handler {
	return ingest.NewHandler(st, logger, ingest.WithRateLimit(cfg.Network.RateLimit, time.Second))
}

// ProvideSource picks the pose source named by cfg.Source.Kind. Network
// sources read the store the ingest handler writes into.
func ProvideSource(cfg config.Config, st *store.Store) (tracking.Source, error) {
	switch cfg.Source.Kind {
	case config.SourceSim:
		return sim.NewSource(cfg.Source.Sim.Devices), nil
	case config.SourceReplay:
		trace, err := replay.LoadFile(cfg.Source.Replay.Path)
		if err != nil {
			return nil, err
		}
		if cfg.Source.Replay.Loop {
			trace.Loop = true
		}
		return replay.NewSource(trace), nil
	case config.SourceNetwork:
		return store.NewSource(st, store.WithMaxAge(cfg.Source.MaxAge)), nil
	default:
		return nil, errors.Errorf("unknown source kind %q", cfg.Source.Kind)
	}
}

func ProvideBus(logger log.Log) bus.EventBus {
	b := bus.New()
	b.AddObserver(bus.LogObserver{Logger: logger.With(log.String("component", "bus"))})
	return b
}

func ProvideTracker(cfg config.Config, src tracking.Source, b bus.EventBus, logger log.Log) (*tracker.Tracker, error) {
	return tracker.New(cfg.Tracker(), src, b, logger)
}

func ProvideSink(cfg config.Config, w io.Writer) (output.Sink, error) {
	return output.New(cfg.Output.Format, w)
}

func ProvideFeed() *server.Feed {
	return server.NewFeed(0)
}

// ProvideServer returns nil when no HTTP address is configured. Pose ingest
// routes are only mounted for network sources.
func ProvideServer(cfg config.Config, src tracking.Source, handler *ingest.Handler, feed *server.Feed, tr *tracker.Tracker, b bus.EventBus, logger log.Log) *server.Server {
	if cfg.Network.HTTPAddr == "" {
		return nil
	}

	sc := server.DefaultServerConfig()
	sc.ListenAddr = cfg.Network.HTTPAddr
	sc.Token = cfg.Network.Token
	if cfg.Source.Kind != config.SourceNetwork {
		handler = nil
	}

	srv := server.NewServer(sc, src, handler, feed, logger)
	srv.SetTracker(tr)
	srv.SetBus(b)
	return srv
}

// ProvideQUIC returns nil unless a network source has a QUIC address.
func ProvideQUIC(cfg config.Config, handler *ingest.Handler, logger log.Log) (*rquic.Listener, error) {
	if cfg.Source.Kind != config.SourceNetwork || cfg.Network.QUICAddr == "" {
		return nil, nil
	}

	tlsConfig, err := rquic.LoadTLS(cfg.Network.CertFile, cfg.Network.KeyFile)
	if err != nil {
		return nil, err
	}
	qc := rquic.DefaultConfig()
	qc.Addr = cfg.Network.QUICAddr
	qc.Token = cfg.Network.Token
	qc.TLS = tlsConfig
	return rquic.NewListener(qc, handler, logger), nil
}
