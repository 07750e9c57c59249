// Package server exposes pose ingest and the reading feed over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/zeusync/relpose/internal/core/events/bus"
	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/tracking"
	"github.com/zeusync/relpose/internal/ingest"
	"github.com/zeusync/relpose/internal/tracker"
)

// Config holds server configuration
type Config struct {
	ListenAddr string
	// Token guards pose ingest; empty disables the check.
	Token string
	// MaxClients bounds concurrent ingest connections.
	MaxClients int

	WriteTimeout time.Duration
	PingInterval time.Duration
	// ShutdownTimeout bounds Serve's graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		MaxClients:      64,
		WriteTimeout:    5 * time.Second,
		PingInterval:    15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// StatsProvider reports tracker loop counters.
type StatsProvider interface {
	Stats() tracker.Stats
}

// BusStatsProvider reports event bus counters and topics.
type BusStatsProvider interface {
	GetMetrics() bus.EventBusMetrics
	GetTopics() []bus.TopicInfo
}

// BusStats is the event bus section of /healthz.
type BusStats struct {
	Metrics bus.EventBusMetrics `json:"metrics"`
	Topics  []bus.TopicInfo     `json:"topics"`
}

// Stats contains server statistics
type Stats struct {
	IngestClients int64         `json:"ingest_clients"`
	FeedClients   int           `json:"feed_clients"`
	FeedDropped   uint64        `json:"feed_dropped"`
	Ingest        ingest.Stats  `json:"ingest"`
	Tracker       tracker.Stats `json:"tracker"`
	Bus           *BusStats     `json:"bus,omitempty"`
	Running       bool          `json:"running"`
}

// Server serves the HTTP routes. Ingest routes are only mounted when an
// ingest.Handler is supplied.
type Server struct {
	config  Config
	source  tracking.Source
	ingest  *ingest.Handler
	feed    *Feed
	tracker StatsProvider
	events  BusStatsProvider
	auth    TokenAuth
	logger  log.Log

	httpServer *http.Server
	listener   net.Listener

	ingestClients atomic.Int64
	running       atomic.Bool
	closed        atomic.Bool
	workerGroup   sync.WaitGroup
	stopChan      chan struct{}
}

func NewServer(config Config, source tracking.Source, handler *ingest.Handler, feed *Feed, logger log.Log) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	if feed == nil {
		feed = NewFeed(0)
	}

	s := &Server{
		config:   config,
		source:   source,
		ingest:   handler,
		feed:     feed,
		auth:     TokenAuth{Token: config.Token},
		logger:   logger.With(log.String("component", "server")),
		stopChan: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetTracker enables tracker counters on /healthz.
func (s *Server) SetTracker(t StatsProvider) { s.tracker = t }

// SetBus enables event bus counters on /healthz.
func (s *Server) SetBus(b BusStatsProvider) { s.events = b }

func (s *Server) Feed() *Feed { return s.feed }

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.ingest != nil {
		mux.HandleFunc("GET /ws/poses", s.auth.Wrap(s.handlePoseIngest))
	}
	mux.HandleFunc("GET /ws/readings", s.handleReadingFeed)
	mux.HandleFunc("GET /readings", s.handleReadingEvents)
	mux.HandleFunc("GET /readings/latest", s.handleLatest)
	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		s.running.Store(false)
		return pkgerrors.Wrap(err, "listen")
	}
	s.listener = ln
	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", log.Error(err))
		}
	}()
	return nil
}

// Serve starts the server and shuts it down when ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Stop ends streaming handlers and gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.closed.Store(true)

	s.logger.Info("Stopping server")
	close(s.stopChan)
	err := s.httpServer.Shutdown(ctx)
	s.workerGroup.Wait()
	s.logger.Info("Server stopped")
	return err
}

// Addr is the bound address; nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	st := Stats{
		IngestClients: s.ingestClients.Load(),
		FeedClients:   s.feed.Clients(),
		FeedDropped:   s.feed.Dropped(),
		Running:       s.running.Load(),
	}
	if s.ingest != nil {
		st.Ingest = s.ingest.Stats()
	}
	if s.tracker != nil {
		st.Tracker = s.tracker.Stats()
	}
	if s.events != nil {
		st.Bus = &BusStats{Metrics: s.events.GetMetrics(), Topics: s.events.GetTopics()}
	}
	return st
}
