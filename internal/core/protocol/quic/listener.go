package quic

import (
	"bufio"
	"context"
	"crypto/subtle"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/protocol"
	"github.com/zeusync/relpose/internal/ingest"
)

var (
	ErrAlreadyRunning = errors.New("quic listener already running")
	ErrNotRunning     = errors.New("quic listener not running")
)

const (
	codeOK           quic.ApplicationErrorCode = 0
	codeUnauthorized quic.ApplicationErrorCode = 1
)

// Config holds the ingest listener settings.
type Config struct {
	Addr string
	// TLS defaults to a generated self-signed certificate.
	TLS *tls.Config
	// Token, when set, must be presented in the hello envelope.
	Token       string
	IdleTimeout time.Duration
	KeepAlive   time.Duration
	MaxStreams  int64
}

func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:4242",
		IdleTimeout: DefaultIdleTimeout,
		KeepAlive:   DefaultKeepAlive,
		MaxStreams:  DefaultMaxStreams,
	}
}

// Listener accepts QUIC connections and feeds their streams to an ingest.Handler.
type Listener struct {
	cfg     Config
	handler *ingest.Handler
	logger  log.Log

	listener *quic.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
	conns    atomic.Int64
	active   sync.Map // *quic.Conn -> struct{}
}

func NewListener(cfg Config, handler *ingest.Handler, logger log.Log) *Listener {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Listener{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(log.String("component", "quic")),
	}
}

// Start binds the listener and accepts connections in the background.
func (l *Listener) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	tlsConfig := l.cfg.TLS
	if tlsConfig == nil {
		var err error
		if tlsConfig, err = GenerateSelfSignedTLS(); err != nil {
			l.running.Store(false)
			return err
		}
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.NextProtos = []string{NextProto}
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:     l.cfg.IdleTimeout,
		KeepAlivePeriod:    l.cfg.KeepAlive,
		MaxIncomingStreams: l.cfg.MaxStreams,
	}

	ln, err := quic.ListenAddr(l.cfg.Addr, tlsConfig, quicConfig)
	if err != nil {
		l.running.Store(false)
		return errors.Wrap(err, "failed to start QUIC listener")
	}
	l.listener = ln
	l.logger.Info("QUIC ingest listening", log.String("addr", ln.Addr().String()))

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.acceptConnections(ctx)
	}()
	return nil
}

// Serve starts the listener and blocks until ctx is done.
func (l *Listener) Serve(ctx context.Context) error {
	if err := l.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return l.Close()
}

// Addr is the bound address; nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Connections is the number of open client connections.
func (l *Listener) Connections() int64 { return l.conns.Load() }

func (l *Listener) Close() error {
	if !l.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	err := l.listener.Close()
	l.active.Range(func(key, _ any) bool {
		_ = key.(*quic.Conn).CloseWithError(codeOK, "shutdown")
		return true
	})
	l.wg.Wait()
	l.logger.Info("QUIC ingest stopped")
	return err
}

func (l *Listener) acceptConnections(ctx context.Context) {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if l.running.Load() && ctx.Err() == nil {
				l.logger.Error("Failed to accept connection", log.Error(err))
			}
			return
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConnection(ctx, conn)
		}()
	}
}

func (l *Listener) handleConnection(ctx context.Context, conn *quic.Conn) {
	l.conns.Add(1)
	l.active.Store(conn, struct{}{})
	logger := l.logger.With(log.String("remote_addr", conn.RemoteAddr().String()))
	logger.Debug("QUIC client connected")

	defer func() {
		l.conns.Add(-1)
		l.active.Delete(conn)
		logger.Debug("QUIC client disconnected")
	}()

	var streams sync.WaitGroup
	defer streams.Wait()

	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		streams.Add(1)
		go func() {
			defer streams.Done()
			if err := l.handleStream(stream, conn.RemoteAddr().String()); err != nil {
				logger.Warn("stream closed with error", log.Error(err))
				if errors.Is(err, protocol.ErrUnauthorized) {
					_ = conn.CloseWithError(codeUnauthorized, "unauthorized")
				}
			}
		}()
	}
}

func (l *Listener) handleStream(stream *quic.Stream, remote string) error {
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 4096), protocol.MaxMessageSize+1)

	hello, err := l.readHello(scanner)
	if err != nil {
		stream.CancelRead(quic.StreamErrorCode(codeUnauthorized))
		return err
	}

	client := remote
	if hello.Client != "" {
		client = hello.Client + "@" + remote
	}
	session := l.handler.NewSession(client)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		_ = session.Handle(line)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read stream")
	}

	data, err := protocol.JSONCodec{}.Encode(protocol.MessageAck, session.Ack())
	if err != nil {
		return err
	}
	_, err = stream.Write(append(data, '\n'))
	return err
}

func (l *Listener) readHello(scanner *bufio.Scanner) (protocol.HelloFrame, error) {
	var hello protocol.HelloFrame
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return hello, errors.Wrap(err, "read hello")
		}
		return hello, errors.Wrap(protocol.ErrInvalidMessage, "stream closed before hello")
	}

	env, err := protocol.JSONCodec{}.Decode(scanner.Bytes())
	if err != nil {
		return hello, err
	}
	if env.Type != protocol.MessageHello {
		return hello, errors.Wrapf(protocol.ErrInvalidMessage, "expected hello, got %q", env.Type)
	}
	if err := env.DecodePayload(&hello); err != nil {
		return hello, err
	}
	if l.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(hello.Token), []byte(l.cfg.Token)) != 1 {
		return hello, protocol.ErrUnauthorized
	}
	return hello, nil
}
