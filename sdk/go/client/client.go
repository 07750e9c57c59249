// Package client publishes device poses to a relpose server over websocket or QUIC.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/protocol"
	rquic "github.com/zeusync/relpose/internal/core/protocol/quic"
)

// Transport selects how poses are sent.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportQUIC      Transport = "quic"
)

// IngestPath is the websocket route poses are published to.
const IngestPath = "/ws/poses"

// Config holds configuration for the client
type Config struct {
	// ServerAddr is host:port of the HTTP server (websocket) or QUIC listener.
	ServerAddr string
	Transport  Transport
	// Token is sent as a bearer token (websocket) or in the hello envelope (QUIC).
	Token string
	// Name identifies this publisher in server logs.
	Name string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// TLS is used for QUIC; nil accepts the server's self-signed certificate.
	TLS *tls.Config

	LogLevel log.Level
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		ServerAddr:     "localhost:8080",
		Transport:      TransportWebSocket,
		Name:           "relpose-go",
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		LogLevel:       log.LevelInfo,
	}
}

// Client is a pose publisher. It is safe for concurrent use.
type Client struct {
	config Config
	logger log.Log
	codec  protocol.JSONCodec

	mu        sync.Mutex
	ws        *websocket.Conn
	qconn     *quic.Conn
	qstream   *quic.Stream
	connected atomic.Bool
	closed    atomic.Bool

	sent    atomic.Uint64
	lastAck atomic.Pointer[protocol.AckFrame]
	done    chan struct{}
}

func NewClient(config Config) *Client {
	return &Client{
		config: config,
		logger: log.New(config.LogLevel).With(log.String("component", "client"), log.String("transport", string(config.Transport))),
		done:   make(chan struct{}),
	}
}

// Connect dials the server.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.connected.Load() {
		return ErrAlreadyConnected
	}
	if c.config.ServerAddr == "" {
		return errors.Wrap(ErrInvalidConfig, "missing server address")
	}

	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	var err error
	switch c.config.Transport {
	case TransportWebSocket, "":
		err = c.dialWebSocket(ctx)
	case TransportQUIC:
		err = c.dialQUIC(ctx)
	default:
		err = errors.Wrapf(ErrInvalidConfig, "unknown transport %q", c.config.Transport)
	}
	if err != nil {
		return err
	}

	c.connected.Store(true)
	c.logger.Info("Connected", log.String("server", c.config.ServerAddr))
	return nil
}

func (c *Client) dialWebSocket(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: IngestPath}
	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return protocol.ErrUnauthorized
		}
		return errors.Wrap(err, "dial websocket")
	}

	c.mu.Lock()
	c.ws = conn
	c.mu.Unlock()

	go c.readAcks(conn)
	return nil
}

func (c *Client) readAcks(conn *websocket.Conn) {
	defer close(c.done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.storeAck(data)
	}
}

func (c *Client) storeAck(data []byte) {
	env, err := c.codec.Decode(data)
	if err != nil || env.Type != protocol.MessageAck {
		return
	}
	var ack protocol.AckFrame
	if err := env.DecodePayload(&ack); err == nil {
		c.lastAck.Store(&ack)
	}
}

func (c *Client) dialQUIC(ctx context.Context) error {
	tlsConfig := c.config.TLS
	if tlsConfig == nil {
		tlsConfig = rquic.InsecureClientTLS()
	}

	conn, err := quic.DialAddr(ctx, c.config.ServerAddr, tlsConfig, &quic.Config{KeepAlivePeriod: rquic.DefaultKeepAlive})
	if err != nil {
		return errors.Wrap(err, "dial quic")
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return errors.Wrap(err, "open stream")
	}

	c.mu.Lock()
	c.qconn = conn
	c.qstream = stream
	c.mu.Unlock()

	if err := c.send(protocol.MessageHello, protocol.HelloFrame{Client: c.config.Name, Token: c.config.Token}); err != nil {
		_ = conn.CloseWithError(0, "")
		return err
	}
	close(c.done)
	return nil
}

// PublishPose sends one pose sample. Frames without a timestamp are stamped now.
func (c *Client) PublishPose(f protocol.PoseFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().UnixNano()
	}
	return c.publish(protocol.MessagePose, f)
}

// PublishLost reports that device lost tracking.
func (c *Client) PublishLost(device string) error {
	return c.publish(protocol.MessageLost, protocol.LostFrame{Device: device})
}

func (c *Client) publish(typ protocol.MessageType, payload any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if err := c.send(typ, payload); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

func (c *Client) send(typ protocol.MessageType, payload any) error {
	data, err := c.codec.Encode(typ, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Time{}
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}

	switch {
	case c.ws != nil:
		_ = c.ws.SetWriteDeadline(deadline)
		err = c.ws.WriteMessage(websocket.TextMessage, data)
	case c.qstream != nil:
		_ = c.qstream.SetWriteDeadline(deadline)
		_, err = c.qstream.Write(append(data, '\n'))
	default:
		return ErrNotConnected
	}
	return errors.Wrap(err, "send")
}

// Sent is the number of frames published.
func (c *Client) Sent() uint64 { return c.sent.Load() }

// LastAck returns the most recent acknowledgement from the server.
func (c *Client) LastAck() (protocol.AckFrame, bool) {
	if ack := c.lastAck.Load(); ack != nil {
		return *ack, true
	}
	return protocol.AckFrame{}, false
}

// Close ends the session and returns the server's final acknowledgement,
// when one arrived before timeout.
func (c *Client) Close(timeout time.Duration) (protocol.AckFrame, error) {
	if !c.closed.CompareAndSwap(false, true) {
		return protocol.AckFrame{}, ErrClientClosed
	}
	if !c.connected.Load() {
		return protocol.AckFrame{}, nil
	}

	c.mu.Lock()
	ws, qconn, qstream := c.ws, c.qconn, c.qstream
	c.mu.Unlock()

	var err error
	switch {
	case ws != nil:
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(timeout))
		select {
		case <-c.done:
		case <-time.After(timeout):
		}
		err = ws.Close()
	case qstream != nil:
		_ = qstream.Close()
		_ = qstream.SetReadDeadline(time.Now().Add(timeout))
		reader := bufio.NewReader(qstream)
		if line, rerr := reader.ReadBytes('\n'); rerr == nil {
			c.storeAck(line)
		}
		err = qconn.CloseWithError(0, "")
	}

	c.connected.Store(false)
	c.logger.Info("Disconnected", log.Uint64("sent", c.sent.Load()))

	ack, _ := c.LastAck()
	return ack, err
}
