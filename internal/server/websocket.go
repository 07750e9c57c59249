package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handlePoseIngest reads pose and lost envelopes and answers each with the
// connection's cumulative AckFrame. The connection is closed when the server
// stops.
func (s *Server) handlePoseIngest(w http.ResponseWriter, r *http.Request) {
	if limit := s.config.MaxClients; limit > 0 && s.ingestClients.Load() >= int64(limit) {
		http.Error(w, ErrMaxClientsReached.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	s.ingestClients.Add(1)
	clientLogger := s.logger.With(log.String("remote_addr", conn.RemoteAddr().String()))
	clientLogger.Info("Ingest client connected", log.Int64("total_clients", s.ingestClients.Load()))

	defer func() {
		_ = conn.Close()
		s.ingestClients.Add(-1)
		clientLogger.Info("Ingest client disconnected", log.Int64("total_clients", s.ingestClients.Load()))
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.stopChan:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"), s.writeDeadline())
			_ = conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(protocol.MaxMessageSize)

	codec := protocol.JSONCodec{}
	session := s.ingest.NewSession(conn.RemoteAddr().String())
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				clientLogger.Warn("ingest read failed", log.Error(err))
			}
			return
		}

		_ = session.Handle(data)

		reply, err := codec.Encode(protocol.MessageAck, session.Ack())
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(s.writeDeadline())
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			clientLogger.Warn("ack write failed", log.Error(err))
			return
		}
	}
}

// handleReadingFeed streams reading and failure envelopes until the client
// goes away or the server stops.
func (s *Server) handleReadingFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	defer conn.Close()

	messages, cancel := s.feed.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	var ping <-chan time.Time
	if s.config.PingInterval > 0 {
		ticker := time.NewTicker(s.config.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(s.writeDeadline())
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping:
			if err := conn.WriteControl(websocket.PingMessage, nil, s.writeDeadline()); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.stopChan:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"), s.writeDeadline())
			return
		}
	}
}

func (s *Server) writeDeadline() time.Time {
	if s.config.WriteTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.config.WriteTimeout)
}
