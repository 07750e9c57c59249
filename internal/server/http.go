package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zeusync/relpose/internal/core/observability/log"
)

// handleReadingEvents is the server-sent events variant of the reading feed.
func (s *Server) handleReadingEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	messages, cancel := s.feed.Subscribe()
	defer cancel()

	if latest, ok := s.feed.Latest(); ok && latest.Reading != nil {
		if b, err := json.Marshal(latest.Reading); err == nil {
			fmt.Fprintf(w, "event: latest\ndata: %s\n\n", b)
		}
	}
	flusher.Flush()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, _ *http.Request) {
	latest, ok := s.feed.Latest()
	if !ok {
		http.Error(w, "no reading yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		http.Error(w, "no pose source", http.StatusNotFound)
		return
	}
	devices, err := s.source.Devices(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.GetStats())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", log.Error(err))
	}
}
