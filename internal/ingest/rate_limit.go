package ingest

import (
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/protocol"
)

var ErrRateLimited = errors.New("publisher rate limit exceeded")

// Option configures a Handler.
type Option func(*Handler)

// WithRateLimit caps every session at limit envelopes per window. A zero
// limit disables the check.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(h *Handler) {
		h.rateLimit = limit
		h.rateWindow = window
	}
}

// rateWindow is a fixed-window counter.
type rateWindow struct {
	limit  int
	window time.Duration
	start  time.Time
	count  int
	warned bool
}

// allow reports whether one more envelope fits in the current window and
// whether this is the first refusal of the window.
func (w *rateWindow) allow(now time.Time) (ok, first bool) {
	if now.Sub(w.start) >= w.window {
		w.start = now
		w.count = 0
		w.warned = false
	}
	if w.count >= w.limit {
		first = !w.warned
		w.warned = true
		return false, first
	}
	w.count++
	return true, false
}

// Session is one publisher connection. It keeps the connection's cumulative
// ack and applies the handler's rate limit. A Session is not safe for
// concurrent use; transports own one per connection or stream.
type Session struct {
	h       *Handler
	logger  log.Log
	limiter *rateWindow
	ack     protocol.AckFrame
}

// NewSession starts a session for the named client.
func (h *Handler) NewSession(client string) *Session {
	s := &Session{
		h:      h,
		logger: h.logger.With(log.String("client", client)),
	}
	if h.rateLimit > 0 && h.rateWindow > 0 {
		s.limiter = &rateWindow{limit: h.rateLimit, window: h.rateWindow}
	}
	return s
}

// Handle applies one encoded envelope and updates the session ack.
func (s *Session) Handle(data []byte) error {
	if s.limiter != nil {
		if ok, first := s.limiter.allow(s.h.now()); !ok {
			if first {
				s.logger.Warn("Rate limit exceeded",
					log.Int("limit", s.limiter.limit),
					log.Duration("window", s.limiter.window),
				)
			}
			s.h.limited.Add(1)
			s.ack.Rejected++
			return s.h.reject(ErrRateLimited)
		}
	}

	if err := s.h.Handle(data); err != nil {
		s.ack.Rejected++
		return err
	}
	s.ack.Accepted++
	return nil
}

// Ack is the cumulative acknowledgement for this session.
func (s *Session) Ack() protocol.AckFrame { return s.ack }
