// Package ingest applies pose envelopes received on any transport to the pose store.
package ingest

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/zeusync/relpose/internal/core/observability/log"
	"github.com/zeusync/relpose/internal/core/protocol"
	"github.com/zeusync/relpose/internal/core/tracking/store"
)

// Stats counts envelopes seen by a Handler.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	// Stale counts valid samples older than the stored one.
	Stale uint64 `json:"stale"`
	// Limited counts envelopes refused by the session rate limit. They are
	// also counted as rejected.
	Limited uint64 `json:"limited"`
}

// Handler decodes envelopes and writes them into a store.
type Handler struct {
	store  *store.Store
	codec  protocol.JSONCodec
	logger log.Log
	now    func() time.Time

	rateLimit  int
	rateWindow time.Duration

	accepted atomic.Uint64
	rejected atomic.Uint64
	stale    atomic.Uint64
	limited  atomic.Uint64
}

func NewHandler(st *store.Store, logger log.Log, opts ...Option) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	h := &Handler{
		store:  st,
		logger: logger.With(log.String("component", "ingest")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Store() *store.Store { return h.store }

// Handle applies one encoded envelope. A rejected envelope leaves the store
// untouched and the returned error says why.
func (h *Handler) Handle(data []byte) error {
	env, err := h.codec.Decode(data)
	if err != nil {
		return h.reject(err)
	}
	return h.Apply(env)
}

// Apply handles an already decoded envelope.
func (h *Handler) Apply(env protocol.Envelope) error {
	switch env.Type {
	case protocol.MessagePose:
		var f protocol.PoseFrame
		if err := env.DecodePayload(&f); err != nil {
			return h.reject(err)
		}
		if err := f.Validate(); err != nil {
			return h.reject(err)
		}

		received := h.now()
		kept := h.store.Put(store.Entry{
			Pose:       f.ToPose(received),
			Class:      f.Class,
			Serial:     f.Serial,
			Tracked:    f.IsTracked(),
			ReceivedAt: received,
		})
		if !kept {
			h.stale.Add(1)
		}
		h.accepted.Add(1)
		return nil

	case protocol.MessageLost:
		var f protocol.LostFrame
		if err := env.DecodePayload(&f); err != nil {
			return h.reject(err)
		}
		if f.Device == "" {
			return h.reject(errors.Wrap(protocol.ErrInvalidFrame, "lost frame without device"))
		}
		h.store.MarkUntracked(f.Device)
		h.accepted.Add(1)
		return nil

	default:
		return h.reject(errors.Wrapf(protocol.ErrUnknownMessageType, "%q", env.Type))
	}
}

func (h *Handler) reject(err error) error {
	h.rejected.Add(1)
	h.logger.Debug("envelope rejected", log.Error(err))
	return err
}

func (h *Handler) Stats() Stats {
	return Stats{
		Accepted: h.accepted.Load(),
		Rejected: h.rejected.Load(),
		Stale:    h.stale.Load(),
		Limited:  h.limited.Load(),
	}
}
