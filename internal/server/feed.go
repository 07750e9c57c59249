package server

import (
	"sync"
	"sync/atomic"

	"github.com/zeusync/relpose/internal/core/protocol"
	"github.com/zeusync/relpose/internal/core/tracking"
	"github.com/zeusync/relpose/internal/output"
)

var _ output.Sink = (*Feed)(nil)

// Latest is the most recent tracking outcome. Failure is set only when the
// last cycle failed.
type Latest struct {
	Reading *protocol.ReadingFrame `json:"reading,omitempty"`
	Failure *protocol.FailureFrame `json:"failure,omitempty"`
}

// Feed fans encoded reading and failure envelopes out to websocket and SSE
// clients. Slow clients miss messages instead of blocking the tracker.
type Feed struct {
	codec  protocol.JSONCodec
	buffer int

	mu      sync.RWMutex
	clients map[uint64]chan []byte
	nextID  uint64
	latest  Latest

	dropped atomic.Uint64
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	return &Feed{
		buffer:  buffer,
		clients: make(map[uint64]chan []byte),
	}
}

func (f *Feed) Reading(r tracking.Reading) error {
	frame := protocol.NewReadingFrame(r)
	data, err := f.codec.Encode(protocol.MessageReading, frame)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.latest = Latest{Reading: &frame}
	f.mu.Unlock()

	f.broadcast(data)
	return nil
}

func (f *Feed) Failure(fl tracking.Failure) error {
	frame := protocol.NewFailureFrame(fl)
	data, err := f.codec.Encode(protocol.MessageFailure, frame)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.latest.Failure = &frame
	f.mu.Unlock()

	f.broadcast(data)
	return nil
}

func (f *Feed) broadcast(data []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.clients {
		select {
		case ch <- data:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribe registers a client. The channel is closed by the returned cancel function.
func (f *Feed) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, f.buffer)

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.clients[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.clients, id)
			close(ch)
			f.mu.Unlock()
		})
	}
}

// Latest returns the last outcome, or false before the first cycle.
func (f *Feed) Latest() (Latest, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latest, f.latest.Reading != nil || f.latest.Failure != nil
}

func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Dropped counts messages skipped because a client's buffer was full.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }
