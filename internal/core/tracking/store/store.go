// Package store keeps the latest pose sample of every device, sharded by
// device name so concurrent ingest connections rarely contend.
package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/relpose/internal/core/tracking"
)

const defaultShardCount = 16

// Entry is the latest known state of one device.
type Entry struct {
	Pose       tracking.Pose
	Class      string
	Serial     string
	Tracked    bool
	ReceivedAt time.Time
	Seq        uint64
}

// Device returns the descriptive part of the entry.
func (e Entry) Device() tracking.Device {
	return tracking.Device{
		Name:    e.Pose.Device,
		Class:   e.Class,
		Serial:  e.Serial,
		Tracked: e.Tracked,
	}
}

// Store is a concurrent map from device name to its latest Entry.
type Store struct {
	shards   []shard
	count    int
	version  atomic.Uint64
	hashFunc func(string) uint32
}

type shard struct {
	entries map[string]Entry
	mx      sync.RWMutex
}

// New creates a store with shardCount shards (16 when shardCount <= 0).
func New(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}

	s := &Store{
		shards: make([]shard, shardCount),
		count:  shardCount,
		hashFunc: func(key string) uint32 {
			return uint32(xxhash.Sum64String(key))
		},
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]Entry)
	}
	return s
}

func (s *Store) shardFor(device string) *shard {
	return &s.shards[s.hashFunc(device)%uint32(s.count)]
}

// Put records e as the latest state of e.Pose.Device. Samples older than the
// one already stored are ignored; Put reports whether e was kept.
func (s *Store) Put(e Entry) bool {
	sh := s.shardFor(e.Pose.Device)

	sh.mx.Lock()
	defer sh.mx.Unlock()

	if prev, ok := sh.entries[e.Pose.Device]; ok {
		if !e.Pose.SampledAt.IsZero() && e.Pose.SampledAt.Before(prev.Pose.SampledAt) {
			return false
		}
		if e.Class == "" {
			e.Class = prev.Class
		}
		if e.Serial == "" {
			e.Serial = prev.Serial
		}
	}

	e.Seq = s.version.Add(1)
	sh.entries[e.Pose.Device] = e
	return true
}

// Get returns the latest entry for device.
func (s *Store) Get(device string) (Entry, bool) {
	sh := s.shardFor(device)

	sh.mx.RLock()
	defer sh.mx.RUnlock()

	e, ok := sh.entries[device]
	return e, ok
}

// MarkUntracked keeps the last pose but flags the device as lost.
func (s *Store) MarkUntracked(device string) bool {
	sh := s.shardFor(device)

	sh.mx.Lock()
	defer sh.mx.Unlock()

	e, ok := sh.entries[device]
	if !ok {
		return false
	}
	e.Tracked = false
	e.Seq = s.version.Add(1)
	sh.entries[device] = e
	return true
}

// Remove forgets device entirely.
func (s *Store) Remove(device string) {
	sh := s.shardFor(device)

	sh.mx.Lock()
	delete(sh.entries, device)
	sh.mx.Unlock()

	s.version.Add(1)
}

// Snapshot copies every entry. Shards are locked one at a time, so the copy
// is consistent per device, not across devices.
func (s *Store) Snapshot() map[string]Entry {
	out := make(map[string]Entry)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mx.RLock()
		for name, e := range sh.entries {
			out[name] = e
		}
		sh.mx.RUnlock()
	}
	return out
}

// Names returns all device names in sorted order.
func (s *Store) Names() []string {
	snap := s.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of devices.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mx.RLock()
		n += len(sh.entries)
		sh.mx.RUnlock()
	}
	return n
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// ShardCount returns the number of shards.
func (s *Store) ShardCount() int {
	return s.count
}
