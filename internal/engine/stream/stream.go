// Package stream implements Synap's Stream engine (spec §4.2.9): an
// append-only, per-key ring buffer of byte payloads with monotonically
// increasing offsets, supporting publish/consume-from-offset and eviction
// once a stream exceeds its configured capacity.
//
// [EXPANSION] Per SPEC_FULL.md's domain-stack wiring, evicted entries are
// not simply dropped: they are handed to an ArchiveSink, with a
// dgraph-io/badger/v4-backed implementation (badger_archive.go) so a
// consumer that fell behind the live ring can still page through history
// from cold storage instead of silently losing it.
//
// © 2025 Synap authors. MIT License.
package stream

import (
	"container/ring"
	"time"

	"github.com/synapdb/synap/internal/shardmap"
)

// Entry is one published stream event.
type Entry struct {
	Offset    uint64
	Payload   []byte
	Timestamp time.Time
}

// ArchiveSink receives entries evicted from the live ring buffer by
// compaction. Implementations must be safe for concurrent use.
type ArchiveSink interface {
	Archive(streamKey string, entry Entry) error
	// Fetch returns archived entries for streamKey with offset in
	// (fromOffset, fromOffset+limit], ascending, for consumers reading
	// behind the live ring's retention window.
	Fetch(streamKey string, fromOffset uint64, limit int) ([]Entry, error)
}

// NoopArchiveSink discards evicted entries; used when no archival backend
// is configured (and by unit tests that don't need cold-storage replay).
type NoopArchiveSink struct{}

func (NoopArchiveSink) Archive(string, Entry) error                { return nil }
func (NoopArchiveSink) Fetch(string, uint64, int) ([]Entry, error) { return nil, nil }

type streamValue struct {
	buf        *ring.Ring // elements are *Entry, nil until filled
	cap        int
	len        int // number of live (non-nil) entries currently in buf
	nextOffset uint64
}

func newStreamValue(capacity int) *streamValue {
	return &streamValue{buf: ring.New(capacity), cap: capacity, nextOffset: 1}
}

type shardData struct {
	m map[string]*streamValue
}

// Store is the Stream engine.
type Store struct {
	shards     *shardmap.Map
	defaultCap int
	archive    ArchiveSink
}

// Option configures New.
type Option func(*Store)

// WithDefaultCapacity sets the ring buffer size for streams created without
// an explicit capacity (default 1024).
func WithDefaultCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.defaultCap = n
		}
	}
}

// WithArchiveSink wires an eviction archive, e.g. a badger-backed one.
func WithArchiveSink(sink ArchiveSink) Option {
	return func(s *Store) { s.archive = sink }
}

func New(opts ...Option) *Store {
	st := &Store{
		shards:     shardmap.New(func() any { return &shardData{m: make(map[string]*streamValue, 64)} }),
		defaultCap: 1024,
		archive:    NoopArchiveSink{},
	}
	for _, o := range opts {
		o(st)
	}
	return st
}

func data(s *shardmap.Shard) *shardData { return s.Data.(*shardData) }

// Exists reports whether key holds a stream (even an empty one that was
// explicitly created).
func (s *Store) Exists(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	_, ok := data(sh).m[key]
	return ok
}

// Publish appends payload to key's stream (creating it with the default
// capacity if absent) and returns the assigned offset. When the stream is
// at capacity, the oldest live entry is evicted to s.archive before the
// new one is written.
func (s *Store) Publish(key string, payload []byte) uint64 {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	v, ok := data(sh).m[key]
	if !ok {
		v = newStreamValue(s.defaultCap)
		data(sh).m[key] = v
	}

	var evicted *Entry
	if v.len == v.cap {
		if old, ok := v.buf.Value.(*Entry); ok && old != nil {
			evicted = old
		}
	} else {
		v.len++
	}

	entry := &Entry{Offset: v.nextOffset, Payload: append([]byte(nil), payload...), Timestamp: time.Now()}
	v.buf.Value = entry
	v.buf = v.buf.Next()
	v.nextOffset++
	offset := entry.Offset
	sh.Unlock()

	if evicted != nil {
		_ = s.archive.Archive(key, *evicted) // archival failures are non-fatal to the publish path
	}
	return offset
}

// liveEntriesLocked returns every live entry in ascending offset order;
// caller must hold the shard lock.
func liveEntriesLocked(v *streamValue) []*Entry {
	if v.len == 0 {
		return nil
	}
	out := make([]*Entry, 0, v.len)
	// v.buf always points at the slot the NEXT write will occupy. The
	// oldest live entry is v.len slots behind that (coincides with v.buf
	// itself once the ring has fully wrapped, since v.len==v.cap then).
	r := v.buf.Move(-v.len)
	for i := 0; i < v.len; i++ {
		if e, ok := r.Value.(*Entry); ok && e != nil {
			out = append(out, e)
		}
		r = r.Next()
	}
	return out
}

// Consume returns up to limit entries with offset > fromOffset, ascending,
// first from the live ring buffer and then, if the live ring's oldest
// retained offset is already past fromOffset+1, backfilled from the
// archive sink so a slow consumer doesn't see a gap.
func (s *Store) Consume(key string, fromOffset uint64, limit int) ([]Entry, error) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	v, ok := data(sh).m[key]
	if !ok {
		sh.Unlock()
		return nil, nil
	}
	live := liveEntriesLocked(v)
	sh.Unlock()

	var out []Entry
	oldestLive := uint64(0)
	if len(live) > 0 {
		oldestLive = live[0].Offset
	}
	if oldestLive > fromOffset+1 {
		archived, err := s.archive.Fetch(key, fromOffset, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, archived...)
	}
	for _, e := range live {
		if e.Offset > fromOffset {
			out = append(out, *e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of live entries currently retained in the ring
// (not counting anything evicted to the archive).
func (s *Store) Len(key string) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := data(sh).m[key]
	if !ok {
		return 0
	}
	return v.len
}

// LastOffset returns the most recently assigned offset (0 if the stream is
// empty or absent).
func (s *Store) LastOffset(key string) uint64 {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	v, ok := data(sh).m[key]
	if !ok || v.nextOffset == 1 {
		return 0
	}
	return v.nextOffset - 1
}

// Record is one key's exportable state, used by internal/persistence/snapshot.
// Only the live ring buffer is captured; archived (evicted) entries remain
// in the archive sink, which persists independently of engine snapshots.
type Record struct {
	Key        string
	Entries    []Entry
	Cap        int
	NextOffset uint64
}

// Export snapshots every stream's live ring buffer contents.
func (s *Store) Export() []Record {
	var out []Record
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, v := range data(sh).m {
			entries := liveEntriesLocked(v)
			copied := make([]Entry, len(entries))
			for i, e := range entries {
				copied[i] = *e
			}
			out = append(out, Record{Key: k, Entries: copied, Cap: v.cap, NextOffset: v.nextOffset})
		}
		sh.RUnlock()
	}
	return out
}

// Import loads records produced by Export, overwriting any existing state.
func (s *Store) Import(records []Record) {
	for _, r := range records {
		sh := s.shards.ShardOf(r.Key)
		sh.Lock()
		v := newStreamValue(r.Cap)
		for _, e := range r.Entries {
			entry := e
			v.buf.Value = &entry
			v.buf = v.buf.Next()
			v.len++
		}
		v.nextOffset = r.NextOffset
		data(sh).m[r.Key] = v
		sh.Unlock()
	}
}

// Keys returns every key currently present in this stream engine.
func (s *Store) Keys() []string {
	var out []string
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k := range data(sh).m {
			out = append(out, k)
		}
		sh.RUnlock()
	}
	return out
}

// Rename moves src's stream to dst, overwriting dst if present.
func (s *Store) Rename(src, dst string) bool {
	shSrc, shDst, unlock := s.shards.LockBoth(src, dst)
	defer unlock()
	dSrc, dDst := data(shSrc), data(shDst)
	v, ok := dSrc.m[src]
	if !ok {
		return false
	}
	delete(dSrc.m, src)
	dDst.m[dst] = v
	return true
}

// Copy deep-copies src's stream (including its ring buffer contents but not
// its archived history) to dst. Returns false if src is absent, or if dst
// exists and replace is false.
func (s *Store) Copy(src, dst string, replace bool) bool {
	shSrc, shDst, unlock := s.shards.LockBoth(src, dst)
	defer unlock()
	dSrc, dDst := data(shSrc), data(shDst)
	v, ok := dSrc.m[src]
	if !ok {
		return false
	}
	if _, exists := dDst.m[dst]; exists && !replace {
		return false
	}
	cp := newStreamValue(v.cap)
	for _, e := range liveEntriesLocked(v) {
		cp.buf.Value = &Entry{Offset: e.Offset, Payload: append([]byte(nil), e.Payload...), Timestamp: e.Timestamp}
		cp.buf = cp.buf.Next()
		cp.len++
	}
	cp.nextOffset = v.nextOffset
	dDst.m[dst] = cp
	return true
}

// Del removes key's stream entirely; returns true if it existed. Archived
// entries in the sink, if any, are left in place (they age out on the
// sink's own retention policy, not the live engine's).
func (s *Store) Del(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	if _, ok := data(sh).m[key]; !ok {
		return false
	}
	delete(data(sh).m, key)
	return true
}
