// Package shardmap distributes keys across N independent containers so that
// unrelated keys can be mutated in parallel, the way arena-cache splits its
// Cache into per-shard segments (pkg/shard.go) to minimise lock contention —
// here generalised from a single typed cache to the multi-type value store
// each engine package builds on top of.
//
// The shard index is xxhash.Sum64String(key) % N. The function is fixed
// (not pluggable) so that snapshots taken on one run remain meaningful
// across restarts: nothing outside this package is allowed to depend on
// which physical shard currently owns a key, only that the mapping is
// stable for a given key string.
//
// © 2025 Synap authors. MIT License.
package shardmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Count is the fixed number of shards. Not configurable at runtime: the
// rationale (spec §4.1) is bounding per-shard memory overhead while keeping
// contention low at typical core counts.
const Count = 64

// Shard is one exclusive-write container. Callers lock around the map they
// keep under it; Shard itself is agnostic to what's stored — each engine
// package wraps Shard with its own typed map.
type Shard struct {
	mu sync.RWMutex
	// Data is the engine-owned payload for this shard. Engines type-assert
	// or embed their own map here by composing Shard rather than reaching
	// into this field directly from outside the owning package.
	Data any
}

// RLock/RUnlock/Lock/Unlock expose the shard's RWMutex directly so engine
// packages can protect their own Data field with the same guard used for
// shard-local bookkeeping (size counters, etc).
func (s *Shard) RLock()   { s.mu.RLock() }
func (s *Shard) RUnlock() { s.mu.RUnlock() }
func (s *Shard) Lock()    { s.mu.Lock() }
func (s *Shard) Unlock()  { s.mu.Unlock() }

// Map is the read-only-after-construction array of shards. Iteration across
// shards is permitted but is NOT a consistent snapshot: a concurrent writer
// may be observed before its write on some shards and after on others.
type Map struct {
	shards [Count]*Shard
}

// New constructs a Map with newData invoked once per shard to build its
// engine-specific Data payload (e.g. a map[string]*Entry).
func New(newData func() any) *Map {
	m := &Map{}
	for i := range m.shards {
		m.shards[i] = &Shard{Data: newData()}
	}
	return m
}

// IndexOf returns the shard index a key hashes to. Exposed so multi-key
// operations (rename, copy, rpoplpush, smove, *store) can compute a
// deterministic lock-acquisition order across two or more keys.
func IndexOf(key string) int {
	return int(xxhash.Sum64String(key) % Count)
}

// ShardOf returns the exclusive-write container that owns key.
func (m *Map) ShardOf(key string) *Shard {
	return m.shards[IndexOf(key)]
}

// All returns every shard, for iteration (DBSIZE, KEYS, SCAN, snapshot).
// Callers MUST NOT assume cross-shard consistency of the returned slice.
func (m *Map) All() []*Shard {
	out := make([]*Shard, Count)
	copy(out, m.shards[:])
	return out
}

// LockBoth acquires write locks on the shards owning keyA and keyB in a
// globally ordered sequence (ascending shard index, tie-broken by key string)
// to avoid deadlock per spec §4.2.3/§4.3/§5. unlock() releases both in
// reverse order. If keyA and keyB map to the same shard, the shard is locked
// exactly once and unlock() is a no-op the second time it would fire.
func (m *Map) LockBoth(keyA, keyB string) (a, b *Shard, unlock func()) {
	a = m.ShardOf(keyA)
	b = m.ShardOf(keyB)
	if a == b {
		a.Lock()
		return a, b, func() { a.Unlock() }
	}
	first, second := a, b
	if IndexOf(keyB) < IndexOf(keyA) {
		first, second = b, a
	}
	first.Lock()
	second.Lock()
	return a, b, func() {
		second.Unlock()
		first.Unlock()
	}
}
