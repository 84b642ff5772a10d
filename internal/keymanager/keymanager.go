// Package keymanager implements Synap's cross-type key operations (spec
// §4.3): EXISTS/TYPE/RENAME/RENAMENX/COPY/RANDOMKEY, which must consult
// every engine because Synap's key namespace is global across types, the
// same way Redis requires a key to have exactly one type at a time.
//
// Engines are consulted in a fixed order (the Engine const block below) so
// that a key shadowed in more than one engine — which a correctly behaving
// dispatcher never allows, but which this package defends against — always
// resolves to the same type. Cross-engine operations take no lock of their
// own: each step (locating src, clearing dst from the other engines, the
// owning engine's Rename/Copy) locks and releases only the shards of the one
// engine it touches, so no lock is held across engines and a concurrent
// writer can interleave between the steps.
//
// © 2025 Synap authors. MIT License.
package keymanager

import (
	"math/rand"

	"github.com/synapdb/synap/internal/engine/bitmap"
	"github.com/synapdb/synap/internal/engine/hash"
	"github.com/synapdb/synap/internal/engine/hll"
	"github.com/synapdb/synap/internal/engine/kv"
	"github.com/synapdb/synap/internal/engine/list"
	"github.com/synapdb/synap/internal/engine/set"
	"github.com/synapdb/synap/internal/engine/stream"
	"github.com/synapdb/synap/internal/engine/zset"
	"github.com/synapdb/synap/internal/typederr"
)

// Engine identifies one of Synap's data engines, in the fixed priority
// order used to resolve a key's type. Geo keys are sorted sets under the
// hood (internal/engine/geo wraps the zset Store) and so are not a
// separate entry here — querying type on a GEO key reports "zset", exactly
// as Redis does.
type Engine int

const (
	EngineString Engine = iota
	EngineHash
	EngineList
	EngineSet
	EngineZSet
	EngineBitmap
	EngineHLL
	EngineStream
	engineCount
)

func (e Engine) String() string {
	switch e {
	case EngineString:
		return "string"
	case EngineHash:
		return "hash"
	case EngineList:
		return "list"
	case EngineSet:
		return "set"
	case EngineZSet:
		return "zset"
	case EngineBitmap:
		return "bitmap"
	case EngineHLL:
		return "hyperloglog"
	case EngineStream:
		return "stream"
	default:
		return "none"
	}
}

// Manager wires the key-level view across every engine Store.
type Manager struct {
	kvStore     *kv.Store
	hashStore   *hash.Store
	listStore   *list.Store
	setStore    *set.Store
	zsetStore   *zset.Store
	bitmapStore *bitmap.Store
	hllStore    *hll.Store
	streamStore *stream.Store
}

// New wires a Manager over every engine's Store. All eight are required:
// the manager's EXISTS/TYPE/RANDOMKEY must see the whole keyspace.
func New(
	kvStore *kv.Store,
	hashStore *hash.Store,
	listStore *list.Store,
	setStore *set.Store,
	zsetStore *zset.Store,
	bitmapStore *bitmap.Store,
	hllStore *hll.Store,
	streamStore *stream.Store,
) *Manager {
	return &Manager{
		kvStore: kvStore, hashStore: hashStore, listStore: listStore, setStore: setStore,
		zsetStore: zsetStore, bitmapStore: bitmapStore, hllStore: hllStore, streamStore: streamStore,
	}
}

func (m *Manager) existsIn(e Engine, key string) bool {
	switch e {
	case EngineString:
		return m.kvStore.Exists(key)
	case EngineHash:
		return m.hashStore.Exists(key)
	case EngineList:
		return m.listStore.Exists(key)
	case EngineSet:
		return m.setStore.Exists(key)
	case EngineZSet:
		return m.zsetStore.Exists(key)
	case EngineBitmap:
		return m.bitmapStore.Exists(key)
	case EngineHLL:
		return m.hllStore.Exists(key)
	case EngineStream:
		return m.streamStore.Exists(key)
	default:
		return false
	}
}

func (m *Manager) delIn(e Engine, key string) bool {
	switch e {
	case EngineString:
		return m.kvStore.Del(key)
	case EngineHash:
		return m.hashStore.Del(key)
	case EngineList:
		return m.listStore.Del(key)
	case EngineSet:
		return m.setStore.Del(key)
	case EngineZSet:
		return m.zsetStore.Del(key)
	case EngineBitmap:
		return m.bitmapStore.Del(key)
	case EngineHLL:
		return m.hllStore.Del(key)
	case EngineStream:
		return m.streamStore.Del(key)
	default:
		return false
	}
}

func (m *Manager) renameIn(e Engine, src, dst string) bool {
	switch e {
	case EngineString:
		return m.kvStore.Rename(src, dst)
	case EngineHash:
		return m.hashStore.Rename(src, dst)
	case EngineList:
		return m.listStore.Rename(src, dst)
	case EngineSet:
		return m.setStore.Rename(src, dst)
	case EngineZSet:
		return m.zsetStore.Rename(src, dst)
	case EngineBitmap:
		return m.bitmapStore.Rename(src, dst)
	case EngineHLL:
		return m.hllStore.Rename(src, dst)
	case EngineStream:
		return m.streamStore.Rename(src, dst)
	default:
		return false
	}
}

func (m *Manager) copyIn(e Engine, src, dst string, replace bool) bool {
	switch e {
	case EngineString:
		return m.kvStore.Copy(src, dst, replace)
	case EngineHash:
		return m.hashStore.Copy(src, dst, replace)
	case EngineList:
		return m.listStore.Copy(src, dst, replace)
	case EngineSet:
		return m.setStore.Copy(src, dst, replace)
	case EngineZSet:
		return m.zsetStore.Copy(src, dst, replace)
	case EngineBitmap:
		return m.bitmapStore.Copy(src, dst, replace)
	case EngineHLL:
		return m.hllStore.Copy(src, dst, replace)
	case EngineStream:
		return m.streamStore.Copy(src, dst, replace)
	default:
		return false
	}
}

func (m *Manager) allEngines() []Engine {
	out := make([]Engine, engineCount)
	for i := range out {
		out[i] = Engine(i)
	}
	return out
}

// Type returns key's type tag, or "none" if it is absent from every engine.
func (m *Manager) Type(key string) string {
	if e, ok := m.locate(key); ok {
		return e.String()
	}
	return "none"
}

// locate returns the first engine (in priority order) holding key live.
func (m *Manager) locate(key string) (Engine, bool) {
	for _, e := range m.allEngines() {
		if m.existsIn(e, key) {
			return e, true
		}
	}
	return 0, false
}

// Exists reports whether key is present in any engine.
func (m *Manager) Exists(key string) bool {
	_, ok := m.locate(key)
	return ok
}

// Del removes key from whichever engine holds it. Returns true if it
// existed. Callers that already know a key's engine should call that
// engine's own Del directly instead; this is for generic/cross-type paths
// (the dispatcher's keys.del command) that do not.
func (m *Manager) Del(key string) bool {
	e, ok := m.locate(key)
	if !ok {
		return false
	}
	return m.delIn(e, key)
}

// clearEverywhereExcept deletes key from every engine other than keep (used
// before writing a rename/copy destination, so the global single-type
// invariant holds even if some other engine happened to hold dst).
func (m *Manager) clearEverywhereExcept(key string, keep Engine) {
	for _, e := range m.allEngines() {
		if e == keep {
			continue
		}
		m.delIn(e, key)
	}
}

// Rename moves src to dst, overwriting dst (in whichever engine(s) held it)
// regardless of type. Fails with typederr.NotFound if src does not exist.
func (m *Manager) Rename(src, dst string) error {
	e, ok := m.locate(src)
	if !ok {
		return typederr.New(typederr.NotFound, "no such key")
	}
	m.clearEverywhereExcept(dst, e)
	m.renameIn(e, src, dst) // same engine's own shardmap.LockBoth handles src/dst locking
	return nil
}

// RenameNX is Rename but fails with typederr.DestinationExists if dst
// already exists in any engine.
func (m *Manager) RenameNX(src, dst string) error {
	e, ok := m.locate(src)
	if !ok {
		return typederr.New(typederr.NotFound, "no such key")
	}
	if m.Exists(dst) {
		return typederr.New(typederr.DestinationExists, "destination key already exists")
	}
	m.renameIn(e, src, dst)
	return nil
}

// Copy deep-copies src's value to dst. When replace is false and dst
// already exists (in any engine), fails with typederr.DestinationExists.
func (m *Manager) Copy(src, dst string, replace bool) error {
	e, ok := m.locate(src)
	if !ok {
		return typederr.New(typederr.NotFound, "no such key")
	}
	if !replace && m.Exists(dst) {
		return typederr.New(typederr.DestinationExists, "destination key already exists")
	}
	m.clearEverywhereExcept(dst, e)
	if !m.copyIn(e, src, dst, replace) {
		return typederr.New(typederr.DestinationExists, "destination key already exists")
	}
	return nil
}

// RandomKey returns one key chosen uniformly at random from the union of
// every engine's keys, or ("", false) if the keyspace is empty. This
// necessarily enumerates every engine's keys, which is O(keyspace size);
// spec §4.3 does not require O(1) here.
func (m *Manager) RandomKey() (string, bool) {
	var all []string
	all = append(all, m.kvStore.Keys()...)
	all = append(all, m.hashStore.Keys()...)
	all = append(all, m.listStore.Keys()...)
	all = append(all, m.setStore.Keys()...)
	all = append(all, m.zsetStore.Keys()...)
	all = append(all, m.bitmapStore.Keys()...)
	all = append(all, m.hllStore.Keys()...)
	all = append(all, m.streamStore.Keys()...)
	if len(all) == 0 {
		return "", false
	}
	return all[rand.Intn(len(all))], true
}
