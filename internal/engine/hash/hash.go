// Package hash implements Synap's Hash engine (spec §4.2.2): field-addressed
// maps with the whole key removed once its last field is deleted, sharded
// the same way internal/engine/kv is.
//
// © 2025 Synap authors. MIT License.
package hash

import (
	"strconv"
	"time"

	"github.com/synapdb/synap/internal/shardmap"
	"github.com/synapdb/synap/internal/typederr"
)

type hashValue struct {
	fields   map[string][]byte
	expireAt time.Time
}

func (h *hashValue) expired(now time.Time) bool {
	return !h.expireAt.IsZero() && !now.Before(h.expireAt)
}

type shardData struct {
	m map[string]*hashValue
}

// Store is the Hash engine.
type Store struct {
	shards *shardmap.Map
}

func New() *Store {
	return &Store{shards: shardmap.New(func() any { return &shardData{m: make(map[string]*hashValue, 1024)} })}
}

func data(s *shardmap.Shard) *shardData { return s.Data.(*shardData) }

func expireLocked(d *shardData, key string, now time.Time) {
	if h, ok := d.m[key]; ok && h.expired(now) {
		delete(d.m, key)
	}
}

// Sweep deletes every expired hash key across all shards.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards.All() {
		sh.Lock()
		d := data(sh)
		for k, h := range d.m {
			if h.expired(now) {
				delete(d.m, k)
				removed++
			}
		}
		sh.Unlock()
	}
	return removed
}

// Exists reports whether key holds a live hash.
func (s *Store) Exists(key string) bool {
	sh := s.shards.ShardOf(key)
	now := time.Now()
	sh.Lock()
	defer sh.Unlock()
	expireLocked(data(sh), key, now)
	_, ok := data(sh).m[key]
	return ok
}

// HSet sets field=value in key's hash, creating it if absent. Returns true
// if field was newly created (vs updated).
func (s *Store) HSet(key, field string, value []byte) (bool, error) {
	sh := s.shards.ShardOf(key)
	now := time.Now()
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)
	h, ok := d.m[key]
	if !ok {
		h = &hashValue{fields: make(map[string][]byte, 8)}
		d.m[key] = h
	}
	_, existed := h.fields[field]
	h.fields[field] = append([]byte(nil), value...)
	return !existed, nil
}

// HMSet sets every field in pairs under key.
func (s *Store) HMSet(key string, pairs map[string][]byte) error {
	sh := s.shards.ShardOf(key)
	now := time.Now()
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)
	h, ok := d.m[key]
	if !ok {
		h = &hashValue{fields: make(map[string][]byte, len(pairs))}
		d.m[key] = h
	}
	for f, v := range pairs {
		h.fields[f] = append([]byte(nil), v...)
	}
	return nil
}

// HGet returns the value of field in key's hash.
func (s *Store) HGet(key, field string) ([]byte, bool) {
	sh := s.shards.ShardOf(key)
	now := time.Now()
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)
	h, ok := d.m[key]
	if !ok {
		return nil, false
	}
	v, ok := h.fields[field]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// HMGet returns values for each field, in order; missing fields yield nil.
func (s *Store) HMGet(key string, fields []string) [][]byte {
	out := make([][]byte, len(fields))
	for i, f := range fields {
		if v, ok := s.HGet(key, f); ok {
			out[i] = v
		}
	}
	return out
}

// HGetAll returns a copy of every field/value pair in key's hash.
func (s *Store) HGetAll(key string) map[string][]byte {
	sh := s.shards.ShardOf(key)
	now := time.Now()
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)
	h, ok := d.m[key]
	if !ok {
		return nil
	}
	out := make(map[string][]byte, len(h.fields))
	for f, v := range h.fields {
		out[f] = append([]byte(nil), v...)
	}
	return out
}

// HDel removes fields from key's hash, deleting the key entirely once its
// last field is removed (spec §4.2.2). Returns the number of fields removed.
func (s *Store) HDel(key string, fields []string) int {
	sh := s.shards.ShardOf(key)
	now := time.Now()
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)
	h, ok := d.m[key]
	if !ok {
		return 0
	}
	n := 0
	for _, f := range fields {
		if _, ok := h.fields[f]; ok {
			delete(h.fields, f)
			n++
		}
	}
	if len(h.fields) == 0 {
		delete(d.m, key)
	}
	return n
}

// HExists reports whether field is present in key's hash.
func (s *Store) HExists(key, field string) bool {
	_, ok := s.HGet(key, field)
	return ok
}

// HLen returns the number of fields in key's hash (0 if absent).
func (s *Store) HLen(key string) int {
	all := s.HGetAll(key)
	return len(all)
}

// HKeys returns every field name in key's hash.
func (s *Store) HKeys(key string) []string {
	all := s.HGetAll(key)
	out := make([]string, 0, len(all))
	for f := range all {
		out = append(out, f)
	}
	return out
}

// HVals returns every field value in key's hash.
func (s *Store) HVals(key string) [][]byte {
	all := s.HGetAll(key)
	out := make([][]byte, 0, len(all))
	for _, v := range all {
		out = append(out, v)
	}
	return out
}

// HIncrBy adds delta to the integer value of field, creating it at 0 if
// absent, and returns the new value.
func (s *Store) HIncrBy(key, field string, delta int64) (int64, error) {
	sh := s.shards.ShardOf(key)
	now := time.Now()
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)
	h, ok := d.m[key]
	if !ok {
		h = &hashValue{fields: make(map[string][]byte, 1)}
		d.m[key] = h
	}
	cur := int64(0)
	if v, ok := h.fields[field]; ok {
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, typederr.Wrap(typederr.InvalidValue, "hash field is not an integer", err)
		}
		cur = n
	}
	next := cur + delta
	h.fields[field] = []byte(strconv.FormatInt(next, 10))
	return next, nil
}

// HIncrByFloat adds delta to the float value of field, creating it at 0 if
// absent, and returns the new value.
func (s *Store) HIncrByFloat(key, field string, delta float64) (float64, error) {
	sh := s.shards.ShardOf(key)
	now := time.Now()
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)
	h, ok := d.m[key]
	if !ok {
		h = &hashValue{fields: make(map[string][]byte, 1)}
		d.m[key] = h
	}
	cur := 0.0
	if v, ok := h.fields[field]; ok {
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return 0, typederr.Wrap(typederr.InvalidValue, "hash field is not a float", err)
		}
		cur = f
	}
	next := cur + delta
	h.fields[field] = []byte(strconv.FormatFloat(next, 'f', -1, 64))
	return next, nil
}

// Record is one key's exportable state, used by internal/persistence/snapshot.
type Record struct {
	Key      string
	Fields   map[string][]byte
	ExpireAt time.Time
}

// Export snapshots every live hash's state.
func (s *Store) Export() []Record {
	now := time.Now()
	var out []Record
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, v := range data(sh).m {
			if v.expired(now) {
				continue
			}
			fields := make(map[string][]byte, len(v.fields))
			for f, val := range v.fields {
				fields[f] = append([]byte(nil), val...)
			}
			out = append(out, Record{Key: k, Fields: fields, ExpireAt: v.expireAt})
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
		data(sh).m[r.Key] = &hashValue{fields: r.Fields, expireAt: r.ExpireAt}
		sh.Unlock()
	}
}

// Keys returns every live key held by this hash engine.
func (s *Store) Keys() []string {
	now := time.Now()
	var out []string
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, v := range data(sh).m {
			if !v.expired(now) {
				out = append(out, k)
			}
		}
		sh.RUnlock()
	}
	return out
}

// Rename moves src's hash to dst, overwriting dst if present.
func (s *Store) Rename(src, dst string) bool {
	shSrc, shDst, unlock := s.shards.LockBoth(src, dst)
	defer unlock()
	now := time.Now()
	dSrc, dDst := data(shSrc), data(shDst)
	expireLocked(dSrc, src, now)
	v, ok := dSrc.m[src]
	if !ok {
		return false
	}
	delete(dSrc.m, src)
	dDst.m[dst] = v
	return true
}

// Copy deep-copies src's hash to dst. Returns false if src is absent, or if
// dst exists and replace is false.
func (s *Store) Copy(src, dst string, replace bool) bool {
	shSrc, shDst, unlock := s.shards.LockBoth(src, dst)
	defer unlock()
	now := time.Now()
	dSrc, dDst := data(shSrc), data(shDst)
	expireLocked(dSrc, src, now)
	v, ok := dSrc.m[src]
	if !ok {
		return false
	}
	expireLocked(dDst, dst, now)
	if _, exists := dDst.m[dst]; exists && !replace {
		return false
	}
	cp := &hashValue{fields: make(map[string][]byte, len(v.fields)), expireAt: v.expireAt}
	for k, val := range v.fields {
		cp.fields[k] = append([]byte(nil), val...)
	}
	dDst.m[dst] = cp
	return true
}

// Del removes key entirely; returns true if it existed.
func (s *Store) Del(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	if _, ok := d.m[key]; !ok {
		return false
	}
	delete(d.m, key)
	return true
}
