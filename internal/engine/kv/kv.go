// Package kv implements Synap's String/KV engine (spec §4.2.1): get, set,
// incr/decr, range operations, and prefix scan, sharded the way arena-cache
// shards its single-typed Cache (pkg/shard.go) — generalised here to the
// variable-length byte values a key/value store actually holds.
//
// © 2025 Synap authors. MIT License.
package kv

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/synapdb/synap/internal/shardmap"
	"github.com/synapdb/synap/internal/typederr"
)

// entry is the value held for one key. expireAt is zero when the key has no
// TTL. createdAt/accessedAt mirror spec §3's TypedValue::String metadata.
type entry struct {
	value      []byte
	expireAt   time.Time
	createdAt  time.Time
	accessedAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

type shardData struct {
	m     map[string]*entry
	bytes int64 // running total of len(value) for this shard, for the memory cap
}

// Store is the String/KV engine. Safe for concurrent use.
type Store struct {
	shards   *shardmap.Map
	maxBytes int64 // 0 disables the cap
}

// New constructs a Store. maxBytes<=0 disables the memory cap (refuse-on-full
// policy, spec §4.2.1 "Memory policy").
func New(maxBytes int64) *Store {
	return &Store{
		shards:   shardmap.New(func() any { return &shardData{m: make(map[string]*entry, 1024)} }),
		maxBytes: maxBytes,
	}
}

func data(s *shardmap.Shard) *shardData { return s.Data.(*shardData) }

// expireLocked deletes key if expired, given the shard is already write-locked.
// Returns true if the key was deleted.
func expireLocked(d *shardData, key string, now time.Time) bool {
	e, ok := d.m[key]
	if !ok {
		return false
	}
	if e.expired(now) {
		d.bytes -= int64(len(e.value))
		delete(d.m, key)
		return true
	}
	return false
}

// Sweep deletes every expired key across all shards; invoked by the
// background TTL sweeper (spec §3 invariant 4) at a fixed cadence.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards.All() {
		sh.Lock()
		d := data(sh)
		for k, e := range d.m {
			if e.expired(now) {
				d.bytes -= int64(len(e.value))
				delete(d.m, k)
				removed++
			}
		}
		sh.Unlock()
	}
	return removed
}

// Exists reports whether key holds a live (non-expired) value.
func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Get returns the value for key, lazily expiring it first if its TTL has
// elapsed (spec §3 invariant 4).
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shards.ShardOf(key)
	now := time.Now()

	sh.RLock()
	d := data(sh)
	e, ok := d.m[key]
	if ok && e.expired(now) {
		ok = false
	}
	if ok {
		e.accessedAt = now
		v := append([]byte(nil), e.value...)
		sh.RUnlock()
		return v, true
	}
	sh.RUnlock()

	s.lazyExpire(key, now)
	return nil, false
}

func (s *Store) lazyExpire(key string, now time.Time) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	removed := expireLocked(data(sh), key, now)
	sh.Unlock()
	return removed
}

// Set stores value under key with an optional absolute expiration computed
// from ttl (0 = no expiry). Enforces the memory cap (spec §4.2.1).
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	sh := s.shards.ShardOf(key)
	now := time.Now()

	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)

	old, existed := d.m[key]
	delta := int64(len(value))
	if existed {
		delta -= int64(len(old.value))
	}
	if s.maxBytes > 0 && d.bytes+delta > s.maxBytes {
		return typederr.New(typederr.MemoryLimitExceeded, "projected total bytes exceed cap")
	}

	e := &entry{value: append([]byte(nil), value...), createdAt: now, accessedAt: now}
	if ttl > 0 {
		e.expireAt = now.Add(ttl)
	}
	d.m[key] = e
	d.bytes += delta
	return nil
}

// SetNX sets key only if absent (or expired). Returns true if the set happened.
func (s *Store) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	sh := s.shards.ShardOf(key)
	now := time.Now()

	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, now)
	if _, ok := d.m[key]; ok {
		return false, nil
	}
	if s.maxBytes > 0 && d.bytes+int64(len(value)) > s.maxBytes {
		return false, typederr.New(typederr.MemoryLimitExceeded, "projected total bytes exceed cap")
	}
	e := &entry{value: append([]byte(nil), value...), createdAt: now, accessedAt: now}
	if ttl > 0 {
		e.expireAt = now.Add(ttl)
	}
	d.m[key] = e
	d.bytes += int64(len(value))
	return true, nil
}

// Del deletes key; returns true if it existed.
func (s *Store) Del(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	e, ok := d.m[key]
	if !ok {
		return false
	}
	d.bytes -= int64(len(e.value))
	delete(d.m, key)
	return true
}

// MDel deletes every key in keys, returning the count actually removed.
func (s *Store) MDel(keys []string) int {
	n := 0
	for _, k := range keys {
		if s.Del(k) {
			n++
		}
	}
	return n
}

// TTL returns the remaining time-to-live, or -1s if the key has no TTL, or
// -2s if the key does not exist.
func (s *Store) TTL(key string) time.Duration {
	v, ok := s.Get(key) // also lazily expires
	_ = v
	if !ok {
		return -2 * time.Second
	}
	sh := s.shards.ShardOf(key)
	sh.RLock()
	defer sh.RUnlock()
	e := data(sh).m[key]
	if e == nil || e.expireAt.IsZero() {
		return -1 * time.Second
	}
	return time.Until(e.expireAt)
}

// Expire sets key's absolute expiration to now+ttl. Returns true iff key
// existed (spec §4.2.1).
func (s *Store) Expire(key string, ttl time.Duration) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	e, ok := d.m[key]
	if !ok {
		return false
	}
	e.expireAt = time.Now().Add(ttl)
	return true
}

// Persist removes key's TTL. Returns true iff key existed and had a TTL.
func (s *Store) Persist(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	e, ok := data(sh).m[key]
	if !ok || e.expireAt.IsZero() {
		return false
	}
	e.expireAt = time.Time{}
	return true
}

// parseInt parses b as a base-10 signed integer, treating an absent value
// (nil) as 0. Returns a typederr.InvalidValue error on failure.
func parseInt(b []byte) (int64, error) {
	if b == nil {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, typederr.Wrap(typederr.InvalidValue, "value is not an integer", err)
	}
	return n, nil
}

// Incr adds delta to the integer value at key (absent treated as 0) and
// stores the result, returning it.
func (s *Store) Incr(key string, delta int64) (int64, error) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())

	cur, err := parseInt(valueOf(d, key))
	if err != nil {
		return 0, err
	}
	next := cur + delta
	s.storeLocked(d, key, []byte(strconv.FormatInt(next, 10)))
	return next, nil
}

func valueOf(d *shardData, key string) []byte {
	if e, ok := d.m[key]; ok {
		return e.value
	}
	return nil
}

func (s *Store) storeLocked(d *shardData, key string, value []byte) {
	old, existed := d.m[key]
	delta := int64(len(value))
	if existed {
		delta -= int64(len(old.value))
		old.value = value
	} else {
		now := time.Now()
		d.m[key] = &entry{value: value, createdAt: now, accessedAt: now}
	}
	d.bytes += delta
}

// IncrByFloat adds delta to the float value at key and stores the result.
func (s *Store) IncrByFloat(key string, delta float64) (float64, error) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())

	raw := valueOf(d, key)
	var cur float64
	if raw != nil {
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return 0, typederr.Wrap(typederr.InvalidValue, "value is not a float", err)
		}
		cur = f
	}
	next := cur + delta
	s.storeLocked(d, key, []byte(strconv.FormatFloat(next, 'f', -1, 64)))
	return next, nil
}

// MSet sets every pair; not transactional across shards but each individual
// assignment is atomic.
func (s *Store) MSet(pairs map[string][]byte) error {
	for k, v := range pairs {
		if err := s.Set(k, v, 0); err != nil {
			return err
		}
	}
	return nil
}

// MSetNX sets all pairs only if none of the keys already exist (all-or-
// nothing, spec §4.2.1). Locks every distinct shard involved, in ascending
// shard-index order, before checking existence, to make the check-then-set
// atomic across shards.
func (s *Store) MSetNX(pairs map[string][]byte) (bool, error) {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	shardOf := map[int]*shardmap.Shard{}
	for _, k := range keys {
		idx := shardmap.IndexOf(k)
		shardOf[idx] = s.shards.ShardOf(k)
	}
	idxs := make([]int, 0, len(shardOf))
	for idx := range shardOf {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		shardOf[idx].Lock()
		defer shardOf[idx].Unlock()
	}

	now := time.Now()
	for _, k := range keys {
		sh := shardOf[shardmap.IndexOf(k)]
		d := data(sh)
		expireLocked(d, k, now)
		if _, ok := d.m[k]; ok {
			return false, nil
		}
	}
	for k, v := range pairs {
		sh := shardOf[shardmap.IndexOf(k)]
		d := data(sh)
		e := &entry{value: append([]byte(nil), v...), createdAt: now, accessedAt: now}
		d.m[k] = e
		d.bytes += int64(len(v))
	}
	return true, nil
}

// MGet returns values in the same order as keys; a missing/expired key
// yields a nil slice at that position.
func (s *Store) MGet(keys []string) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, ok := s.Get(k); ok {
			out[i] = v
		}
	}
	return out
}

// Append appends tail to the existing value (empty string if absent, spec
// semantics mirror Redis APPEND) and returns the new length.
func (s *Store) Append(key string, tail []byte) (int, error) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	cur := valueOf(d, key)
	next := append(append([]byte(nil), cur...), tail...)
	if s.maxBytes > 0 && d.bytes+int64(len(next)-len(cur)) > s.maxBytes {
		return 0, typederr.New(typederr.MemoryLimitExceeded, "projected total bytes exceed cap")
	}
	s.storeLocked(d, key, next)
	return len(next), nil
}

// Strlen returns len(value), or 0 if key is absent.
func (s *Store) Strlen(key string) int {
	v, _ := s.Get(key)
	return len(v)
}

func normalizeRange(n, start, end int) (int, int, bool) {
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if n == 0 || start > end || start >= n {
		return 0, 0, false
	}
	return start, end, true
}

// GetRange returns value[start:end] with Redis-style inclusive, negative-
// index-from-tail semantics (spec §4.2.1).
func (s *Store) GetRange(key string, start, end int) []byte {
	v, ok := s.Get(key)
	if !ok {
		return []byte{}
	}
	st, en, valid := normalizeRange(len(v), start, end)
	if !valid {
		return []byte{}
	}
	return append([]byte(nil), v[st:en+1]...)
}

// SetRange writes bytes at offset, zero-extending the value if offset is
// past the current length, and returns the new length.
func (s *Store) SetRange(key string, offset int, b []byte) (int, error) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	cur := append([]byte(nil), valueOf(d, key)...)
	need := offset + len(b)
	if need > len(cur) {
		grown := make([]byte, need)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:], b)
	if s.maxBytes > 0 && d.bytes+int64(len(cur))-int64(len(valueOf(d, key))) > s.maxBytes {
		return 0, typederr.New(typederr.MemoryLimitExceeded, "projected total bytes exceed cap")
	}
	s.storeLocked(d, key, cur)
	return len(cur), nil
}

// GetSet atomically swaps in newValue and returns the previous value (nil,
// false if absent).
func (s *Store) GetSet(key string, newValue []byte) ([]byte, bool) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	old := valueOf(d, key)
	var prev []byte
	existed := old != nil
	if existed {
		prev = append([]byte(nil), old...)
	}
	s.storeLocked(d, key, append([]byte(nil), newValue...))
	return prev, existed
}

// Keys returns every live key, in no particular order.
func (s *Store) Keys() []string {
	now := time.Now()
	var out []string
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, e := range data(sh).m {
			if !e.expired(now) {
				out = append(out, k)
			}
		}
		sh.RUnlock()
	}
	return out
}

// Scan returns up to limit keys starting with prefix.
func (s *Store) Scan(prefix string, limit int) []string {
	now := time.Now()
	var out []string
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, e := range data(sh).m {
			if e.expired(now) {
				continue
			}
			if prefix != "" && !strings.HasPrefix(k, prefix) {
				continue
			}
			out = append(out, k)
			if limit > 0 && len(out) >= limit {
				sh.RUnlock()
				return out
			}
		}
		sh.RUnlock()
	}
	return out
}

// DBSize returns the total number of live keys.
func (s *Store) DBSize() int {
	now := time.Now()
	n := 0
	for _, sh := range s.shards.All() {
		sh.RLock()
		for _, e := range data(sh).m {
			if !e.expired(now) {
				n++
			}
		}
		sh.RUnlock()
	}
	return n
}

// Rename moves src's value to dst, overwriting dst if present. Returns
// false if src did not exist (live).
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
	dSrc.bytes -= int64(len(v.value))

	expireLocked(dDst, dst, now)
	if old, exists := dDst.m[dst]; exists {
		dDst.bytes -= int64(len(old.value))
	}
	dDst.m[dst] = v
	dDst.bytes += int64(len(v.value))
	return true
}

// Copy deep-copies src's value to dst. Returns false if src is absent, or
// if dst exists and replace is false.
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
	if old, exists := dDst.m[dst]; exists {
		if !replace {
			return false
		}
		dDst.bytes -= int64(len(old.value))
	}
	cp := &entry{value: append([]byte(nil), v.value...), expireAt: v.expireAt, createdAt: now, accessedAt: now}
	dDst.m[dst] = cp
	dDst.bytes += int64(len(cp.value))
	return true
}

// Record is one key's exportable state, used by internal/persistence/snapshot.
type Record struct {
	Key        string
	Value      []byte
	ExpireAt   time.Time
	CreatedAt  time.Time
	AccessedAt time.Time
}

// Export snapshots every live key's state. Not a consistent point-in-time
// view across shards (spec §4.4.3 does not require aggregate atomicity).
func (s *Store) Export() []Record {
	now := time.Now()
	var out []Record
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, e := range data(sh).m {
			if !e.expired(now) {
				out = append(out, Record{Key: k, Value: append([]byte(nil), e.value...), ExpireAt: e.expireAt, CreatedAt: e.createdAt, AccessedAt: e.accessedAt})
			}
		}
		sh.RUnlock()
	}
	return out
}

// Import loads records produced by Export (snapshot recovery), overwriting
// any existing state.
func (s *Store) Import(records []Record) {
	for _, r := range records {
		sh := s.shards.ShardOf(r.Key)
		sh.Lock()
		d := data(sh)
		if old, ok := d.m[r.Key]; ok {
			d.bytes -= int64(len(old.value))
		}
		d.m[r.Key] = &entry{value: r.Value, expireAt: r.ExpireAt, createdAt: r.CreatedAt, accessedAt: r.AccessedAt}
		d.bytes += int64(len(r.Value))
		sh.Unlock()
	}
}

// FlushDB removes every key.
func (s *Store) FlushDB() {
	for _, sh := range s.shards.All() {
		sh.Lock()
		data(sh).m = make(map[string]*entry, 1024)
		data(sh).bytes = 0
		sh.Unlock()
	}
}
