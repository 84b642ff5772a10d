// Package list implements Synap's List engine (spec §4.2.3): a doubly-ended
// deque per key with live negative indexing (tail-relative offsets computed
// at call time, not at enqueue time), sharded like internal/engine/kv.
//
// Cross-key operations (RPOPLPUSH) acquire both shards' write locks in a
// deterministic ascending-index order via shardmap.Map.LockBoth, matching
// the locking discipline spec §5 requires for multi-key ops.
//
// © 2025 Synap authors. MIT License.
package list

import (
	"container/list"
	"time"

	"github.com/synapdb/synap/internal/shardmap"
	"github.com/synapdb/synap/internal/typederr"
)

type listValue struct {
	l        *list.List // element type []byte
	expireAt time.Time
}

func (v *listValue) expired(now time.Time) bool {
	return !v.expireAt.IsZero() && !now.Before(v.expireAt)
}

type shardData struct {
	m map[string]*listValue
}

// Store is the List engine.
type Store struct {
	shards *shardmap.Map
}

func New() *Store {
	return &Store{shards: shardmap.New(func() any { return &shardData{m: make(map[string]*listValue, 256)} })}
}

func data(s *shardmap.Shard) *shardData { return s.Data.(*shardData) }

func expireLocked(d *shardData, key string, now time.Time) {
	if v, ok := d.m[key]; ok && v.expired(now) {
		delete(d.m, key)
	}
}

func (s *Store) getLocked(d *shardData, key string) (*listValue, bool) {
	v, ok := d.m[key]
	return v, ok
}

// Exists reports whether key holds a live list.
func (s *Store) Exists(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	_, ok := d.m[key]
	return ok
}

func (s *Store) push(key string, values [][]byte, front, onlyIfExists bool) (int, error) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		if onlyIfExists {
			return 0, nil
		}
		v = &listValue{l: list.New()}
		d.m[key] = v
	}
	for _, val := range values {
		cp := append([]byte(nil), val...)
		if front {
			v.l.PushFront(cp)
		} else {
			v.l.PushBack(cp)
		}
	}
	return v.l.Len(), nil
}

// LPush prepends values (each pushed in order, so the last value ends up
// at the head) and returns the new length.
func (s *Store) LPush(key string, values ...[]byte) (int, error) { return s.push(key, values, true, false) }

// RPush appends values and returns the new length.
func (s *Store) RPush(key string, values ...[]byte) (int, error) { return s.push(key, values, false, false) }

// LPushX prepends only if key already holds a list.
func (s *Store) LPushX(key string, values ...[]byte) (int, error) { return s.push(key, values, true, true) }

// RPushX appends only if key already holds a list.
func (s *Store) RPushX(key string, values ...[]byte) (int, error) { return s.push(key, values, false, true) }

func (s *Store) pop(key string, count int, front bool) ([][]byte, error) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return nil, nil
	}
	if count <= 0 {
		count = 1
	}
	out := make([][]byte, 0, count)
	for i := 0; i < count && v.l.Len() > 0; i++ {
		var e *list.Element
		if front {
			e = v.l.Front()
		} else {
			e = v.l.Back()
		}
		out = append(out, e.Value.([]byte))
		v.l.Remove(e)
	}
	if v.l.Len() == 0 {
		delete(d.m, key)
	}
	return out, nil
}

// LPop pops up to count elements from the head.
func (s *Store) LPop(key string, count int) ([][]byte, error) { return s.pop(key, count, true) }

// RPop pops up to count elements from the tail.
func (s *Store) RPop(key string, count int) ([][]byte, error) { return s.pop(key, count, false) }

// toSlice snapshots the list's elements; callers must hold the shard lock.
func toSlice(v *listValue) [][]byte {
	out := make([][]byte, 0, v.l.Len())
	for e := v.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.([]byte))
	}
	return out
}

func normalize(n, start, end int) (int, int, bool) {
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

// LRange returns elements in [start,end] inclusive using live tail-relative
// negative indexing. Empty list or out-of-range yields an empty slice, not
// an error (spec §8 boundary behavior).
func (s *Store) LRange(key string, start, end int) [][]byte {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return nil
	}
	all := toSlice(v)
	st, en, valid := normalize(len(all), start, end)
	if !valid {
		return [][]byte{}
	}
	out := make([][]byte, en-st+1)
	copy(out, all[st:en+1])
	return out
}

// LLen returns the number of elements (0 if absent).
func (s *Store) LLen(key string) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0
	}
	return v.l.Len()
}

// LIndex returns the element at i (tail-relative if negative), or
// (nil,false) if out of range.
func (s *Store) LIndex(key string, i int) ([]byte, bool) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return nil, false
	}
	n := v.l.Len()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, false
	}
	e := v.l.Front()
	for j := 0; j < i; j++ {
		e = e.Next()
	}
	return append([]byte(nil), e.Value.([]byte)...), true
}

// LSet overwrites the element at index i. Out-of-range fails with
// IndexOutOfRange (spec §4.2.3).
func (s *Store) LSet(key string, i int, value []byte) error {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return typederr.New(typederr.NotFound, "no such key")
	}
	n := v.l.Len()
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return typederr.New(typederr.IndexOutOfRange, "list index out of range")
	}
	e := v.l.Front()
	for j := 0; j < i; j++ {
		e = e.Next()
	}
	e.Value = append([]byte(nil), value...)
	return nil
}

// LTrim keeps only the elements in [start,end] inclusive, removing the rest.
func (s *Store) LTrim(key string, start, end int) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return
	}
	all := toSlice(v)
	st, en, valid := normalize(len(all), start, end)
	v.l.Init()
	if !valid {
		delete(d.m, key)
		return
	}
	for _, e := range all[st : en+1] {
		v.l.PushBack(e)
	}
	if v.l.Len() == 0 {
		delete(d.m, key)
	}
}

// LRem removes occurrences of value: count>0 scans head->tail removing up
// to count matches, count<0 scans tail->head, count==0 removes all matches.
func (s *Store) LRem(key string, count int, value []byte) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0
	}

	matches := func(b []byte) bool {
		if len(b) != len(value) {
			return false
		}
		for i := range b {
			if b[i] != value[i] {
				return false
			}
		}
		return true
	}

	removed := 0
	if count >= 0 {
		limit := count
		for e := v.l.Front(); e != nil; {
			next := e.Next()
			if matches(e.Value.([]byte)) && (limit == 0 || removed < limit) {
				v.l.Remove(e)
				removed++
			}
			e = next
		}
	} else {
		limit := -count
		for e := v.l.Back(); e != nil; {
			prev := e.Prev()
			if matches(e.Value.([]byte)) && removed < limit {
				v.l.Remove(e)
				removed++
			}
			e = prev
		}
	}
	if v.l.Len() == 0 {
		delete(d.m, key)
	}
	return removed
}

// LInsert inserts value immediately before or after the first occurrence of
// pivot. Returns the new length, or -1 if pivot was not found, or 0 if key
// is absent.
func (s *Store) LInsert(key string, before bool, pivot, value []byte) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0
	}
	for e := v.l.Front(); e != nil; e = e.Next() {
		b := e.Value.([]byte)
		if len(b) != len(pivot) {
			continue
		}
		match := true
		for i := range b {
			if b[i] != pivot[i] {
				match = false
				break
			}
		}
		if match {
			cp := append([]byte(nil), value...)
			if before {
				v.l.InsertBefore(cp, e)
			} else {
				v.l.InsertAfter(cp, e)
			}
			return v.l.Len()
		}
	}
	return -1
}

// RPopLPush atomically moves the tail element of src to the head of dst,
// returning the moved value. When src==dst it rotates the list. Acquires
// both shards' locks in a deterministic order to prevent deadlock.
func (s *Store) RPopLPush(src, dst string) ([]byte, bool) {
	shSrc, shDst, unlock := s.shards.LockBoth(src, dst)
	defer unlock()

	now := time.Now()
	dSrc := data(shSrc)
	expireLocked(dSrc, src, now)
	vSrc, ok := dSrc.m[src]
	if !ok || vSrc.l.Len() == 0 {
		return nil, false
	}
	e := vSrc.l.Back()
	val := e.Value.([]byte)
	vSrc.l.Remove(e)
	if vSrc.l.Len() == 0 {
		delete(dSrc.m, src)
	}

	dDst := data(shDst)
	expireLocked(dDst, dst, now)
	vDst, ok := dDst.m[dst]
	if !ok {
		vDst = &listValue{l: list.New()}
		dDst.m[dst] = vDst
	}
	vDst.l.PushFront(val)
	return append([]byte(nil), val...), true
}

// Record is one key's exportable state, used by internal/persistence/snapshot.
type Record struct {
	Key      string
	Values   [][]byte
	ExpireAt time.Time
}

// Export snapshots every live list's state.
func (s *Store) Export() []Record {
	now := time.Now()
	var out []Record
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, v := range data(sh).m {
			if v.expired(now) {
				continue
			}
			out = append(out, Record{Key: k, Values: toSlice(v), ExpireAt: v.expireAt})
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
		v := &listValue{l: list.New(), expireAt: r.ExpireAt}
		for _, val := range r.Values {
			v.l.PushBack(val)
		}
		data(sh).m[r.Key] = v
		sh.Unlock()
	}
}

// Keys returns every live key held by this list engine.
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

// Rename moves src's list to dst, overwriting dst if present.
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

// Copy deep-copies src's list to dst. Returns false if src is absent, or if
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
	cp := &listValue{l: list.New(), expireAt: v.expireAt}
	for e := v.l.Front(); e != nil; e = e.Next() {
		cp.l.PushBack(append([]byte(nil), e.Value.([]byte)...))
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
