// Package set implements Synap's Set engine (spec §4.2.4): unordered byte-
// string sets with Redis-compatible multi-key algebra (SINTER/SUNION/SDIFF),
// sharded like internal/engine/kv.
//
// © 2025 Synap authors. MIT License.
package set

import (
	"math/rand"
	"time"

	"github.com/synapdb/synap/internal/shardmap"
)

type setValue struct {
	m        map[string]struct{}
	expireAt time.Time
}

func (v *setValue) expired(now time.Time) bool {
	return !v.expireAt.IsZero() && !now.Before(v.expireAt)
}

type shardData struct {
	m map[string]*setValue
}

// Store is the Set engine.
type Store struct {
	shards *shardmap.Map
}

func New() *Store {
	return &Store{shards: shardmap.New(func() any { return &shardData{m: make(map[string]*setValue, 256)} })}
}

func data(s *shardmap.Shard) *shardData { return s.Data.(*shardData) }

func expireLocked(d *shardData, key string, now time.Time) {
	if v, ok := d.m[key]; ok && v.expired(now) {
		delete(d.m, key)
	}
}

// Exists reports whether key holds a live set.
func (s *Store) Exists(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	_, ok := d.m[key]
	return ok
}

// SAdd adds members to key's set, creating it if absent. Returns the number
// of members that were newly added.
func (s *Store) SAdd(key string, members ...[]byte) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		v = &setValue{m: make(map[string]struct{}, len(members))}
		d.m[key] = v
	}
	added := 0
	for _, m := range members {
		k := string(m)
		if _, exists := v.m[k]; !exists {
			v.m[k] = struct{}{}
			added++
		}
	}
	return added
}

// SRem removes members from key's set, deleting the key if it becomes
// empty. Returns the number actually removed.
func (s *Store) SRem(key string, members ...[]byte) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range members {
		k := string(m)
		if _, exists := v.m[k]; exists {
			delete(v.m, k)
			n++
		}
	}
	if len(v.m) == 0 {
		delete(d.m, key)
	}
	return n
}

// SMembers returns every member of key's set.
func (s *Store) SMembers(key string) [][]byte {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(v.m))
	for m := range v.m {
		out = append(out, []byte(m))
	}
	return out
}

// SIsMember reports whether member is in key's set.
func (s *Store) SIsMember(key string, member []byte) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return false
	}
	_, ok = v.m[string(member)]
	return ok
}

// SCard returns the number of members in key's set (0 if absent).
func (s *Store) SCard(key string) int {
	return len(s.SMembers(key))
}

// SPop removes and returns up to count random members.
func (s *Store) SPop(key string, count int) [][]byte {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return nil
	}
	if count <= 0 {
		count = 1
	}
	out := make([][]byte, 0, count)
	for m := range v.m {
		if len(out) >= count {
			break
		}
		out = append(out, []byte(m))
		delete(v.m, m)
	}
	if len(v.m) == 0 {
		delete(d.m, key)
	}
	return out
}

// SRandMember returns count distinct random members without removing them.
// When count <= 0 or count >= cardinality it returns every member; a
// negative count never yields duplicates.
func (s *Store) SRandMember(key string, count int) [][]byte {
	all := s.SMembers(key)
	if count <= 0 || count >= len(all) {
		return all
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:count]
}

// SMove atomically moves member from src to dst if present in src. Returns
// true if the move happened.
func (s *Store) SMove(src, dst string, member []byte) bool {
	shSrc, shDst, unlock := s.shards.LockBoth(src, dst)
	defer unlock()

	now := time.Now()
	dSrc := data(shSrc)
	expireLocked(dSrc, src, now)
	vSrc, ok := dSrc.m[src]
	if !ok {
		return false
	}
	k := string(member)
	if _, ok := vSrc.m[k]; !ok {
		return false
	}
	delete(vSrc.m, k)
	if len(vSrc.m) == 0 {
		delete(dSrc.m, src)
	}

	dDst := data(shDst)
	expireLocked(dDst, dst, now)
	vDst, ok := dDst.m[dst]
	if !ok {
		vDst = &setValue{m: make(map[string]struct{}, 1)}
		dDst.m[dst] = vDst
	}
	vDst.m[k] = struct{}{}
	return true
}

// SInter returns the intersection of every key's set; per spec §4.2.4,
// empty if any input set is empty (or absent).
func (s *Store) SInter(keys []string) [][]byte {
	if len(keys) == 0 {
		return nil
	}
	sets := make([]map[string]struct{}, len(keys))
	for i, k := range keys {
		members := s.SMembers(k)
		if len(members) == 0 {
			return [][]byte{}
		}
		m := make(map[string]struct{}, len(members))
		for _, mem := range members {
			m[string(mem)] = struct{}{}
		}
		sets[i] = m
	}
	result := sets[0]
	for _, other := range sets[1:] {
		next := make(map[string]struct{})
		for k := range result {
			if _, ok := other[k]; ok {
				next[k] = struct{}{}
			}
		}
		result = next
		if len(result) == 0 {
			break
		}
	}
	out := make([][]byte, 0, len(result))
	for k := range result {
		out = append(out, []byte(k))
	}
	return out
}

// SUnion returns the union of every key's set.
func (s *Store) SUnion(keys []string) [][]byte {
	result := make(map[string]struct{})
	for _, k := range keys {
		for _, mem := range s.SMembers(k) {
			result[string(mem)] = struct{}{}
		}
	}
	out := make([][]byte, 0, len(result))
	for k := range result {
		out = append(out, []byte(k))
	}
	return out
}

// SDiff computes keys[0] - keys[1] - ... - keys[n-1] (ordered subtraction,
// spec §4.2.4).
func (s *Store) SDiff(keys []string) [][]byte {
	if len(keys) == 0 {
		return nil
	}
	result := make(map[string]struct{})
	for _, mem := range s.SMembers(keys[0]) {
		result[string(mem)] = struct{}{}
	}
	for _, k := range keys[1:] {
		for _, mem := range s.SMembers(k) {
			delete(result, string(mem))
		}
	}
	out := make([][]byte, 0, len(result))
	for k := range result {
		out = append(out, []byte(k))
	}
	return out
}

// Record is one key's exportable state, used by internal/persistence/snapshot.
type Record struct {
	Key      string
	Members  [][]byte
	ExpireAt time.Time
}

// Export snapshots every live set's state.
func (s *Store) Export() []Record {
	now := time.Now()
	var out []Record
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, v := range data(sh).m {
			if v.expired(now) {
				continue
			}
			members := make([][]byte, 0, len(v.m))
			for m := range v.m {
				members = append(members, []byte(m))
			}
			out = append(out, Record{Key: k, Members: members, ExpireAt: v.expireAt})
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
		v := &setValue{m: make(map[string]struct{}, len(r.Members)), expireAt: r.ExpireAt}
		for _, m := range r.Members {
			v.m[string(m)] = struct{}{}
		}
		data(sh).m[r.Key] = v
		sh.Unlock()
	}
}

// Keys returns every live key held by this set engine.
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

// Rename moves src's set to dst, overwriting dst if present.
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

// Copy deep-copies src's set to dst. Returns false if src is absent, or if
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
	cp := &setValue{m: make(map[string]struct{}, len(v.m)), expireAt: v.expireAt}
	for k := range v.m {
		cp.m[k] = struct{}{}
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
