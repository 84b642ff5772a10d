// Package hll implements Synap's HyperLogLog engine (spec §4.2.7):
// cardinality estimation with P=14 (16384 registers), following the exact
// bias-correction formulas of the original Rust implementation
// (core/hyperloglog.rs) so estimates match byte-for-byte on the same input.
//
// © 2025 Synap authors. MIT License.
package hll

import (
	"math"
	"time"

	"github.com/synapdb/synap/internal/shardmap"

	"github.com/cespare/xxhash/v2"
)

const (
	p             = 14
	registerCount = 1 << p // 16384
)

func alpha() float64 {
	switch registerCount {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1 + 1.079/registerCount)
	}
}

type hllValue struct {
	registers [registerCount]uint8
	count     uint64 // number of register updates made by PFADD, for PFSTATS
	expireAt  time.Time
}

func (v *hllValue) expired(now time.Time) bool {
	return !v.expireAt.IsZero() && !now.Before(v.expireAt)
}

type shardData struct {
	m map[string]*hllValue
}

// Store is the HyperLogLog engine.
type Store struct {
	shards *shardmap.Map
}

func New() *Store {
	return &Store{shards: shardmap.New(func() any { return &shardData{m: make(map[string]*hllValue, 256)} })}
}

func data(s *shardmap.Shard) *shardData { return s.Data.(*shardData) }

func expireLocked(d *shardData, key string, now time.Time) {
	if v, ok := d.m[key]; ok && v.expired(now) {
		delete(d.m, key)
	}
}

// Exists reports whether key holds a live HLL.
func (s *Store) Exists(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	_, ok := d.m[key]
	return ok
}

// registerIndexAndRho hashes element and splits it into (register index,
// rho), where rho(w) is the position of the leftmost set bit among the
// remaining 64-p bits (1-indexed), matching core/hyperloglog.rs's ρ(w).
func registerIndexAndRho(element []byte) (int, uint8) {
	h := xxhash.Sum64(element)
	idx := int(h >> (64 - p))
	rest := (h << p) | (1 << (p - 1)) // guarantee termination if all remaining bits are zero
	rho := uint8(1)
	for rest&(1<<63) == 0 && rho < 64-p+1 {
		rest <<= 1
		rho++
	}
	return idx, rho
}

// PFAdd adds elements, returning true if any register actually changed
// (i.e. the estimated cardinality may have changed).
func (s *Store) PFAdd(key string, elements ...[]byte) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		v = &hllValue{}
		d.m[key] = v
	}
	changed := false
	for _, el := range elements {
		idx, rho := registerIndexAndRho(el)
		if rho > v.registers[idx] {
			v.registers[idx] = rho
			v.count++
			changed = true
		}
	}
	return changed
}

// estimate computes the HLL cardinality estimate with small/large range
// correction, per core/hyperloglog.rs.
func estimate(registers *[registerCount]uint8) uint64 {
	sum := 0.0
	zeros := 0
	for _, r := range registers {
		sum += 1.0 / math.Pow(2, float64(r))
		if r == 0 {
			zeros++
		}
	}
	m := float64(registerCount)
	raw := alpha() * m * m / sum

	// small range correction: linear counting when many registers are zero
	if raw <= 2.5*m && zeros > 0 {
		return uint64(math.Round(m * math.Log(m/float64(zeros))))
	}

	// large range correction for 64-bit hashes
	twoPow32 := math.Pow(2, 32)
	if raw > twoPow32/30 {
		return uint64(math.Round(-twoPow32 * math.Log(1-raw/twoPow32)))
	}

	return uint64(math.Round(raw))
}

// PFCount returns the estimated cardinality of key (0 if absent). With more
// than one key, it returns the cardinality of their PFMERGE union without
// mutating any of them (spec §4.2.7).
func (s *Store) PFCount(keys ...string) uint64 {
	if len(keys) == 1 {
		sh := s.shards.ShardOf(keys[0])
		sh.Lock()
		defer sh.Unlock()
		d := data(sh)
		expireLocked(d, keys[0], time.Now())
		v, ok := d.m[keys[0]]
		if !ok {
			return 0
		}
		return estimate(&v.registers)
	}

	var merged [registerCount]uint8
	for _, k := range keys {
		sh := s.shards.ShardOf(k)
		sh.Lock()
		d := data(sh)
		expireLocked(d, k, time.Now())
		if v, ok := d.m[k]; ok {
			for i, r := range v.registers {
				if r > merged[i] {
					merged[i] = r
				}
			}
		}
		sh.Unlock()
	}
	return estimate(&merged)
}

// PFMerge writes the register-wise max (union) of srcKeys and of dest's own
// existing registers into dest, creating dest if absent. dest may coincide with a source key, in
// which case merging with itself is a no-op for that key's contribution
// (spec §4.2.7 edge case).
func (s *Store) PFMerge(dest string, srcKeys ...string) {
	var merged [registerCount]uint8
	for _, k := range srcKeys {
		sh := s.shards.ShardOf(k)
		sh.Lock()
		d := data(sh)
		expireLocked(d, k, time.Now())
		if v, ok := d.m[k]; ok {
			for i, r := range v.registers {
				if r > merged[i] {
					merged[i] = r
				}
			}
		}
		sh.Unlock()
	}

	sh := s.shards.ShardOf(dest)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	existing, ok := d.m[dest]
	if ok {
		for i, r := range existing.registers {
			if r > merged[i] {
				merged[i] = r
			}
		}
	}
	d.m[dest] = &hllValue{registers: merged}
}

// Record is one key's exportable state, used by internal/persistence/snapshot.
type Record struct {
	Key       string
	Registers []uint8
	Count     uint64
	ExpireAt  time.Time
}

// Export snapshots every live HLL's state.
func (s *Store) Export() []Record {
	now := time.Now()
	var out []Record
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, v := range data(sh).m {
			if v.expired(now) {
				continue
			}
			regs := make([]uint8, registerCount)
			copy(regs, v.registers[:])
			out = append(out, Record{Key: k, Registers: regs, Count: v.count, ExpireAt: v.expireAt})
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
		v := &hllValue{count: r.Count, expireAt: r.ExpireAt}
		copy(v.registers[:], r.Registers)
		data(sh).m[r.Key] = v
		sh.Unlock()
	}
}

// Keys returns every live key held by this HyperLogLog engine.
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

// Rename moves src's HLL to dst, overwriting dst if present.
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

// Copy deep-copies src's HLL to dst. Returns false if src is absent, or if
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
	cp := &hllValue{registers: v.registers, count: v.count, expireAt: v.expireAt}
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

// Stats reports PFADD register-change counts for key, used by the spec's
// PFDEBUG/PFSTATS introspection (0,false) if key is absent.
func (s *Store) Stats(key string) (uint64, bool) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0, false
	}
	return v.count, true
}
