// Package zset implements Synap's SortedSet engine (spec §4.2.5): members
// ordered by a float64 score with ties broken lexicographically by member,
// backed by a skip list (skiplist.go) for O(log n) rank/range queries
// co-owned with a member->score hash index for O(1) ZSCORE lookups. The two
// indices are kept behind the Value struct's methods so callers never touch
// either directly, matching spec §9's note on avoiding cyclic references.
//
// © 2025 Synap authors. MIT License.
package zset

import (
	"time"

	"github.com/synapdb/synap/internal/shardmap"
	"github.com/synapdb/synap/internal/typederr"
)

// Value is one sorted set: a skip list for ordered traversal plus a hash
// index for O(1) score lookups by member.
type Value struct {
	sl       *skipList
	byMember map[string]OrderedScore
	expireAt time.Time
}

func newValue() *Value {
	return &Value{sl: newSkipList(), byMember: make(map[string]OrderedScore)}
}

func (v *Value) expired(now time.Time) bool {
	return !v.expireAt.IsZero() && !now.Before(v.expireAt)
}

func (v *Value) set(member string, score OrderedScore) {
	if old, ok := v.byMember[member]; ok {
		if old.equal(score) {
			return
		}
		v.sl.remove(old, member)
	}
	v.byMember[member] = score
	v.sl.insert(score, member)
}

func (v *Value) remove(member string) bool {
	score, ok := v.byMember[member]
	if !ok {
		return false
	}
	delete(v.byMember, member)
	v.sl.remove(score, member)
	return true
}

type shardData struct {
	m map[string]*Value
}

// Store is the SortedSet engine.
type Store struct {
	shards *shardmap.Map
}

func New() *Store {
	return &Store{shards: shardmap.New(func() any { return &shardData{m: make(map[string]*Value, 256)} })}
}

func data(s *shardmap.Shard) *shardData { return s.Data.(*shardData) }

func expireLocked(d *shardData, key string, now time.Time) {
	if v, ok := d.m[key]; ok && v.expired(now) {
		delete(d.m, key)
	}
}

// Exists reports whether key holds a live sorted set.
func (s *Store) Exists(key string) bool {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	_, ok := d.m[key]
	return ok
}

// ZAddFlags controls ZADD's option interactions (spec §4.2.5).
type ZAddFlags struct {
	NX   bool // only add new members
	XX   bool // only update existing members
	GT   bool // only update if new score > current
	LT   bool // only update if new score < current
	CH   bool // return count changed (added+updated) instead of just added
	Incr bool // behave like ZINCRBY, operate on a single member
}

// ZAddItem is one (score, member) pair for ZAdd.
type ZAddItem struct {
	Score  float64
	Member []byte
}

// ZAdd adds or updates members. Use ZAddIncr instead when flags.Incr is set
// (ZADD ... INCR member needs a float64 return, which this integer-count
// signature cannot carry). Returns the count added (or added+changed if
// flags.CH).
//
// Per original source behavior (spec Open Question 2), NX and XX together
// are accepted, not rejected: XX alone excludes new members, NX alone
// excludes existing ones, and combined they exclude every member, so the
// op becomes a no-op rather than an error. GT/LT are rejected together with
// NX by the caller layer (dispatcher), matching Redis; the engine itself
// only enforces GT/LT against the existing score when present.
func (s *Store) ZAdd(key string, flags ZAddFlags, items []ZAddItem) (int, error) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	now := time.Now()
	expireLocked(d, key, now)
	v, ok := d.m[key]
	if !ok {
		if flags.XX {
			return 0, nil
		}
		v = newValue()
		d.m[key] = v
	}

	changed := 0
	for _, item := range items {
		member := string(item.Member)
		old, exists := v.byMember[member]
		newScore := OrderedScore(item.Score)

		if exists && flags.NX {
			continue
		}
		if !exists && flags.XX {
			continue
		}
		if exists && flags.GT && !old.less(newScore) {
			continue
		}
		if exists && flags.LT && !newScore.less(old) {
			continue
		}
		if !exists {
			v.set(member, newScore)
			changed++
		} else if !old.equal(newScore) {
			v.set(member, newScore)
			if flags.CH {
				changed++
			}
		}
	}
	return changed, nil
}

// ZIncrBy increments member's score by delta (creating the set/member with
// score delta if absent) and returns the new score.
func (s *Store) ZIncrBy(key string, member []byte, delta float64) float64 {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	now := time.Now()
	expireLocked(d, key, now)
	v, ok := d.m[key]
	if !ok {
		v = newValue()
		d.m[key] = v
	}
	m := string(member)
	old, exists := v.byMember[m]
	next := OrderedScore(delta)
	if exists {
		next = old + OrderedScore(delta)
	}
	v.set(m, next)
	return float64(next)
}

// ZAddIncr implements ZADD ... INCR member: a single-member increment that
// honors NX/XX/GT/LT exactly like ZAdd, returning (newScore, applied).
// applied is false when NX/XX/GT/LT suppressed the update, matching Redis's
// nil-reply behavior for a blocked INCR.
func (s *Store) ZAddIncr(key string, flags ZAddFlags, member []byte, delta float64) (float64, bool) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	now := time.Now()
	expireLocked(d, key, now)
	v, ok := d.m[key]
	if !ok {
		if flags.XX {
			return 0, false
		}
		v = newValue()
		d.m[key] = v
	}

	m := string(member)
	old, exists := v.byMember[m]
	if flags.NX && exists {
		return 0, false
	}
	if flags.XX && !exists {
		return 0, false
	}
	next := OrderedScore(delta)
	if exists {
		next = old + OrderedScore(delta)
	}
	if flags.GT && exists && !old.less(next) {
		return 0, false
	}
	if flags.LT && exists && !next.less(old) {
		return 0, false
	}
	v.set(m, next)
	return float64(next), true
}

// ZRem removes members; returns the count actually removed, deleting the
// key if it becomes empty.
func (s *Store) ZRem(key string, members ...[]byte) int {
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
		if v.remove(string(m)) {
			n++
		}
	}
	if len(v.byMember) == 0 {
		delete(d.m, key)
	}
	return n
}

// ZScore returns member's score, or (0,false) if absent.
func (s *Store) ZScore(key string, member []byte) (float64, bool) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0, false
	}
	score, ok := v.byMember[string(member)]
	return float64(score), ok
}

// ZMScore returns scores for each member in order; unset entries are nil.
func (s *Store) ZMScore(key string, members [][]byte) []*float64 {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	out := make([]*float64, len(members))
	v, ok := d.m[key]
	if !ok {
		return out
	}
	for i, m := range members {
		if score, ok := v.byMember[string(m)]; ok {
			f := float64(score)
			out[i] = &f
		}
	}
	return out
}

// ZCard returns the number of members (0 if absent).
func (s *Store) ZCard(key string) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0
	}
	return len(v.byMember)
}

// Member is one (member, score) pair returned from range/rank queries.
type Member struct {
	Member []byte
	Score  float64
}

func nodesToMembers(nodes []*skipNode) []Member {
	out := make([]Member, len(nodes))
	for i, n := range nodes {
		out[i] = Member{Member: []byte(n.member), Score: float64(n.score)}
	}
	return out
}

// ZRange returns members with rank in [start,end] (tail-relative negative
// indices supported) in ascending order.
func (s *Store) ZRange(key string, start, end int) []Member {
	return s.rangeByRank(key, start, end, false)
}

// ZRevRange is ZRange in descending score order.
func (s *Store) ZRevRange(key string, start, end int) []Member {
	return s.rangeByRank(key, start, end, true)
}

func (s *Store) rangeByRank(key string, start, end int, rev bool) []Member {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return nil
	}
	n := v.sl.length
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if rev {
		start, end = n-1-end, n-1-start
	}
	nodes := v.sl.rangeByRank(start, end)
	out := nodesToMembers(nodes)
	if rev {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// ZRangeByScoreOpts controls ZRANGEBYSCORE/ZREVRANGEBYSCORE limiting.
type ZRangeByScoreOpts struct {
	Offset int
	Count  int // -1 means unlimited
}

// ZRangeByScore returns members with score in [min,max] inclusive, ascending.
func (s *Store) ZRangeByScore(key string, min, max float64, opts ZRangeByScoreOpts) []Member {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return nil
	}
	nodes := v.sl.rangeByScore(OrderedScore(min), OrderedScore(max))
	return applyLimit(nodesToMembers(nodes), opts)
}

// ZRevRangeByScore returns members with score in [min,max] inclusive,
// descending.
func (s *Store) ZRevRangeByScore(key string, min, max float64, opts ZRangeByScoreOpts) []Member {
	members := s.ZRangeByScore(key, min, max, ZRangeByScoreOpts{Count: -1})
	for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
		members[i], members[j] = members[j], members[i]
	}
	return applyLimit(members, opts)
}

func applyLimit(members []Member, opts ZRangeByScoreOpts) []Member {
	if opts.Offset > 0 {
		if opts.Offset >= len(members) {
			return []Member{}
		}
		members = members[opts.Offset:]
	}
	if opts.Count >= 0 && opts.Count < len(members) {
		members = members[:opts.Count]
	}
	return members
}

// ZRank returns member's 0-based ascending rank, or (0,false) if absent.
func (s *Store) ZRank(key string, member []byte) (int, bool) {
	return s.rank(key, member, false)
}

// ZRevRank returns member's 0-based descending rank, or (0,false) if absent.
func (s *Store) ZRevRank(key string, member []byte) (int, bool) {
	return s.rank(key, member, true)
}

func (s *Store) rank(key string, member []byte, rev bool) (int, bool) {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0, false
	}
	score, ok := v.byMember[string(member)]
	if !ok {
		return 0, false
	}
	r := v.sl.rank(score, string(member))
	if r < 0 {
		return 0, false
	}
	if rev {
		return v.sl.length - 1 - r, true
	}
	return r, true
}

// ZCount returns the number of members with score in [min,max] inclusive.
func (s *Store) ZCount(key string, min, max float64) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0
	}
	return v.sl.countByScore(OrderedScore(min), OrderedScore(max))
}

// ZPopMin removes and returns up to count lowest-scoring members.
func (s *Store) ZPopMin(key string, count int) []Member { return s.pop(key, count, false) }

// ZPopMax removes and returns up to count highest-scoring members.
func (s *Store) ZPopMax(key string, count int) []Member { return s.pop(key, count, true) }

func (s *Store) pop(key string, count int, max bool) []Member {
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
	var out []Member
	for i := 0; i < count && v.sl.length > 0; i++ {
		idx := 0
		if max {
			idx = v.sl.length - 1
		}
		node := v.sl.byRank(idx)
		out = append(out, Member{Member: []byte(node.member), Score: float64(node.score)})
		v.remove(node.member)
	}
	if len(v.byMember) == 0 {
		delete(d.m, key)
	}
	return out
}

// ZRemRangeByRank removes members with rank in [start,end] inclusive,
// returning the count removed.
func (s *Store) ZRemRangeByRank(key string, start, end int) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0
	}
	n := v.sl.length
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	nodes := v.sl.rangeByRank(start, end)
	for _, node := range nodes {
		v.remove(node.member)
	}
	if len(v.byMember) == 0 {
		delete(d.m, key)
	}
	return len(nodes)
}

// ZRemRangeByScore removes members with score in [min,max] inclusive,
// returning the count removed.
func (s *Store) ZRemRangeByScore(key string, min, max float64) int {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return 0
	}
	nodes := v.sl.rangeByScore(OrderedScore(min), OrderedScore(max))
	for _, node := range nodes {
		v.remove(node.member)
	}
	if len(v.byMember) == 0 {
		delete(d.m, key)
	}
	return len(nodes)
}

// Record is one key's exportable state, used by internal/persistence/snapshot.
type Record struct {
	Key      string
	Members  []Member
	ExpireAt time.Time
}

// Export snapshots every live sorted set's state.
func (s *Store) Export() []Record {
	now := time.Now()
	var out []Record
	for _, sh := range s.shards.All() {
		sh.RLock()
		for k, v := range data(sh).m {
			if v.expired(now) {
				continue
			}
			members := make([]Member, 0, len(v.byMember))
			for m, sc := range v.byMember {
				members = append(members, Member{Member: []byte(m), Score: float64(sc)})
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
		v := newValue()
		v.expireAt = r.ExpireAt
		for _, m := range r.Members {
			v.set(string(m.Member), OrderedScore(m.Score))
		}
		data(sh).m[r.Key] = v
		sh.Unlock()
	}
}

// Keys returns every live key held by this sorted-set engine.
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

// Rename moves src's sorted set to dst, overwriting dst if present.
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

// Copy deep-copies src's sorted set to dst. Returns false if src is absent,
// or if dst exists and replace is false.
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
	cp := newValue()
	cp.expireAt = v.expireAt
	for m, sc := range v.byMember {
		cp.set(m, sc)
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

// Aggregate controls how ZInterStore/ZUnionStore/ZDiffStore combine scores
// across input sets (spec §4.2.5).
type Aggregate uint8

const (
	AggregateSum Aggregate = iota
	AggregateMin
	AggregateMax
)

func combine(agg Aggregate, a, b float64) float64 {
	switch agg {
	case AggregateMin:
		if a < b {
			return a
		}
		return b
	case AggregateMax:
		if a > b {
			return a
		}
		return b
	default:
		return a + b
	}
}

// snapshot returns a member->score copy for key, treating an absent key as
// an empty set (so store ops never error on a missing source).
func (s *Store) snapshot(key string) map[string]float64 {
	sh := s.shards.ShardOf(key)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	expireLocked(d, key, time.Now())
	v, ok := d.m[key]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(v.byMember))
	for m, sc := range v.byMember {
		out[m] = float64(sc)
	}
	return out
}

func (s *Store) storeResult(dest string, members map[string]float64) int {
	sh := s.shards.ShardOf(dest)
	sh.Lock()
	defer sh.Unlock()
	d := data(sh)
	nv := newValue()
	for m, sc := range members {
		nv.set(m, OrderedScore(sc))
	}
	if len(members) == 0 {
		delete(d.m, dest)
		return 0
	}
	d.m[dest] = nv
	return len(members)
}

// ZInterStore writes the weighted intersection of keys into dest and
// returns the resulting cardinality. dest may coincide with a source key.
func (s *Store) ZInterStore(dest string, keys []string, weights []float64, agg Aggregate) int {
	if len(keys) == 0 {
		return s.storeResult(dest, nil)
	}
	acc := make(map[string]float64)
	base := s.snapshot(keys[0])
	w0 := weight(weights, 0)
	for m, sc := range base {
		acc[m] = sc * w0
	}
	for i := 1; i < len(keys); i++ {
		next := s.snapshot(keys[i])
		w := weight(weights, i)
		merged := make(map[string]float64)
		for m, sc := range acc {
			if other, ok := next[m]; ok {
				merged[m] = combine(agg, sc, other*w)
			}
		}
		acc = merged
		if len(acc) == 0 {
			break
		}
	}
	return s.storeResult(dest, acc)
}

// ZUnionStore writes the weighted union of keys into dest and returns the
// resulting cardinality.
func (s *Store) ZUnionStore(dest string, keys []string, weights []float64, agg Aggregate) int {
	acc := make(map[string]float64)
	for i, k := range keys {
		w := weight(weights, i)
		for m, sc := range s.snapshot(k) {
			scaled := sc * w
			if cur, ok := acc[m]; ok {
				acc[m] = combine(agg, cur, scaled)
			} else {
				acc[m] = scaled
			}
		}
	}
	return s.storeResult(dest, acc)
}

// ZDiffStore writes keys[0] minus every member present in keys[1:] into
// dest (scores taken from keys[0], unscaled) and returns the cardinality.
func (s *Store) ZDiffStore(dest string, keys []string) int {
	if len(keys) == 0 {
		return s.storeResult(dest, nil)
	}
	acc := s.snapshot(keys[0])
	if acc == nil {
		acc = make(map[string]float64)
	}
	for _, k := range keys[1:] {
		for m := range s.snapshot(k) {
			delete(acc, m)
		}
	}
	return s.storeResult(dest, acc)
}

func weight(weights []float64, i int) float64 {
	if i < len(weights) {
		return weights[i]
	}
	return 1
}

// ValidateFlags enforces the option combinations the dispatcher must reject
// before calling ZAdd (spec §4.2.5): GT/LT are mutually exclusive, and
// neither may combine with NX. NX+XX is permitted (see ZAdd's doc comment).
func ValidateFlags(f ZAddFlags) error {
	if f.GT && f.LT {
		return typederr.New(typederr.InvalidValue, "GT and LT are mutually exclusive")
	}
	if f.NX && (f.GT || f.LT) {
		return typederr.New(typederr.InvalidValue, "NX is incompatible with GT or LT")
	}
	return nil
}
