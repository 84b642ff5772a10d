package zset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZAddZScoreZCard(t *testing.T) {
	s := New()
	n, err := s.ZAdd("lb", ZAddFlags{}, []ZAddItem{
		{Score: 10, Member: []byte("alice")},
		{Score: 20, Member: []byte("bob")},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, s.ZCard("lb"))

	score, ok := s.ZScore("lb", []byte("alice"))
	require.True(t, ok)
	require.Equal(t, 10.0, score)
}

func TestZAddNXDoesNotOverwrite(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{{Score: 10, Member: []byte("a")}})
	n, err := s.ZAdd("lb", ZAddFlags{NX: true}, []ZAddItem{{Score: 99, Member: []byte("a")}})
	require.NoError(t, err)
	require.Equal(t, 0, n)
	score, _ := s.ZScore("lb", []byte("a"))
	require.Equal(t, 10.0, score)
}

func TestZAddXXOnlyUpdatesExisting(t *testing.T) {
	s := New()
	n, err := s.ZAdd("lb", ZAddFlags{XX: true}, []ZAddItem{{Score: 5, Member: []byte("new")}})
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.False(t, s.Exists("lb"))
}

func TestZAddNXAndXXTogetherIsNoOp(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{{Score: 1, Member: []byte("a")}})
	n, err := s.ZAdd("lb", ZAddFlags{NX: true, XX: true}, []ZAddItem{
		{Score: 2, Member: []byte("a")},
		{Score: 3, Member: []byte("b")},
	})
	require.NoError(t, err)
	require.Equal(t, 0, n, "NX+XX together excludes every member per original-source permissive behavior")
	score, _ := s.ZScore("lb", []byte("a"))
	require.Equal(t, 1.0, score)
	require.Equal(t, 1, s.ZCard("lb"), "member b must not have been added")
}

func TestValidateFlagsRejectsGTandLT(t *testing.T) {
	require.Error(t, ValidateFlags(ZAddFlags{GT: true, LT: true}))
	require.Error(t, ValidateFlags(ZAddFlags{NX: true, GT: true}))
	require.NoError(t, ValidateFlags(ZAddFlags{NX: true, XX: true}))
}

func TestZAddGTLTSemantics(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{{Score: 10, Member: []byte("a")}})

	n, _ := s.ZAdd("lb", ZAddFlags{GT: true}, []ZAddItem{{Score: 5, Member: []byte("a")}})
	require.Equal(t, 0, n)
	n, _ = s.ZAdd("lb", ZAddFlags{GT: true, CH: true}, []ZAddItem{{Score: 15, Member: []byte("a")}})
	require.Equal(t, 1, n)
	score, _ := s.ZScore("lb", []byte("a"))
	require.Equal(t, 15.0, score)
}

func TestZRangeLeaderboard(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{
		{Score: 100, Member: []byte("alice")},
		{Score: 50, Member: []byte("bob")},
		{Score: 75, Member: []byte("carol")},
	})

	asc := s.ZRange("lb", 0, -1)
	require.Equal(t, []Member{
		{Member: []byte("bob"), Score: 50},
		{Member: []byte("carol"), Score: 75},
		{Member: []byte("alice"), Score: 100},
	}, asc)

	desc := s.ZRevRange("lb", 0, -1)
	require.Equal(t, []Member{
		{Member: []byte("alice"), Score: 100},
		{Member: []byte("carol"), Score: 75},
		{Member: []byte("bob"), Score: 50},
	}, desc)

	top1 := s.ZRevRange("lb", 0, 0)
	require.Equal(t, "alice", string(top1[0].Member))
}

func TestZRangeStartAfterStopIsEmpty(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{{Score: 1, Member: []byte("a")}})
	require.Empty(t, s.ZRange("lb", 5, 1))
}

func TestZRankZRevRank(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{
		{Score: 1, Member: []byte("a")},
		{Score: 2, Member: []byte("b")},
		{Score: 3, Member: []byte("c")},
	})
	rank, ok := s.ZRank("lb", []byte("b"))
	require.True(t, ok)
	require.Equal(t, 1, rank)

	revRank, ok := s.ZRevRank("lb", []byte("b"))
	require.True(t, ok)
	require.Equal(t, 1, revRank)

	_, ok = s.ZRank("lb", []byte("missing"))
	require.False(t, ok)
}

func TestZRangeByScoreAndCount(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{
		{Score: 1, Member: []byte("a")},
		{Score: 2, Member: []byte("b")},
		{Score: 3, Member: []byte("c")},
		{Score: 4, Member: []byte("d")},
	})
	got := s.ZRangeByScore("lb", 2, 4, ZRangeByScoreOpts{Count: -1})
	require.Len(t, got, 3)

	limited := s.ZRangeByScore("lb", 1, 4, ZRangeByScoreOpts{Offset: 1, Count: 2})
	require.Equal(t, []string{"b", "c"}, []string{string(limited[0].Member), string(limited[1].Member)})

	require.Equal(t, 3, s.ZCount("lb", 2, 4))
}

func TestZIncrByCreatesAndAccumulates(t *testing.T) {
	s := New()
	got := s.ZIncrBy("lb", []byte("a"), 5)
	require.Equal(t, 5.0, got)
	got = s.ZIncrBy("lb", []byte("a"), 2.5)
	require.Equal(t, 7.5, got)
}

func TestZAddIncrHonorsNX(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{{Score: 1, Member: []byte("a")}})
	_, applied := s.ZAddIncr("lb", ZAddFlags{NX: true}, []byte("a"), 10)
	require.False(t, applied)
	score, _ := s.ZAddIncr("lb", ZAddFlags{}, []byte("a"), 10)
	require.Equal(t, 11.0, score)
}

func TestZPopMinMax(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{
		{Score: 1, Member: []byte("a")},
		{Score: 2, Member: []byte("b")},
		{Score: 3, Member: []byte("c")},
	})
	min := s.ZPopMin("lb", 1)
	require.Equal(t, "a", string(min[0].Member))
	max := s.ZPopMax("lb", 1)
	require.Equal(t, "c", string(max[0].Member))
	require.Equal(t, 1, s.ZCard("lb"))
}

func TestZRemRangeByRankAndScore(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{
		{Score: 1, Member: []byte("a")},
		{Score: 2, Member: []byte("b")},
		{Score: 3, Member: []byte("c")},
	})
	n := s.ZRemRangeByRank("lb", 0, 0)
	require.Equal(t, 1, n)
	require.Equal(t, 2, s.ZCard("lb"))

	n = s.ZRemRangeByScore("lb", 3, 3)
	require.Equal(t, 1, n)
	require.Equal(t, 1, s.ZCard("lb"))
}

func TestZInterStoreWeightedSum(t *testing.T) {
	s := New()
	s.ZAdd("a", ZAddFlags{}, []ZAddItem{{Score: 1, Member: []byte("x")}, {Score: 2, Member: []byte("y")}})
	s.ZAdd("b", ZAddFlags{}, []ZAddItem{{Score: 10, Member: []byte("x")}})

	n := s.ZInterStore("dest", []string{"a", "b"}, []float64{1, 2}, AggregateSum)
	require.Equal(t, 1, n)
	score, ok := s.ZScore("dest", []byte("x"))
	require.True(t, ok)
	require.Equal(t, 21.0, score) // 1*1 + 10*2
}

func TestZUnionStoreMaxAggregate(t *testing.T) {
	s := New()
	s.ZAdd("a", ZAddFlags{}, []ZAddItem{{Score: 5, Member: []byte("x")}})
	s.ZAdd("b", ZAddFlags{}, []ZAddItem{{Score: 9, Member: []byte("x")}, {Score: 1, Member: []byte("y")}})

	n := s.ZUnionStore("dest", []string{"a", "b"}, nil, AggregateMax)
	require.Equal(t, 2, n)
	score, _ := s.ZScore("dest", []byte("x"))
	require.Equal(t, 9.0, score)
}

func TestZDiffStore(t *testing.T) {
	s := New()
	s.ZAdd("a", ZAddFlags{}, []ZAddItem{{Score: 1, Member: []byte("x")}, {Score: 2, Member: []byte("y")}})
	s.ZAdd("b", ZAddFlags{}, []ZAddItem{{Score: 9, Member: []byte("y")}})

	n := s.ZDiffStore("dest", []string{"a", "b"})
	require.Equal(t, 1, n)
	_, ok := s.ZScore("dest", []byte("x"))
	require.True(t, ok)
	_, ok = s.ZScore("dest", []byte("y"))
	require.False(t, ok)
}

func TestZRemDeletesEmptyKey(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{{Score: 1, Member: []byte("a")}})
	s.ZRem("lb", []byte("a"))
	require.False(t, s.Exists("lb"))
}

func TestZMScore(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{{Score: 1, Member: []byte("a")}})
	got := s.ZMScore("lb", [][]byte{[]byte("a"), []byte("missing")})
	require.NotNil(t, got[0])
	require.Equal(t, 1.0, *got[0])
	require.Nil(t, got[1])
}

func TestNaNOrdersBeforeEverything(t *testing.T) {
	s := New()
	s.ZAdd("lb", ZAddFlags{}, []ZAddItem{
		{Score: 1, Member: []byte("a")},
		{Score: float64(nan()), Member: []byte("nanmember")},
	})
	asc := s.ZRange("lb", 0, -1)
	require.Equal(t, "nanmember", string(asc[0].Member))
}

func nan() float64 {
	var zero float64
	return zero / zero
}
