package hll

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPFAddPFCountApproximatesCardinality(t *testing.T) {
	s := New()
	const n = 10000
	for i := 0; i < n; i++ {
		s.PFAdd("hll", []byte(fmt.Sprintf("elem-%d", i)))
	}
	got := s.PFCount("hll")
	// HLL error bound is ~1.04/sqrt(registerCount) ~= 0.8%; allow generous slack.
	errRatio := math.Abs(float64(got)-float64(n)) / float64(n)
	require.Less(t, errRatio, 0.05, "estimate %d too far from true cardinality %d", got, n)
}

func TestPFAddDuplicateDoesNotInflateCount(t *testing.T) {
	s := New()
	s.PFAdd("hll", []byte("x"))
	before := s.PFCount("hll")
	s.PFAdd("hll", []byte("x"))
	after := s.PFCount("hll")
	require.Equal(t, before, after)
}

func TestPFCountAbsentKeyIsZero(t *testing.T) {
	s := New()
	require.Equal(t, uint64(0), s.PFCount("missing"))
}

func TestPFCountMultiKeyIsUnionWithoutMutating(t *testing.T) {
	s := New()
	s.PFAdd("a", []byte("x"), []byte("y"))
	s.PFAdd("b", []byte("y"), []byte("z"))
	before := s.PFCount("a")

	union := s.PFCount("a", "b")
	require.GreaterOrEqual(t, union, uint64(2))

	require.Equal(t, before, s.PFCount("a"), "PFCOUNT with multiple keys must not mutate inputs")
}

func TestPFMergeUnion(t *testing.T) {
	s := New()
	s.PFAdd("a", []byte("x"), []byte("y"))
	s.PFAdd("b", []byte("y"), []byte("z"))
	s.PFMerge("dest", "a", "b")
	require.True(t, s.Exists("dest"))
	require.GreaterOrEqual(t, s.PFCount("dest"), s.PFCount("a"))
}

func TestPFMergeSelfIsNoOp(t *testing.T) {
	s := New()
	s.PFAdd("a", []byte("x"), []byte("y"), []byte("z"))
	before := s.PFCount("a")
	s.PFMerge("a", "a")
	require.Equal(t, before, s.PFCount("a"))
}

func TestDelRemovesKey(t *testing.T) {
	s := New()
	s.PFAdd("a", []byte("x"))
	require.True(t, s.Del("a"))
	require.False(t, s.Exists("a"))
}
