package set

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func strs(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	sort.Strings(out)
	return out
}

func TestSAddSRemSCard(t *testing.T) {
	s := New()
	require.Equal(t, 2, s.SAdd("s", []byte("a"), []byte("b")))
	require.Equal(t, 0, s.SAdd("s", []byte("a")), "duplicate add returns 0 new")
	require.Equal(t, 2, s.SCard("s"))

	require.Equal(t, 1, s.SRem("s", []byte("a")))
	require.False(t, s.SIsMember("s", []byte("a")))
}

func TestSRemEmptiesKey(t *testing.T) {
	s := New()
	s.SAdd("s", []byte("a"))
	s.SRem("s", []byte("a"))
	require.False(t, s.Exists("s"))
}

func TestSInterEmptyIfAnyEmpty(t *testing.T) {
	s := New()
	s.SAdd("a", []byte("x"), []byte("y"))
	got := s.SInter([]string{"a", "missing"})
	require.Empty(t, got)
}

func TestSInterUnionDiff(t *testing.T) {
	s := New()
	s.SAdd("a", []byte("x"), []byte("y"), []byte("z"))
	s.SAdd("b", []byte("y"), []byte("z"))
	s.SAdd("c", []byte("z"))

	require.Equal(t, []string{"z"}, strs(s.SInter([]string{"a", "b", "c"})))
	require.Equal(t, []string{"x", "y", "z"}, strs(s.SUnion([]string{"a", "b", "c"})))
	require.Equal(t, []string{"x"}, strs(s.SDiff([]string{"a", "b", "c"})))
}

func TestSMove(t *testing.T) {
	s := New()
	s.SAdd("src", []byte("m"))
	ok := s.SMove("src", "dst", []byte("m"))
	require.True(t, ok)
	require.False(t, s.SIsMember("src", []byte("m")))
	require.True(t, s.SIsMember("dst", []byte("m")))
}

func TestSPopRemovesFromSet(t *testing.T) {
	s := New()
	s.SAdd("s", []byte("a"), []byte("b"), []byte("c"))
	popped := s.SPop("s", 2)
	require.Len(t, popped, 2)
	require.Equal(t, 1, s.SCard("s"))
}
