package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synapdb/synap/internal/typederr"
)

func TestSetGetDel(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("k1", []byte("v1"), 0))
	v, ok := s.Get("k1")
	require.True(t, ok)
	require.Equal(t, "v1", string(v))

	require.True(t, s.Del("k1"))
	_, ok = s.Get("k1")
	require.False(t, ok)
}

func TestSetNX(t *testing.T) {
	s := New(0)
	ok, err := s.SetNX("k", []byte("a"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetNX("k", []byte("b"), 0)
	require.NoError(t, err)
	require.False(t, ok)

	v, _ := s.Get("k")
	require.Equal(t, "a", string(v))
}

func TestTTLExpiry(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("k", []byte("v"), 20*time.Millisecond))
	_, ok := s.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = s.Get("k")
	require.False(t, ok, "expired key observed on access must be deleted before operation proceeds")
}

func TestExpirePersist(t *testing.T) {
	s := New(0)
	require.False(t, s.Expire("absent", time.Second), "expire on absent key returns false")

	require.NoError(t, s.Set("k", []byte("v"), 0))
	require.True(t, s.Expire("k", time.Hour))
	require.True(t, s.TTL("k") > 0)

	require.True(t, s.Persist("k"))
	require.Equal(t, -1*time.Second, s.TTL("k"))
}

func TestIncrDecr(t *testing.T) {
	s := New(0)
	n, err := s.Incr("counter", 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = s.Incr("counter", -5)
	require.NoError(t, err)
	require.EqualValues(t, -4, n)

	require.NoError(t, s.Set("notint", []byte("abc"), 0))
	_, err = s.Incr("notint", 1)
	require.Error(t, err)
	require.Equal(t, typederr.InvalidValue, typederr.KindOf(err))
}

func TestIncrByFloat(t *testing.T) {
	s := New(0)
	f, err := s.IncrByFloat("f", 1.5)
	require.NoError(t, err)
	require.InDelta(t, 1.5, f, 1e-9)

	f, err = s.IncrByFloat("f", 0.5)
	require.NoError(t, err)
	require.InDelta(t, 2.0, f, 1e-9)
}

func TestMSetMGetMDel(t *testing.T) {
	s := New(0)
	require.NoError(t, s.MSet(map[string][]byte{"a": []byte("1"), "b": []byte("2")}))
	vs := s.MGet([]string{"a", "b", "missing"})
	require.Equal(t, "1", string(vs[0]))
	require.Equal(t, "2", string(vs[1]))
	require.Nil(t, vs[2])

	require.Equal(t, 2, s.MDel([]string{"a", "b", "missing"}))
}

func TestMSetNXAllOrNothing(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("b", []byte("existing"), 0))

	ok, err := s.MSetNX(map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	require.NoError(t, err)
	require.False(t, ok)
	_, exists := s.Get("a")
	require.False(t, exists, "all-or-nothing: a must not have been set")

	ok, err = s.MSetNX(map[string][]byte{"c": []byte("1"), "d": []byte("2")})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAppendStrlen(t *testing.T) {
	s := New(0)
	n, err := s.Append("k", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = s.Append("k", []byte(" world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, 11, s.Strlen("k"))
}

func TestGetRangeNegativeIndices(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("k", []byte("Hello World"), 0))
	require.Equal(t, "Hello", string(s.GetRange("k", 0, 4)))
	require.Equal(t, "World", string(s.GetRange("k", -5, -1)))
	require.Equal(t, []byte{}, s.GetRange("missing", 0, -1))
}

func TestSetRangeExtends(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("k", []byte("Hello"), 0))
	n, err := s.SetRange("k", 6, []byte("World"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	v, _ := s.Get("k")
	require.Equal(t, "Hello\x00World", string(v))
}

func TestGetSet(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("k", []byte("old"), 0))
	prev, existed := s.GetSet("k", []byte("new"))
	require.True(t, existed)
	require.Equal(t, "old", string(prev))
	v, _ := s.Get("k")
	require.Equal(t, "new", string(v))
}

func TestScanPrefix(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("user:1", []byte("a"), 0))
	require.NoError(t, s.Set("user:2", []byte("b"), 0))
	require.NoError(t, s.Set("other", []byte("c"), 0))

	keys := s.Scan("user:", 10)
	require.Len(t, keys, 2)
}

func TestMemoryLimitExceeded(t *testing.T) {
	s := New(4)
	require.NoError(t, s.Set("k", []byte("abcd"), 0))
	err := s.Set("k2", []byte("x"), 0)
	require.Error(t, err)
	require.Equal(t, typederr.MemoryLimitExceeded, typederr.KindOf(err))
}

func TestFlushDBAndDBSize(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("a", []byte("1"), 0))
	require.NoError(t, s.Set("b", []byte("2"), 0))
	require.Equal(t, 2, s.DBSize())
	s.FlushDB()
	require.Equal(t, 0, s.DBSize())
}

func TestSweepRemovesExpired(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	removed := s.Sweep(time.Now())
	require.Equal(t, 1, removed)
}
