package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synapdb/synap/internal/engine/bitmap"
	"github.com/synapdb/synap/internal/engine/hash"
	"github.com/synapdb/synap/internal/engine/hll"
	"github.com/synapdb/synap/internal/engine/kv"
	"github.com/synapdb/synap/internal/engine/list"
	"github.com/synapdb/synap/internal/engine/set"
	"github.com/synapdb/synap/internal/engine/stream"
	"github.com/synapdb/synap/internal/engine/zset"
)

func newStores() Stores {
	return Stores{
		KV:     kv.New(0),
		Hash:   hash.New(),
		List:   list.New(),
		Set:    set.New(),
		ZSet:   zset.New(),
		Bitmap: bitmap.New(),
		HLL:    hll.New(),
		Stream: stream.New(),
	}
}

func tempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "synap-snapshot-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func populate(t *testing.T, s Stores) {
	require.NoError(t, s.KV.Set("greeting", []byte("hello"), 0))
	_, err := s.Hash.HSet("user:1", "name", []byte("ada"))
	require.NoError(t, err)
	_, err = s.List.RPush("queue", []byte("job1"))
	require.NoError(t, err)
	s.Set.SAdd("tags", []byte("go"), []byte("redis"))
	_, err = s.ZSet.ZAdd("leaderboard", zset.ZAddFlags{}, []zset.ZAddItem{{Score: 10, Member: []byte("alice")}})
	require.NoError(t, err)
	_, err = s.Bitmap.SetBit("flags", 3, 1)
	require.NoError(t, err)
	s.HLL.PFAdd("visitors", []byte("u1"), []byte("u2"))
	s.Stream.Publish("events", []byte("evt1"))
}

func TestCaptureRestoreRoundTrips(t *testing.T) {
	src := newStores()
	populate(t, src)

	state := Capture(src)

	dst := newStores()
	Restore(dst, state)

	val, ok := dst.KV.Get("greeting")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), val)

	fields := dst.Hash.HGetAll("user:1")
	require.Equal(t, []byte("ada"), fields["name"])

	require.ElementsMatch(t, [][]byte{[]byte("go"), []byte("redis")}, dst.Set.SMembers("tags"))

	score, ok := dst.ZSet.ZScore("leaderboard", []byte("alice"))
	require.True(t, ok)
	require.Equal(t, 10.0, score)

	bit, err := dst.Bitmap.GetBit("flags", 3)
	require.NoError(t, err)
	require.Equal(t, byte(1), bit)

	require.Equal(t, uint64(2), dst.HLL.PFCount("visitors"))

	entries, err := dst.Stream.Consume("events", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("evt1"), entries[0].Payload)
}

func TestWriteFileReadFileRoundTrips(t *testing.T) {
	src := newStores()
	populate(t, src)
	state := Capture(src)

	dir := tempDir(t)
	path := filepath.Join(dir, FileName(time.Unix(0, 1700000000000000000)))
	require.NoError(t, WriteFile(path, 42, state))

	offset, loaded, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, uint64(42), offset)
	require.Len(t, loaded.KV, 1)
	require.Len(t, loaded.Hash, 1)
	require.Len(t, loaded.List, 1)
	require.Len(t, loaded.Set, 1)
	require.Len(t, loaded.ZSet, 1)
	require.Len(t, loaded.Bitmap, 1)
	require.Len(t, loaded.HLL, 1)
	require.Len(t, loaded.Stream, 1)
}

func TestReadFileRejectsUnknownVersion(t *testing.T) {
	dir := tempDir(t)
	path := filepath.Join(dir, "bad.snap")
	require.NoError(t, WriteFile(path, 1, EngineState{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[3] = 0xFF // corrupt the low byte of the big-endian version field
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = ReadFile(path)
	require.Error(t, err)
}

func TestNewestPicksLatestByFileName(t *testing.T) {
	dir := tempDir(t)
	require.NoError(t, WriteFile(filepath.Join(dir, FileName(time.Unix(0, 1000))), 1, EngineState{}))
	require.NoError(t, WriteFile(filepath.Join(dir, FileName(time.Unix(0, 2000))), 2, EngineState{}))
	require.NoError(t, WriteFile(filepath.Join(dir, FileName(time.Unix(0, 3000))), 3, EngineState{}))

	latest, err := Newest(dir)
	require.NoError(t, err)
	offset, _, err := ReadFile(latest)
	require.NoError(t, err)
	require.Equal(t, uint64(3), offset)
}

func TestNewestOnEmptyDirReturnsEmptyString(t *testing.T) {
	dir := tempDir(t)
	latest, err := Newest(dir)
	require.NoError(t, err)
	require.Equal(t, "", latest)
}
