package dispatcher

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapdb/synap/internal/engine/bitmap"
	"github.com/synapdb/synap/internal/engine/geo"
	"github.com/synapdb/synap/internal/engine/hash"
	"github.com/synapdb/synap/internal/engine/hll"
	"github.com/synapdb/synap/internal/engine/kv"
	"github.com/synapdb/synap/internal/engine/list"
	"github.com/synapdb/synap/internal/engine/set"
	"github.com/synapdb/synap/internal/engine/stream"
	"github.com/synapdb/synap/internal/engine/zset"
	"github.com/synapdb/synap/internal/keymanager"
	"github.com/synapdb/synap/internal/persistence/wal"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, string) {
	kvStore := kv.New(0)
	hashStore := hash.New()
	listStore := list.New()
	setStore := set.New()
	zsetStore := zset.New()
	bitmapStore := bitmap.New()
	hllStore := hll.New()
	streamStore := stream.New()
	geoStore := geo.New(zsetStore)
	keys := keymanager.New(kvStore, hashStore, listStore, setStore, zsetStore, bitmapStore, hllStore, streamStore)

	dir, err := os.MkdirTemp("", "synap-dispatcher-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	appender, err := wal.NewAppender(wal.Options{Dir: dir, Fsync: wal.FsyncAlways})
	require.NoError(t, err)
	t.Cleanup(func() { appender.Close() })

	return New(Engines{
		KV: kvStore, Hash: hashStore, List: listStore, Set: setStore,
		ZSet: zsetStore, Bitmap: bitmapStore, HLL: hllStore, Stream: streamStore,
		Geo: geoStore, Keys: keys,
	}, appender, nil, nil), dir
}

func TestDispatchUnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch("nope.nope", Payload{})
	require.False(t, resp.Success)
	require.Equal(t, "InvalidValue", resp.Error.Kind)
}

func TestDispatchKVSetGet(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch("kv.set", Payload{"key": "greeting", "value": "hello"})
	require.True(t, resp.Success)

	resp = d.Dispatch("kv.get", Payload{"key": "greeting"})
	require.True(t, resp.Success)
	require.Equal(t, []byte("hello"), resp.Result)
}

func TestDispatchKVGetMissingIsNotFound(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch("kv.get", Payload{"key": "absent"})
	require.False(t, resp.Success)
	require.Equal(t, "NotFound", resp.Error.Kind)
}

func TestDispatchMissingFieldIsInvalidValue(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch("kv.set", Payload{"key": "x"})
	require.False(t, resp.Success)
	require.Equal(t, "InvalidValue", resp.Error.Kind)
}

func TestDispatchZAddAndZRange(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch("zset.zadd", Payload{
		"key": "leaderboard",
		"members": []any{
			map[string]any{"member": "alice", "score": 10.0},
			map[string]any{"member": "bob", "score": 20.0},
		},
	})
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.Result)

	resp = d.Dispatch("zset.zrange", Payload{"key": "leaderboard", "start": int64(0), "end": int64(-1)})
	require.True(t, resp.Success)
	members, ok := resp.Result.([]zset.Member)
	require.True(t, ok)
	require.Len(t, members, 2)
}

func TestDispatchAppendsMutatingCommandsToWAL(t *testing.T) {
	d, dir := newTestDispatcher(t)
	resp := d.Dispatch("kv.set", Payload{"key": "a", "value": "1"})
	require.True(t, resp.Success)
	resp = d.Dispatch("kv.get", Payload{"key": "a"}) // read-only, must not consume an offset
	require.True(t, resp.Success)
	resp = d.Dispatch("kv.set", Payload{"key": "b", "value": "2"})
	require.True(t, resp.Success)

	require.NoError(t, d.WAL.Close())
	entries, err := wal.ReadAll(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(1), entries[0].Offset)
	require.Equal(t, uint64(2), entries[1].Offset)
}

func TestDispatchKeysRenameMovesAcrossEngines(t *testing.T) {
	d, _ := newTestDispatcher(t)
	require.True(t, d.Dispatch("kv.set", Payload{"key": "src", "value": "v"}).Success)
	resp := d.Dispatch("keys.rename", Payload{"src": "src", "dst": "dst"})
	require.True(t, resp.Success)

	typeResp := d.Dispatch("keys.type", Payload{"key": "dst"})
	require.Equal(t, "string", typeResp.Result)
}
