package replication

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/synapdb/synap/internal/dispatcher"
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
	"github.com/synapdb/synap/internal/persistence/snapshot"
	"github.com/synapdb/synap/internal/persistence/wal"
)

type testNode struct {
	engines dispatcher.Engines
	stores  snapshot.Stores
	d       *dispatcher.Dispatcher
}

func newTestNode(t *testing.T, w *wal.Appender, replica dispatcher.Broadcaster) *testNode {
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

	engines := dispatcher.Engines{
		KV: kvStore, Hash: hashStore, List: listStore, Set: setStore,
		ZSet: zsetStore, Bitmap: bitmapStore, HLL: hllStore, Stream: streamStore,
		Geo: geoStore, Keys: keys,
	}
	stores := snapshot.Stores{
		KV: kvStore, Hash: hashStore, List: listStore, Set: setStore,
		ZSet: zsetStore, Bitmap: bitmapStore, HLL: hllStore, Stream: streamStore,
	}
	return &testNode{engines: engines, stores: stores, d: dispatcher.New(engines, w, replica, nil)}
}

func newTestWAL(t *testing.T) *wal.Appender {
	dir, err := os.MkdirTemp("", "synap-replication-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	a, err := wal.NewAppender(wal.Options{Dir: dir, Fsync: wal.FsyncNever})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestReplicationPartialSyncDeliversBufferedOperations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	buffer := NewLogBuffer(100)
	var primaryNode *testNode
	snapFn := func() ([]byte, uint64, error) {
		state := snapshot.Capture(primaryNode.stores)
		b, err := snapshot.EncodeState(state)
		return b, buffer.Current(), err
	}
	p := NewPrimary("127.0.0.1:0", buffer, snapFn, 50*time.Millisecond, nil, nil)
	require.NoError(t, p.Listen())
	go p.Serve(ctx)

	primaryNode = newTestNode(t, newTestWAL(t), p)

	require.True(t, primaryNode.d.Dispatch("kv.set", dispatcher.Payload{"key": "a", "value": "1"}).Success)
	require.True(t, primaryNode.d.Dispatch("kv.set", dispatcher.Payload{"key": "b", "value": "2"}).Success)
	require.True(t, primaryNode.d.Dispatch("kv.set", dispatcher.Payload{"key": "c", "value": "3"}).Success)

	replicaNode := newTestNode(t, nil, nil)
	r := NewReplica(p.Addr().String(), replicaNode.d, replicaNode.stores, 0, 20*time.Millisecond, nil, nil)
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		v, ok := replicaNode.engines.KV.Get("c")
		return ok && string(v) == "3"
	}, 3*time.Second, 10*time.Millisecond)

	v, ok := replicaNode.engines.KV.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", string(v))

	require.True(t, primaryNode.d.Dispatch("kv.set", dispatcher.Payload{"key": "d", "value": "4"}).Success)
	require.Eventually(t, func() bool {
		v, ok := replicaNode.engines.KV.Get("d")
		return ok && string(v) == "4"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestReplicationFullSyncWhenBufferEvicted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	buffer := NewLogBuffer(2) // small enough that offset 1 is evicted by the time a replica connects
	var primaryNode *testNode
	snapFn := func() ([]byte, uint64, error) {
		state := snapshot.Capture(primaryNode.stores)
		b, err := snapshot.EncodeState(state)
		return b, buffer.Current(), err
	}
	p := NewPrimary("127.0.0.1:0", buffer, snapFn, 50*time.Millisecond, nil, nil)
	require.NoError(t, p.Listen())
	go p.Serve(ctx)

	primaryNode = newTestNode(t, newTestWAL(t), p)
	require.True(t, primaryNode.d.Dispatch("kv.set", dispatcher.Payload{"key": "x", "value": "1"}).Success)
	require.True(t, primaryNode.d.Dispatch("kv.set", dispatcher.Payload{"key": "y", "value": "2"}).Success)
	require.True(t, primaryNode.d.Dispatch("kv.set", dispatcher.Payload{"key": "z", "value": "3"}).Success) // evicts offset 1 from the buffer

	replicaNode := newTestNode(t, nil, nil)
	r := NewReplica(p.Addr().String(), replicaNode.d, replicaNode.stores, 0, 20*time.Millisecond, nil, nil)
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		v, ok := replicaNode.engines.KV.Get("x")
		return ok && string(v) == "1"
	}, 3*time.Second, 10*time.Millisecond)

	v, ok := replicaNode.engines.KV.Get("z")
	require.True(t, ok)
	require.Equal(t, "3", string(v))
}
