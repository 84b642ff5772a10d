package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeMover struct {
	mu      sync.Mutex
	pending map[string][]string // slot-keyed backlog, drained by ListSlotKeys
	moved   []string
}

func (f *fakeMover) ListSlotKeys(slot int, limit int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey(slot)
	batch := f.pending[key]
	if len(batch) > limit {
		batch, f.pending[key] = batch[:limit], batch[limit:]
	} else {
		delete(f.pending, key)
	}
	return batch
}

func (f *fakeMover) MoveKey(slot int, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moved = append(f.moved, key)
	return nil
}

func slotKey(slot int) string {
	return "slot"
}

func newFakeMover(keys []string) *fakeMover {
	return &fakeMover{pending: map[string][]string{"slot": keys}}
}

func TestMigrationCompletesAndHandsOffSlot(t *testing.T) {
	top := NewTopology()
	top.AddNode(Node{ID: "n1"})
	top.AddNode(Node{ID: "n2"})
	require.NoError(t, top.InitializeCluster([]string{"n1", "n2"}))

	keys := []string{"a", "b", "c", "d", "e"}
	mover := newFakeMover(keys)
	mgr := NewManager(top, mover, 2, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	slot := 0
	require.NoError(t, mgr.StartMigration(ctx, slot, "n1", "n2"))

	require.Eventually(t, func() bool {
		mig, ok := mgr.Status(slot)
		return ok && mig.State == MigrationComplete
	}, 3*time.Second, 10*time.Millisecond)

	mover.mu.Lock()
	defer mover.mu.Unlock()
	require.ElementsMatch(t, keys, mover.moved)
}

func TestMigrationConcurrentStartFailsWithSlotMigrating(t *testing.T) {
	top := NewTopology()
	top.AddNode(Node{ID: "n1"})
	top.AddNode(Node{ID: "n2"})
	require.NoError(t, top.InitializeCluster([]string{"n1", "n2"}))

	mover := newFakeMover([]string{"a", "b", "c"})
	mgr := NewManager(top, mover, 1, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, mgr.StartMigration(ctx, 0, "n1", "n2"))
	err := mgr.StartMigration(ctx, 0, "n1", "n2")
	require.Error(t, err)
}

func TestMigrationCompleteCannotBeCancelled(t *testing.T) {
	top := NewTopology()
	top.AddNode(Node{ID: "n1"})
	top.AddNode(Node{ID: "n2"})
	require.NoError(t, top.InitializeCluster([]string{"n1", "n2"}))

	mover := newFakeMover([]string{"a"})
	mgr := NewManager(top, mover, 10, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, mgr.StartMigration(ctx, 0, "n1", "n2"))
	require.Eventually(t, func() bool {
		mig, ok := mgr.Status(0)
		return ok && mig.State == MigrationComplete
	}, 3*time.Second, 10*time.Millisecond)

	require.Error(t, mgr.CancelMigration(0))
}
