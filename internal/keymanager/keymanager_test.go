package keymanager

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synapdb/synap/internal/engine/bitmap"
	"github.com/synapdb/synap/internal/engine/hash"
	"github.com/synapdb/synap/internal/engine/hll"
	"github.com/synapdb/synap/internal/engine/kv"
	"github.com/synapdb/synap/internal/engine/list"
	"github.com/synapdb/synap/internal/engine/set"
	"github.com/synapdb/synap/internal/engine/stream"
	"github.com/synapdb/synap/internal/engine/zset"
	"github.com/synapdb/synap/internal/typederr"
)

func newManager() *Manager {
	return New(
		kv.New(0),
		hash.New(),
		list.New(),
		set.New(),
		zset.New(),
		bitmap.New(),
		hll.New(),
		stream.New(),
	)
}

func TestTypeAndExists(t *testing.T) {
	m := newManager()
	m.kvStore.Set("str", []byte("v"), 0)
	m.hashStore.HSet("h", "f", []byte("v"))
	m.listStore.RPush("l", []byte("v"))

	require.Equal(t, "string", m.Type("str"))
	require.Equal(t, "hash", m.Type("h"))
	require.Equal(t, "list", m.Type("l"))
	require.Equal(t, "none", m.Type("missing"))
	require.True(t, m.Exists("str"))
	require.False(t, m.Exists("missing"))
}

func TestRenameMovesAcrossTypeNamespace(t *testing.T) {
	m := newManager()
	m.kvStore.Set("src", []byte("v"), 0)
	err := m.Rename("src", "dst")
	require.NoError(t, err)
	require.False(t, m.Exists("src"))
	require.Equal(t, "string", m.Type("dst"))
}

func TestRenameMissingSrcFails(t *testing.T) {
	m := newManager()
	err := m.Rename("missing", "dst")
	require.Error(t, err)
	require.Equal(t, typederr.NotFound, typederr.KindOf(err))
}

func TestRenameOverwritesDestinationOfDifferentType(t *testing.T) {
	m := newManager()
	m.kvStore.Set("src", []byte("v"), 0)
	m.listStore.RPush("dst", []byte("old"))

	require.NoError(t, m.Rename("src", "dst"))
	require.Equal(t, "string", m.Type("dst"))
	require.False(t, m.listStore.Exists("dst"), "dst's old list must be cleared")
}

func TestRenameNXFailsIfDestinationExists(t *testing.T) {
	m := newManager()
	m.kvStore.Set("src", []byte("v"), 0)
	m.hashStore.HSet("dst", "f", []byte("v"))

	err := m.RenameNX("src", "dst")
	require.Error(t, err)
	require.Equal(t, typederr.DestinationExists, typederr.KindOf(err))
}

func TestCopyDeepCopiesAndRespectsReplace(t *testing.T) {
	m := newManager()
	m.kvStore.Set("src", []byte("v"), 0)

	require.NoError(t, m.Copy("src", "dst", false))
	require.True(t, m.kvStore.Exists("src"), "copy must not remove source")
	require.Equal(t, "string", m.Type("dst"))

	err := m.Copy("src", "dst", false)
	require.Error(t, err)
	require.Equal(t, typederr.DestinationExists, typederr.KindOf(err))

	require.NoError(t, m.Copy("src", "dst", true))
}

func TestRandomKeyOverPopulatedKeyspace(t *testing.T) {
	m := newManager()
	_, ok := m.RandomKey()
	require.False(t, ok)

	m.kvStore.Set("a", []byte("1"), 0)
	m.setStore.SAdd("b", []byte("x"))

	key, ok := m.RandomKey()
	require.True(t, ok)
	require.Contains(t, []string{"a", "b"}, key)
}
