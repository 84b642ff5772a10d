package stream

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishConsume(t *testing.T) {
	s := New(WithDefaultCapacity(16))
	o1 := s.Publish("room", []byte("hello"))
	o2 := s.Publish("room", []byte("world"))
	require.Equal(t, uint64(1), o1)
	require.Equal(t, uint64(2), o2)

	entries, err := s.Consume("room", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "hello", string(entries[0].Payload))
	require.Equal(t, "world", string(entries[1].Payload))
}

func TestConsumeFromOffsetSkipsEarlier(t *testing.T) {
	s := New()
	s.Publish("room", []byte("a"))
	s.Publish("room", []byte("b"))
	s.Publish("room", []byte("c"))

	entries, err := s.Consume("room", 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "b", string(entries[0].Payload))
	require.Equal(t, "c", string(entries[1].Payload))
}

func TestConsumeAbsentStreamIsEmpty(t *testing.T) {
	s := New()
	entries, err := s.Consume("missing", 0, 10)
	require.NoError(t, err)
	require.Empty(t, entries)
}

type memArchive struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

func newMemArchive() *memArchive { return &memArchive{entries: make(map[string][]Entry)} }

func (a *memArchive) Archive(streamKey string, entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[streamKey] = append(a.entries[streamKey], entry)
	return nil
}

func (a *memArchive) Fetch(streamKey string, fromOffset uint64, limit int) ([]Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Entry
	for _, e := range a.entries[streamKey] {
		if e.Offset > fromOffset {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func TestCompactionEvictsOldestToArchive(t *testing.T) {
	arch := newMemArchive()
	s := New(WithDefaultCapacity(3), WithArchiveSink(arch))
	for i := 0; i < 5; i++ {
		s.Publish("room", []byte(fmt.Sprintf("msg-%d", i)))
	}
	require.Equal(t, 3, s.Len("room"))
	require.Len(t, arch.entries["room"], 2, "the two oldest entries (offsets 1,2) must have been archived")

	live, err := s.Consume("room", 0, 10)
	require.NoError(t, err)
	require.Len(t, live, 5, "consume should backfill from archive to cover the full offset range")
}

func TestLastOffsetTracksMostRecent(t *testing.T) {
	s := New()
	require.Equal(t, uint64(0), s.LastOffset("room"))
	s.Publish("room", []byte("a"))
	s.Publish("room", []byte("b"))
	require.Equal(t, uint64(2), s.LastOffset("room"))
}

func TestDelRemovesStream(t *testing.T) {
	s := New()
	s.Publish("room", []byte("a"))
	require.True(t, s.Del("room"))
	require.False(t, s.Exists("room"))
}
