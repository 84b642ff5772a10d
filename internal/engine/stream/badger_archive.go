// badger_archive.go adapts dgraph-io/badger/v4 as the cold-storage ArchiveSink
// for entries evicted from a stream's live ring buffer. Keys are
// "<streamKey>\x00<offset big-endian>" so a single badger iterator can page
// through one stream's archived history in offset order.
//
// © 2025 Synap authors. MIT License.
package stream

import (
	"encoding/binary"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerArchive is an ArchiveSink backed by an embedded badger database.
type BadgerArchive struct {
	db *badger.DB
}

// OpenBadgerArchive opens (creating if absent) a badger database at dir for
// stream archival. Callers should Close it on shutdown.
func OpenBadgerArchive(dir string) (*BadgerArchive, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerArchive{db: db}, nil
}

func (a *BadgerArchive) Close() error { return a.db.Close() }

func archiveKey(streamKey string, offset uint64) []byte {
	buf := make([]byte, len(streamKey)+1+8)
	copy(buf, streamKey)
	buf[len(streamKey)] = 0
	binary.BigEndian.PutUint64(buf[len(streamKey)+1:], offset)
	return buf
}

// Archive persists an evicted entry under its stream key and offset.
func (a *BadgerArchive) Archive(streamKey string, entry Entry) error {
	return a.db.Update(func(txn *badger.Txn) error {
		val := make([]byte, 8+len(entry.Payload))
		binary.BigEndian.PutUint64(val, uint64(entry.Timestamp.UnixNano()))
		copy(val[8:], entry.Payload)
		return txn.Set(archiveKey(streamKey, entry.Offset), val)
	})
}

// Fetch returns archived entries for streamKey with offset in
// (fromOffset, fromOffset+limit], ascending. limit<=0 means unlimited.
func (a *BadgerArchive) Fetch(streamKey string, fromOffset uint64, limit int) ([]Entry, error) {
	var out []Entry
	prefix := append([]byte(streamKey), 0)
	seekKey := archiveKey(streamKey, fromOffset+1)

	err := a.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			item := it.Item()
			key := item.KeyCopy(nil)
			offset := binary.BigEndian.Uint64(key[len(prefix):])
			err := item.Value(func(val []byte) error {
				ts := time.Unix(0, int64(binary.BigEndian.Uint64(val[:8])))
				payload := append([]byte(nil), val[8:]...)
				out = append(out, Entry{Offset: offset, Payload: payload, Timestamp: ts})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
