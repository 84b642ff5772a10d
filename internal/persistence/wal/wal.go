// Package wal implements Synap's write-ahead log (spec §4.4.1–§4.4.2): a
// CRC32-framed, append-only record stream with group-commit batching and a
// configurable fsync policy, grounded on the framing idiom of
// other_examples' internal WAL writer (len-prefixed, CRC-checked records)
// and on core/persistence/wal_optimized.rs's exact batching/fsync timing.
//
// © 2025 Synap authors. MIT License.
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/synapdb/synap/internal/typederr"
)

// FsyncMode selects when the appender durably flushes to disk (spec
// §4.4.2's fsync policy table).
type FsyncMode int

const (
	FsyncAlways FsyncMode = iota
	FsyncPeriodic
	FsyncNever
)

const (
	batchDeadline = 100 * time.Microsecond
	batchMaxSize  = 10000
)

// LogEntry is one WAL record. CommandTag/Payload carry the dispatcher's
// tagged (command_tag, payload) shape (internal/dispatcher) rather than an
// engine-specific type, so the WAL package has no dependency on any engine.
type LogEntry struct {
	Offset     uint64    `cbor:"offset"`
	Timestamp  time.Time `cbor:"timestamp"`
	CommandTag string    `cbor:"command_tag"`
	Payload    []byte    `cbor:"payload"`
}

// Options configures an Appender.
type Options struct {
	Dir           string
	Fsync         FsyncMode
	FsyncInterval time.Duration // used only in FsyncPeriodic
	StartOffset   uint64        // offset to assign to the first appended record; callers resuming after recovery pass lastReplayedOffset+1
}

type appendRequest struct {
	tag     string
	payload []byte
	reply   chan appendResult
}

type appendResult struct {
	offset uint64
	err    error
}

// Appender is the single dedicated writer task spec §4.4.2 describes:
// every Append call enqueues onto a bounded channel (capacity 4096; Append
// blocks while it is full) drained by one
// goroutine that owns the file handle, so record ordering and offset
// assignment never race.
type Appender struct {
	opts       Options
	file       *os.File
	bw         *bufio.Writer
	nextOffset uint64
	lastFsync  time.Time

	queue  chan *appendRequest
	done   chan struct{}
	closed chan struct{}
	mu     sync.Mutex // guards Close against concurrent Append enqueue

	lastOffset atomic.Uint64 // mirrors nextOffset-1 for lock-free reads by snapshot/status callers
}

// NewAppender opens a fresh WAL segment file under opts.Dir (created if
// absent) and starts the batching goroutine.
func NewAppender(opts Options) (*Appender, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, typederr.Wrap(typederr.IOError, "create wal dir", err)
	}
	existing, err := listSegments(opts.Dir)
	if err != nil {
		return nil, err
	}
	seq := len(existing)
	name := filepath.Join(opts.Dir, segmentName(seq))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, typederr.Wrap(typederr.IOError, "open wal segment", err)
	}

	start := opts.StartOffset
	if start == 0 {
		start = 1
	}
	a := &Appender{
		opts:       opts,
		file:       f,
		bw:         bufio.NewWriter(f),
		nextOffset: start,
		lastFsync:  time.Now(),
		queue:      make(chan *appendRequest, 4096),
		done:       make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go a.run()
	return a, nil
}

// segmentName zero-pads seq to a fixed width so lexicographic sort of
// segment filenames equals creation order, with a uuid suffix for
// uniqueness (the filename itself carries no other meaning).
func segmentName(seq int) string {
	return fmt.Sprintf("%020d-%s.log", seq, uuid.NewString())
}

func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, typederr.Wrap(typederr.IOError, "list wal segments", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".log" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Append enqueues (tag, payload) and blocks until the record has been
// written to the OS buffer; under FsyncAlways it blocks further until
// fsync completes, matching spec §4.4.2's durability contract.
func (a *Appender) Append(tag string, payload []byte) (uint64, error) {
	req := &appendRequest{tag: tag, payload: payload, reply: make(chan appendResult, 1)}
	select {
	case a.queue <- req:
	case <-a.closed:
		return 0, typederr.New(typederr.IOError, "appender is closed")
	}
	res := <-req.reply
	return res.offset, res.err
}

// CurrentOffset returns the offset of the most recently appended record, or
// 0 if nothing has been appended yet. Safe to call from any goroutine;
// used by the snapshot scheduler to stamp each snapshot with the WAL offset
// it is consistent up to (spec §4.4.3).
func (a *Appender) CurrentOffset() uint64 {
	return a.lastOffset.Load()
}

func (a *Appender) run() {
	defer close(a.closed)
	for {
		select {
		case <-a.done:
			a.drainRemaining()
			return
		case first := <-a.queue:
			a.processBatch(first)
		}
	}
}

func (a *Appender) drainRemaining() {
	for {
		select {
		case req := <-a.queue:
			a.processBatch(req)
		default:
			return
		}
	}
}

func (a *Appender) processBatch(first *appendRequest) {
	batch := []*appendRequest{first}
	deadline := time.After(batchDeadline)

collect:
	for len(batch) < batchMaxSize {
		select {
		case req := <-a.queue:
			batch = append(batch, req)
		case <-deadline:
			break collect
		}
	}

	var writeErr error
	offsets := make([]uint64, len(batch))
	for i, req := range batch {
		offset := a.nextOffset
		entry := LogEntry{Offset: offset, Timestamp: time.Now(), CommandTag: req.tag, Payload: req.payload}
		if err := writeRecord(a.bw, entry); err != nil {
			writeErr = err
			break
		}
		offsets[i] = offset
		a.nextOffset++
		a.lastOffset.Store(offset)
	}

	if writeErr == nil {
		if err := a.bw.Flush(); err != nil {
			writeErr = typederr.Wrap(typederr.IOError, "flush wal buffer", err)
		}
	}

	if writeErr == nil {
		switch a.opts.Fsync {
		case FsyncAlways:
			writeErr = a.syncNow()
		case FsyncPeriodic:
			if time.Since(a.lastFsync) >= a.opts.FsyncInterval {
				writeErr = a.syncNow()
			}
		case FsyncNever:
			// rely on the OS page cache
		}
	}

	for i, req := range batch {
		if writeErr != nil {
			req.reply <- appendResult{err: writeErr}
			continue
		}
		req.reply <- appendResult{offset: offsets[i]}
	}
}

func (a *Appender) syncNow() error {
	if err := a.file.Sync(); err != nil {
		return typederr.Wrap(typederr.IOError, "fsync wal segment", err)
	}
	a.lastFsync = time.Now()
	return nil
}

// Close stops the appender after draining any queued records.
func (a *Appender) Close() error {
	close(a.done)
	<-a.closed
	if err := a.bw.Flush(); err != nil {
		return typederr.Wrap(typederr.IOError, "flush wal buffer on close", err)
	}
	return a.file.Close()
}

func writeRecord(w io.Writer, entry LogEntry) error {
	payload, err := cbor.Marshal(entry)
	if err != nil {
		return typederr.Wrap(typederr.InternalError, "marshal wal entry", err)
	}
	var header [12]byte
	binary.BigEndian.PutUint64(header[0:8], uint64(len(payload)))
	binary.BigEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(header[:]); err != nil {
		return typederr.Wrap(typederr.IOError, "write wal record header", err)
	}
	if _, err := w.Write(payload); err != nil {
		return typederr.Wrap(typederr.IOError, "write wal record payload", err)
	}
	return nil
}

// ReadSegment streams every well-formed record from a single segment file,
// stopping silently at the first corrupt or torn (truncated) record — a
// crash mid-write leaves a partial trailing record, which is expected and
// not an error (spec §4.4.1).
func ReadSegment(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, typederr.Wrap(typederr.IOError, "open wal segment", err)
	}
	defer f.Close()

	var out []LogEntry
	r := bufio.NewReader(f)
	for {
		var header [12]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			break // EOF or torn header: stop, tolerated
		}
		length := binary.BigEndian.Uint64(header[0:8])
		wantCRC := binary.BigEndian.Uint32(header[8:12])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			break // torn payload: stop, tolerated
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break // corrupt record: stop per spec §4.4.1/§4.4.4
		}
		var entry LogEntry
		if err := cbor.Unmarshal(payload, &entry); err != nil {
			break
		}
		out = append(out, entry)
	}
	return out, nil
}

// ReadAll replays every segment under dir in creation order, returning the
// concatenated record stream. Used by recovery (spec §4.4.4).
func ReadAll(dir string) ([]LogEntry, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	var all []LogEntry
	for _, name := range segments {
		entries, err := ReadSegment(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}
