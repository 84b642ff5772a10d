package replication

import "sync"

// defaultBufferLimit is the "last up-to-1,000,000 operations" ring spec
// §4.5.2 describes the primary holding in memory to decide full vs. partial
// sync.
const defaultBufferLimit = 1_000_000

// LogBuffer is the primary's in-memory tail of recently replicated
// operations. Single-writer (the dispatcher's replicate path, via
// Primary.Broadcast), multi-reader (one goroutine per connected replica),
// matching spec §9's "replication log ring buffer: single-writer,
// multi-reader" note.
type LogBuffer struct {
	mu    sync.RWMutex
	ops   []Operation
	limit int
}

// NewLogBuffer creates a buffer retaining at most limit operations. limit<=0
// defaults to defaultBufferLimit.
func NewLogBuffer(limit int) *LogBuffer {
	if limit <= 0 {
		limit = defaultBufferLimit
	}
	return &LogBuffer{limit: limit}
}

// Append records op, evicting the oldest entry once the buffer is full.
func (b *LogBuffer) Append(op Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ops = append(b.ops, op)
	if len(b.ops) > b.limit {
		b.ops = b.ops[len(b.ops)-b.limit:]
	}
}

// Oldest returns the offset of the oldest retained operation and whether the
// buffer holds anything at all.
func (b *LogBuffer) Oldest() (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ops) == 0 {
		return 0, false
	}
	return b.ops[0].Offset, true
}

// Current returns the offset of the most recently appended operation, or 0
// if the buffer is empty.
func (b *LogBuffer) Current() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ops) == 0 {
		return 0
	}
	return b.ops[len(b.ops)-1].Offset
}

// Since returns every operation with Offset > from, in order. ok is false
// when from predates what the buffer still retains (from < oldest-1) and a
// full sync is required instead; a from at or ahead of Current() yields a
// valid empty slice.
func (b *LogBuffer) Since(from uint64) (ops []Operation, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ops) == 0 {
		return nil, from == 0
	}
	oldest := b.ops[0].Offset
	if from < oldest-1 {
		return nil, false
	}
	out := make([]Operation, 0, len(b.ops))
	for _, op := range b.ops {
		if op.Offset > from {
			out = append(out, op)
		}
	}
	return out, true
}
