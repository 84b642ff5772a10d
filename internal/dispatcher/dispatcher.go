// Package dispatcher implements Synap's command dispatcher (spec §4.7):
// the single place that knows about both the dotted external command
// namespace (kv.set, zset.zadd, geospatial.georadius, …) and the engines'
// Go method signatures. It validates payloads, invokes the right engine
// method, appends mutating commands to the write-ahead log, forwards them
// to any attached replication broadcaster, and translates errors to the
// stable tags of spec §7.
//
// © 2025 Synap authors. MIT License.
package dispatcher

import (
	"time"

	"github.com/fxamacker/cbor/v2"

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
	"github.com/synapdb/synap/internal/metrics"
	"github.com/synapdb/synap/internal/persistence/wal"
	"github.com/synapdb/synap/internal/typederr"
)

// Broadcaster forwards an applied mutating command to connected replicas
// (spec §4.5.2's "every subsequent write is forwarded"). Supplied by
// internal/replication; nil on a node with no replicas attached yet.
type Broadcaster interface {
	Broadcast(offset uint64, tag string, payload []byte)
}

// Engines bundles every engine Store plus the geo view and cross-type key
// manager that command handlers are built against.
type Engines struct {
	KV     *kv.Store
	Hash   *hash.Store
	List   *list.Store
	Set    *set.Store
	ZSet   *zset.Store
	Bitmap *bitmap.Store
	HLL    *hll.Store
	Stream *stream.Store
	Geo    *geo.Store
	Keys   *keymanager.Manager
}

// Dispatcher holds everything a command handler needs and the ambient
// machinery (WAL, replication, metrics) a successful mutation triggers.
type Dispatcher struct {
	Engines Engines
	WAL     *wal.Appender // nil disables durability (tests, embedded use)
	Replica Broadcaster   // nil disables replication forwarding
	Metrics metrics.Sink
}

// New builds a Dispatcher. wal and replica may be nil; metrics may be nil
// (treated as metrics.Noop).
func New(engines Engines, w *wal.Appender, replica Broadcaster, m metrics.Sink) *Dispatcher {
	if m == nil {
		m = metrics.Noop
	}
	return &Dispatcher{Engines: engines, WAL: w, Replica: replica, Metrics: m}
}

// ErrorInfo is the wire-level error envelope (spec §7): a stable Kind tag
// plus a human-readable message, never a raw Go error string.
type ErrorInfo struct {
	Kind    string `json:"kind" cbor:"kind"`
	Message string `json:"message" cbor:"message"`
}

// Response is the structured result of one dispatched command. Exactly one
// of Result/Error is meaningful, selected by Success.
type Response struct {
	Success bool       `json:"success" cbor:"success"`
	Result  any        `json:"result,omitempty" cbor:"result,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty" cbor:"error,omitempty"`
}

type handlerFunc func(e Engines, p Payload) (any, error)

// Dispatch validates and executes one command. Unknown commands return an
// InvalidValue error (spec §7's "payload fails structural validation"
// covers unrecognized command names too).
func (d *Dispatcher) Dispatch(tag string, payload Payload) Response {
	start := time.Now()
	namespace, op := splitTag(tag)

	h, ok := commandTable[tag]
	if !ok {
		d.Metrics.IncCommand(namespace, op)
		d.Metrics.IncCommandError(namespace, op, typederr.InvalidValue.String())
		return errResponse(typederr.Newf(typederr.InvalidValue, "unknown command %q", tag))
	}

	result, err := h(d.Engines, payload)
	d.Metrics.IncCommand(namespace, op)
	d.Metrics.ObserveCommandLatency(namespace, op, time.Since(start).Seconds())
	if err != nil {
		d.Metrics.IncCommandError(namespace, op, typederr.KindOf(err).String())
		return errResponse(err)
	}

	if mutatingCommands[tag] {
		d.logAndReplicate(tag, payload)
	}

	return Response{Success: true, Result: result}
}

// Apply invokes tag's handler directly, without appending to the WAL or
// forwarding to replicas. Used by WAL replay during recovery (spec
// §4.4.4) and by a replica applying operations streamed from its primary
// (spec §4.5.3), both of which must not re-log or re-broadcast what they
// are replaying.
func (d *Dispatcher) Apply(tag string, payload Payload) error {
	h, ok := commandTable[tag]
	if !ok {
		return typederr.Newf(typederr.InvalidValue, "unknown command %q", tag)
	}
	_, err := h(d.Engines, payload)
	return err
}

func (d *Dispatcher) logAndReplicate(tag string, payload Payload) {
	if d.WAL == nil {
		return
	}
	encoded, err := cbor.Marshal(map[string]any(payload))
	if err != nil {
		return // malformed payloads never reach here; a marshal failure is not user-actionable
	}
	offset, err := d.WAL.Append(tag, encoded)
	if err != nil {
		return // the appender itself logs/terminates on persistent I/O failure
	}
	d.Metrics.IncWALAppend()
	d.Metrics.SetWALOffset(offset)
	if d.Replica != nil {
		d.Replica.Broadcast(offset, tag, encoded)
	}
}

func errResponse(err error) Response {
	return Response{
		Success: false,
		Error:   &ErrorInfo{Kind: typederr.KindOf(err).String(), Message: err.Error()},
	}
}

func splitTag(tag string) (namespace, op string) {
	for i := 0; i < len(tag); i++ {
		if tag[i] == '.' {
			return tag[:i], tag[i+1:]
		}
	}
	return tag, ""
}
