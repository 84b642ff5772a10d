package replication

import (
	"bufio"
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/synapdb/synap/internal/dispatcher"
	"github.com/synapdb/synap/internal/metrics"
	"github.com/synapdb/synap/internal/persistence/snapshot"
	"github.com/synapdb/synap/internal/typederr"
)

// Status is the replica's view of its own sync state (spec §4.5.4's
// "(current_offset, primary_offset, lag, connected, last_heartbeat)").
type Status struct {
	CurrentOffset uint64
	PrimaryOffset uint64
	Lag           int64
	Connected     bool
	LastHeartbeat time.Time
}

// Replica dials a primary, performs the handshake, applies the resulting
// full or partial sync, and then applies every subsequently forwarded
// operation through the dispatcher's bypass path.
type Replica struct {
	primaryAddr  string
	dispatcher   *dispatcher.Dispatcher
	stores       snapshot.Stores
	reconnectMin time.Duration
	logger       *zap.Logger
	metrics      metrics.Sink

	appliedOffset atomic.Uint64
	primaryOffset atomic.Uint64
	connected     atomic.Bool
	lastHeartbeat atomic.Value // time.Time
}

// NewReplica builds a Replica. stores is used to restore a snapshot
// delivered by a full sync. startOffset is the offset already applied from
// local WAL/snapshot recovery, so reconnects after a restart resume at the
// right point. logger and m may both be nil.
func NewReplica(primaryAddr string, d *dispatcher.Dispatcher, stores snapshot.Stores, startOffset uint64, reconnectMin time.Duration, logger *zap.Logger, m metrics.Sink) *Replica {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Noop
	}
	r := &Replica{primaryAddr: primaryAddr, dispatcher: d, stores: stores, reconnectMin: reconnectMin, logger: logger, metrics: m}
	r.appliedOffset.Store(startOffset)
	r.lastHeartbeat.Store(time.Time{})
	return r
}

// Status reports the replica's current sync state.
func (r *Replica) Status() Status {
	current := r.appliedOffset.Load()
	primary := r.primaryOffset.Load()
	return Status{
		CurrentOffset: current,
		PrimaryOffset: primary,
		Lag:           int64(primary) - int64(current),
		Connected:     r.connected.Load(),
		LastHeartbeat: r.lastHeartbeat.Load().(time.Time),
	}
}

// Run connects to the primary and applies the replication stream until ctx
// is cancelled, reconnecting with exponential backoff (spec §4.5.5) across
// connection failures.
func (r *Replica) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.reconnectMin
	bo.MaxElapsedTime = 0 // reconnect is supposed to be forever (spec §4.5.1), not give up after a ceiling
	boCtx := backoff.WithContext(bo, ctx)

	for {
		err := r.connectAndServe(ctx)
		wasConnected := r.connected.Load()
		r.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if wasConnected {
			boCtx.Reset() // a connection that synced successfully resets backoff to the initial delay
		}
		r.metrics.IncReplicationReconnect()
		r.logger.Warn("replication connection lost, reconnecting", zap.Error(err))
		wait := boCtx.NextBackOff()
		if wait == backoff.Stop {
			return typederr.Wrap(typederr.IOError, "replication reconnect backoff exhausted", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (r *Replica) connectAndServe(ctx context.Context) error {
	conn, err := net.Dial("tcp", r.primaryAddr)
	if err != nil {
		return typederr.Wrap(typederr.IOError, "dial primary", err)
	}
	defer conn.Close()

	if err := writeHandshake(conn, r.appliedOffset.Load()); err != nil {
		return err
	}

	br := bufio.NewReader(conn)
	var initial envelope
	if err := readFrame(br, &initial); err != nil {
		return typederr.Wrap(typederr.IOError, "read initial sync", err)
	}
	if err := r.applyInitialSync(initial); err != nil {
		return err
	}
	r.connected.Store(true)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg envelope
		if err := readFrame(br, &msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return typederr.Wrap(typederr.IOError, "read replication frame", err)
		}
		if err := r.applyMessage(msg); err != nil {
			r.logger.Warn("applying replicated message failed", zap.Error(err))
		}
	}
}

// applyInitialSync handles whichever variant the primary chose to send
// first (spec §4.5.5's "partial failures during snapshot stream: replica
// discards partial state and retries" is satisfied by this running inside
// connectAndServe: any error here aborts the connection and Run reconnects
// from scratch rather than leaving a half-restored store, since Restore
// only ever overwrites keys present in state and a retried full sync simply
// re-overwrites them).
func (r *Replica) applyInitialSync(env envelope) error {
	switch env.Kind {
	case kindFullSync:
		state, err := snapshot.DecodeState(env.FullSync.SnapshotBytes)
		if err != nil {
			return err
		}
		snapshot.Restore(r.stores, state)
		r.appliedOffset.Store(env.FullSync.AtOffset)
		return nil
	case kindPartialSync:
		for _, op := range env.PartialSync.Operations {
			if err := r.applyOperation(op); err != nil {
				return err
			}
		}
		return nil
	default:
		return typederr.Newf(typederr.Corrupt, "unexpected initial sync message kind %d", env.Kind)
	}
}

func (r *Replica) applyMessage(env envelope) error {
	switch env.Kind {
	case kindOperation:
		return r.applyOperation(*env.Op)
	case kindHeartbeat:
		r.primaryOffset.Store(env.Heartbeat.PrimaryOffset)
		r.lastHeartbeat.Store(env.Heartbeat.Timestamp)
		return nil
	default:
		return typederr.Newf(typederr.Corrupt, "unexpected message kind %d", env.Kind)
	}
}

// applyOperation implements spec §4.5.3: checks (but does not enforce) the
// expected offset, then invokes the engine through the dispatcher's Apply
// bypass so the operation is neither re-logged nor re-broadcast.
func (r *Replica) applyOperation(op Operation) error {
	expected := r.appliedOffset.Load() + 1
	if op.Offset != expected {
		r.logger.Warn("replicated operation offset mismatch, applying anyway",
			zap.Uint64("expected", expected), zap.Uint64("got", op.Offset))
	}

	var payload map[string]any
	if err := cbor.Unmarshal(op.Payload, &payload); err != nil {
		return typederr.Wrap(typederr.Corrupt, "decode replicated operation payload", err)
	}
	if err := r.dispatcher.Apply(op.Tag, dispatcher.Payload(payload)); err != nil {
		return err
	}
	if op.Offset > r.appliedOffset.Load() {
		r.appliedOffset.Store(op.Offset)
	}
	return nil
}
