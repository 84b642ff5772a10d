package replication

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synapdb/synap/internal/metrics"
	"github.com/synapdb/synap/internal/typederr"
)

// SnapshotFunc produces a full-sync payload: the engines' combined state,
// already compressed (persistence/snapshot.EncodeState), plus the WAL offset
// it was captured at. Supplied by the caller so this package never imports
// the engine packages directly.
type SnapshotFunc func() (snapshotBytes []byte, atOffset uint64, err error)

// ReplicaStatus is the primary's view of one connected replica (spec
// §4.5.4's "(address, last_acked_offset, connected_at)").
type ReplicaStatus struct {
	ID              string
	Address         string
	LastAckedOffset uint64
	ConnectedAt     time.Time
}

// Primary accepts replica connections, performs the handshake, streams a
// full or partial sync, and then forwards every subsequent Broadcast call
// to each connected replica. It implements dispatcher.Broadcaster.
type Primary struct {
	listenAddr        string
	buffer            *LogBuffer
	snapshot          SnapshotFunc
	heartbeatInterval time.Duration
	logger            *zap.Logger
	metrics           metrics.Sink

	mu       sync.RWMutex
	conns    map[string]*replicaConn
	listener net.Listener
}

type replicaConn struct {
	id          string
	addr        string
	connectedAt time.Time
	send        chan Operation
	ackedOffset uint64 // updated only by this replica's own sender goroutine, so no lock needed
}

// NewPrimary builds a Primary. logger and m may both be nil (treated as
// zap.NewNop() and metrics.Noop respectively).
func NewPrimary(listenAddr string, buffer *LogBuffer, snapshot SnapshotFunc, heartbeatInterval time.Duration, logger *zap.Logger, m metrics.Sink) *Primary {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Noop
	}
	return &Primary{
		listenAddr:        listenAddr,
		buffer:            buffer,
		snapshot:          snapshot,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
		metrics:           m,
		conns:             make(map[string]*replicaConn),
	}
}

// Listen opens the replication TCP listener (spec §4.5.1's "the primary
// opens a TCP listener") without yet accepting connections, so callers
// (tests in particular) can read back the bound address before Serve runs.
func (p *Primary) Listen() error {
	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		return typederr.Wrap(typederr.IOError, "open replication listener", err)
	}
	p.mu.Lock()
	p.listener = ln
	p.mu.Unlock()
	return nil
}

// Addr returns the bound listener address. Valid only after Listen.
func (p *Primary) Addr() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.listener.Addr()
}

// Serve accepts connections until ctx is cancelled. Listen must have been
// called first.
func (p *Primary) Serve(ctx context.Context) error {
	p.mu.RLock()
	ln := p.listener
	p.mu.RUnlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return typederr.Wrap(typederr.IOError, "accept replica connection", err)
			}
		}
		go p.handleConn(ctx, conn)
	}
}

// ListenAndServe opens the listener and serves until ctx is cancelled.
func (p *Primary) ListenAndServe(ctx context.Context) error {
	if err := p.Listen(); err != nil {
		return err
	}
	return p.Serve(ctx)
}

func (p *Primary) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	id := uuid.NewString()
	logger := p.logger.With(zap.String("replica_id", id), zap.String("remote_addr", conn.RemoteAddr().String()))

	r := bufio.NewReader(conn)
	replicaOffset, err := readHandshake(r)
	if err != nil {
		logger.Warn("replica handshake failed", zap.Error(err))
		return
	}

	if err := p.sendInitialSync(conn, replicaOffset); err != nil {
		logger.Warn("initial sync failed", zap.Error(err))
		return
	}

	rc := &replicaConn{id: id, addr: conn.RemoteAddr().String(), connectedAt: time.Now(), send: make(chan Operation, 4096)}
	p.mu.Lock()
	p.conns[id] = rc
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.conns, id)
		p.mu.Unlock()
	}()

	p.stream(ctx, conn, rc, logger)
}

// sendInitialSync implements spec §4.5.2's sync-type decision: full sync if
// the replica's offset predates what the in-memory buffer still retains (or
// both sides are at zero), partial sync otherwise.
func (p *Primary) sendInitialSync(conn net.Conn, replicaOffset uint64) error {
	ops, ok := p.buffer.Since(replicaOffset)
	current := p.buffer.Current()
	needsFull := !ok || (replicaOffset == 0 && current == 0)
	if needsFull {
		snap, atOffset, err := p.snapshot()
		if err != nil {
			return err
		}
		return writeFrame(conn, envelope{Kind: kindFullSync, FullSync: &fullSync{SnapshotBytes: snap, AtOffset: atOffset}})
	}
	return writeFrame(conn, envelope{Kind: kindPartialSync, PartialSync: &partialSync{FromOffset: replicaOffset, Operations: ops}})
}

func (p *Primary) stream(ctx context.Context, conn net.Conn, rc *replicaConn, logger *zap.Logger) {
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-rc.send:
			if err := writeFrame(conn, envelope{Kind: kindOperation, Op: &op}); err != nil {
				logger.Warn("forward operation failed, dropping replica", zap.Error(err))
				return
			}
			rc.ackedOffset = op.Offset
		case <-ticker.C:
			current := p.buffer.Current()
			hb := heartbeat{PrimaryOffset: current, Timestamp: time.Now()}
			if err := writeFrame(conn, envelope{Kind: kindHeartbeat, Heartbeat: &hb}); err != nil {
				logger.Warn("heartbeat failed, dropping replica", zap.Error(err))
				return
			}
			p.metrics.SetReplicaLag(rc.addr, int64(current)-int64(rc.ackedOffset))
		}
	}
}

// Broadcast implements dispatcher.Broadcaster: it records the operation in
// the shared buffer and enqueues it for every connected replica's sender.
// A replica whose send channel is full is dropped rather than blocking the
// dispatcher's write path; it will resync via reconnect.
func (p *Primary) Broadcast(offset uint64, tag string, payload []byte) {
	op := Operation{Offset: offset, Timestamp: time.Now(), Tag: tag, Payload: payload}
	p.buffer.Append(op)

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, rc := range p.conns {
		select {
		case rc.send <- op:
		default:
			p.logger.Warn("replica send buffer full, offset not forwarded live; relies on resync", zap.String("replica_id", rc.id), zap.Uint64("offset", offset))
		}
	}
}

// Status reports every currently connected replica (spec §4.5.4).
func (p *Primary) Status() []ReplicaStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ReplicaStatus, 0, len(p.conns))
	for _, rc := range p.conns {
		out = append(out, ReplicaStatus{ID: rc.id, Address: rc.addr, LastAckedOffset: rc.ackedOffset, ConnectedAt: rc.connectedAt})
	}
	return out
}
