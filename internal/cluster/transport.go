package cluster

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/synapdb/synap/internal/typederr"
)

// messageKind tags a gossip/meet frame's payload, mirroring the framing
// idiom internal/replication/wire.go uses for its own replication stream:
// a fixed numeric kind plus one cbor-encoded envelope rather than N
// distinct message structs on the wire.
type messageKind uint8

const (
	kindMeet messageKind = iota
	kindPing
	kindPong
	kindRequestVote
	kindVoteGranted
	kindHeartbeat
)

type envelope struct {
	Kind        messageKind `cbor:"kind"`
	SelfID      string      `cbor:"self_id,omitempty"`
	Address     string      `cbor:"address,omitempty"`
	Term        uint64      `cbor:"term,omitempty"`
	VoteGranted bool        `cbor:"vote_granted,omitempty"`
}

// writeFrame and readFrame use the same [length u32 BE][crc32 u32 BE][cbor
// payload] layout as replication's wire format (spec requires only that
// frames be length-prefixed with a tagged union payload, the exact bytes
// are implementation-defined). Duplicated here rather than imported from
// internal/replication so the cluster package keeps zero dependency on
// replication, matching its existing no-engine-dependency discipline.
func writeFrame(w io.Writer, v envelope) error {
	payload, err := cbor.Marshal(v)
	if err != nil {
		return typederr.Wrap(typederr.InternalError, "cluster: encode frame", err)
	}
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(header); err != nil {
		return typederr.Wrap(typederr.IOError, "cluster: write frame header", err)
	}
	if _, err := w.Write(payload); err != nil {
		return typederr.Wrap(typederr.IOError, "cluster: write frame payload", err)
	}
	return nil
}

func readFrame(r io.Reader) (envelope, error) {
	var env envelope
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return env, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	wantCRC := binary.BigEndian.Uint32(header[4:8])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return env, typederr.Wrap(typederr.IOError, "cluster: read frame payload", err)
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return env, typederr.New(typederr.Corrupt, "cluster: frame checksum mismatch")
	}
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return env, typederr.Wrap(typederr.InternalError, "cluster: decode frame", err)
	}
	return env, nil
}

// TCPTransport implements Transport and also serves as the companion
// listener spec §4.6 describes ("accepts MEET, PING/PONG, and topology
// gossip"): one TCP connection per RPC, dialed fresh each call rather than
// held open, since cluster control traffic is low-volume and latency
// insensitive compared to the replication stream.
type TCPTransport struct {
	selfID     string
	listenAddr string
	dialTimeout time.Duration
	logger     *zap.Logger

	mu        sync.RWMutex
	peerAddrs map[string]string // peer ID -> dial address, learned via MEET/gossip

	election *Election
	listener net.Listener
}

// NewTCPTransport builds a transport bound to listenAddr. selfID is sent in
// every outgoing MEET/heartbeat so peers can learn our address.
func NewTCPTransport(selfID, listenAddr string, logger *zap.Logger) *TCPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPTransport{
		selfID:      selfID,
		listenAddr:  listenAddr,
		dialTimeout: 2 * time.Second,
		logger:      logger,
		peerAddrs:   make(map[string]string),
	}
}

// BindElection wires the Election this transport delivers RequestVote and
// heartbeat RPCs to. Must be called before Serve.
func (t *TCPTransport) BindElection(e *Election) { t.election = e }

// AddPeer registers a peer's dial address, learned out-of-band (static
// config) or via a prior MEET exchange.
func (t *TCPTransport) AddPeer(peerID, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peerAddrs[peerID] = addr
}

// Serve accepts MEET/PING/RequestVote/Heartbeat connections until ctx is
// cancelled.
func (t *TCPTransport) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return typederr.Wrap(typederr.IOError, "cluster: listen", err)
	}
	t.listener = ln
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return typederr.Wrap(typederr.IOError, "cluster: accept", err)
		}
		go t.handleConn(conn)
	}
}

// Addr returns the bound listener address; only valid after Serve starts
// accepting.
func (t *TCPTransport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCPTransport) handleConn(conn net.Conn) {
	defer conn.Close()
	req, err := readFrame(conn)
	if err != nil {
		t.logger.Warn("cluster: bad frame", zap.Error(err))
		return
	}
	switch req.Kind {
	case kindMeet:
		t.AddPeer(req.SelfID, req.Address)
		writeFrame(conn, envelope{Kind: kindPong, SelfID: t.selfID})
	case kindPing:
		writeFrame(conn, envelope{Kind: kindPong, SelfID: t.selfID})
	case kindRequestVote:
		granted := false
		if t.election != nil {
			granted = t.election.OnRequestVote(req.Term, req.SelfID)
		}
		writeFrame(conn, envelope{Kind: kindVoteGranted, VoteGranted: granted})
	case kindHeartbeat:
		if t.election != nil {
			t.election.OnHeartbeat(req.Term)
		}
		writeFrame(conn, envelope{Kind: kindPong})
	}
}

func (t *TCPTransport) dial(ctx context.Context, peerID string) (net.Conn, error) {
	t.mu.RLock()
	addr, ok := t.peerAddrs[peerID]
	t.mu.RUnlock()
	if !ok {
		return nil, typederr.New(typederr.NotFound, "cluster: unknown peer "+peerID)
	}
	d := net.Dialer{Timeout: t.dialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// RequestVote implements Election's Transport.
func (t *TCPTransport) RequestVote(ctx context.Context, peerID string, term uint64) (bool, error) {
	conn, err := t.dial(ctx, peerID)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	if err := writeFrame(conn, envelope{Kind: kindRequestVote, SelfID: t.selfID, Term: term}); err != nil {
		return false, err
	}
	resp, err := readFrame(conn)
	if err != nil {
		return false, err
	}
	return resp.VoteGranted, nil
}

// SendHeartbeat implements Election's Transport.
func (t *TCPTransport) SendHeartbeat(ctx context.Context, peerID string, term uint64) error {
	conn, err := t.dial(ctx, peerID)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := writeFrame(conn, envelope{Kind: kindHeartbeat, SelfID: t.selfID, Term: term}); err != nil {
		return err
	}
	_, err = readFrame(conn)
	return err
}

// Meet dials peerAddr and announces selfID/selfAddr, learning the peer's ID
// in return so it can be added to the roster (spec §4.6's MEET message).
func (t *TCPTransport) Meet(ctx context.Context, peerAddr string) (peerID string, err error) {
	d := net.Dialer{Timeout: t.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", peerAddr)
	if err != nil {
		return "", typederr.Wrap(typederr.IOError, "cluster: meet dial", err)
	}
	defer conn.Close()
	if err := writeFrame(conn, envelope{Kind: kindMeet, SelfID: t.selfID, Address: t.listenAddr}); err != nil {
		return "", err
	}
	resp, err := readFrame(conn)
	if err != nil {
		return "", err
	}
	t.AddPeer(resp.SelfID, peerAddr)
	return resp.SelfID, nil
}
