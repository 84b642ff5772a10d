package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startTransport(t *testing.T, selfID string) *TCPTransport {
	t.Helper()
	tr := NewTCPTransport(selfID, "127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ln := make(chan struct{})
	go func() {
		go tr.Serve(ctx)
		for tr.Addr() == nil {
			time.Sleep(time.Millisecond)
		}
		close(ln)
	}()
	<-ln
	return tr
}

func TestTCPTransportMeetExchangesIDs(t *testing.T) {
	a := startTransport(t, "node-a")
	b := startTransport(t, "node-b")

	peerID, err := a.Meet(context.Background(), b.Addr().String())
	require.NoError(t, err)
	require.Equal(t, "node-b", peerID)
}

func TestTCPTransportRequestVoteAndHeartbeatRoundTrip(t *testing.T) {
	a := startTransport(t, "node-a")
	b := startTransport(t, "node-b")

	eb := NewElection("node-b", nil, time.Second, 2*time.Second, time.Second, nil)
	b.BindElection(eb)
	a.AddPeer("node-b", b.Addr().String())

	granted, err := a.RequestVote(context.Background(), "node-b", 1)
	require.NoError(t, err)
	require.True(t, granted)
	require.Equal(t, Follower, eb.Role())

	c := startTransport(t, "node-c")
	c.AddPeer("node-b", b.Addr().String())
	granted2, err := c.RequestVote(context.Background(), "node-b", 1)
	require.NoError(t, err)
	require.False(t, granted2) // same term, already voted for node-a

	require.NoError(t, a.SendHeartbeat(context.Background(), "node-b", 2))
}
