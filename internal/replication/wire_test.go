package replication

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	op := Operation{Offset: 7, Timestamp: time.Now(), Tag: "kv.set", Payload: []byte("hello")}
	env := envelope{Kind: kindOperation, Op: &op}

	require.NoError(t, writeFrame(&buf, env))

	var got envelope
	require.NoError(t, readFrame(&buf, &got))
	require.Equal(t, kindOperation, got.Kind)
	require.Equal(t, op.Offset, got.Op.Offset)
	require.Equal(t, op.Tag, got.Op.Tag)
	require.Equal(t, op.Payload, got.Op.Payload)
}

func TestReadFrameRejectsCorruptedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, envelope{Kind: kindHeartbeat, Heartbeat: &heartbeat{PrimaryOffset: 3}}))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // flip a payload byte without touching the CRC header

	var got envelope
	err := readFrame(bytes.NewReader(raw), &got)
	require.Error(t, err)
}

func TestHandshakeRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeHandshake(&buf, 42))
	offset, err := readHandshake(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(42), offset)
}
