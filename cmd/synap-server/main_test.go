package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/synapdb/synap/internal/config"
)

func newTestNode(t *testing.T) *node {
	t.Helper()
	cfg, err := config.New(t.TempDir())
	require.NoError(t, err)
	n, err := newNode(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func TestHandleCommandSetAndGet(t *testing.T) {
	n := newTestNode(t)

	setBody := `{"command":"kv.set","request_id":"r1","payload":{"key":"greeting","value":"hello"}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(setBody))
	n.handleCommand(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var setResp commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &setResp))
	require.True(t, setResp.Success)
	require.Equal(t, "r1", setResp.RequestID)

	getBody := `{"command":"kv.get","request_id":"r2","payload":{"key":"greeting"}}`
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(getBody))
	n.handleCommand(rec2, req2)

	var getResp commandResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &getResp))
	require.True(t, getResp.Success)
	require.Equal(t, "hello", getResp.Payload)
}

func TestHandleCommandUnknownTagReturns200WithError(t *testing.T) {
	n := newTestNode(t)

	body := `{"command":"nope.nope","request_id":"r3","payload":{}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(body))
	n.handleCommand(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
}

func TestHandleCommandRejectsNonPost(t *testing.T) {
	n := newTestNode(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/command", nil)
	n.handleCommand(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecoveryReplaysWALAfterRestart(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.New(dir)
	require.NoError(t, err)

	n := mustNode(t, cfg)
	body := `{"command":"kv.set","request_id":"r1","payload":{"key":"k","value":"v"}}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(body))
	n.handleCommand(rec, req)
	require.NoError(t, n.Close())

	n2 := mustNode(t, cfg)
	t.Cleanup(func() { n2.Close() })

	getRec := httptest.NewRecorder()
	getReq := httptest.NewRequest(http.MethodPost, "/api/v1/command", strings.NewReader(`{"command":"kv.get","request_id":"r2","payload":{"key":"k"}}`))
	n2.handleCommand(getRec, getReq)

	var resp commandResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "v", resp.Payload)
}

func mustNode(t *testing.T, cfg *config.Config) *node {
	t.Helper()
	n, err := newNode(cfg)
	require.NoError(t, err)
	return n
}
