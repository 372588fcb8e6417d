package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneywright/internal/config"
	"moneywright/internal/records"
)

func fakeSandbox(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteExecuteSuccess(t *testing.T) {
	var gotReq remoteRequest
	srv := fakeSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/execute", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(remoteResponse{
			Success: true,
			Data:    json.RawMessage(`[{"symbol":"VWRL","quantity":10,"currentValue":1000.5}]`),
		})
	})

	exec := NewRemote(srv.URL, "tok", 5*time.Second, 2*time.Second)
	set, err := exec.Execute(context.Background(), "code", "doc text", records.ModeHolding)
	require.NoError(t, err)
	require.Equal(t, 1, set.Count())
	assert.Equal(t, "VWRL", set.Holdings[0].Symbol)

	assert.Equal(t, "code", gotReq.Code)
	assert.Equal(t, "doc text", gotReq.DocumentText)
	assert.Equal(t, "holding", gotReq.Mode)
	assert.Equal(t, int64(2000), gotReq.TimeoutMs)
}

func TestRemoteTypedTimeout(t *testing.T) {
	srv := fakeSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{
			Success:   false,
			Error:     "wall clock exceeded",
			ErrorType: "timeout",
		})
	})

	exec := NewRemote(srv.URL, "tok", 5*time.Second, time.Second)
	_, err := exec.Execute(context.Background(), "code", "doc", records.ModeTransaction)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.True(t, execErr.Timeout)
	assert.Contains(t, execErr.Reason, "timeout")
}

func TestRemoteRuntimeError(t *testing.T) {
	srv := fakeSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{
			Success:   false,
			Error:     "index out of range",
			ErrorType: "runtime_exception",
		})
	})

	exec := NewRemote(srv.URL, "tok", 5*time.Second, time.Second)
	_, err := exec.Execute(context.Background(), "code", "doc", records.ModeTransaction)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.False(t, execErr.Timeout)
	assert.Contains(t, execErr.Err.Error(), "index out of range")
}

func TestRemoteNon200Status(t *testing.T) {
	srv := fakeSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	})

	exec := NewRemote(srv.URL, "tok", 5*time.Second, time.Second)
	_, err := exec.Execute(context.Background(), "code", "doc", records.ModeTransaction)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Reason, "503")
}

func TestRemoteMalformedResponseBody(t *testing.T) {
	srv := fakeSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	exec := NewRemote(srv.URL, "tok", 5*time.Second, time.Second)
	_, err := exec.Execute(context.Background(), "code", "doc", records.ModeTransaction)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "malformed sandbox response", execErr.Reason)
}

func TestRemoteMalformedDataFailsShapeCheck(t *testing.T) {
	srv := fakeSandbox(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{
			Success: true,
			Data:    json.RawMessage(`{"rows": 2}`),
		})
	})

	exec := NewRemote(srv.URL, "tok", 5*time.Second, time.Second)
	_, err := exec.Execute(context.Background(), "code", "doc", records.ModeHolding)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "malformed output", execErr.Reason)
}

func TestSelectIsEvaluatedOnce(t *testing.T) {
	cfg := config.Default()
	first := Select(cfg)
	require.NotNil(t, first)

	// Flipping the config afterwards must not change the selected backend.
	cfg.Sandbox.URL = "https://vm.example"
	cfg.Sandbox.Token = "tok"
	second := Select(cfg)
	assert.Same(t, first, second)
}
