package transport

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	srv := server.NewMCPServer("test", "0.0.0", server.WithToolCapabilities(true))
	h := NewHandler(srv)
	t.Cleanup(h.Close)
	return h
}

func passthrough(next http.Handler) http.Handler { return next }

func TestStreamableInitializeCreatesSession(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
	rec := httptest.NewRecorder()
	h.HandleMCP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(SessionIDHeader)
	require.NotEmpty(t, sessionID)
	assert.Contains(t, rec.Body.String(), "serverInfo")
	assert.Equal(t, 1, h.StreamableSessionCount())

	// The returned identifier continues the session.
	req = httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	req.Header.Set(SessionIDHeader, sessionID)
	rec = httptest.NewRecorder()
	h.HandleMCP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamableSessionIDsAreUnique(t *testing.T) {
	h := newTestHandler(t)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
		rec := httptest.NewRecorder()
		h.HandleMCP(rec, req)

		id := rec.Header().Get(SessionIDHeader)
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "session ID %s handed out twice", id)
		seen[id] = true
	}
}

func TestStreamableUnknownSessionFailsHard(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"ping"}`))
	req.Header.Set(SessionIDHeader, "does-not-exist")
	rec := httptest.NewRecorder()
	h.HandleMCP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","error":{"code":-32000,"message":"No transport found for sessionId"},"id":null}`,
		rec.Body.String())

	// The failed lookup must not have minted a session.
	assert.Equal(t, 0, h.StreamableSessionCount())
}

func TestStreamableNonInitializeWithoutSessionRejected(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	h.HandleMCP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No transport found for sessionId")
	assert.Equal(t, 0, h.StreamableSessionCount())
}

func TestStreamableStandaloneStream(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
	rec := httptest.NewRecorder()
	h.HandleMCP(rec, req)
	sessionID := rec.Header().Get(SessionIDHeader)
	require.NotEmpty(t, sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	streamReq := httptest.NewRequest(http.MethodGet, "/mcp", nil).WithContext(ctx)
	streamReq.Header.Set(SessionIDHeader, sessionID)
	streamRec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.HandleMCP(streamRec, streamReq)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream handler did not return after context cancel")
	}

	assert.Equal(t, http.StatusOK, streamRec.Code)
	assert.Equal(t, "text/event-stream", streamRec.Header().Get("Content-Type"))
}

func TestStreamableStandaloneStreamUnknownSession(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(SessionIDHeader, "does-not-exist")
	rec := httptest.NewRecorder()
	h.HandleMCP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "No transport found for sessionId")
}

func TestStreamableDeleteClosesSession(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
	rec := httptest.NewRecorder()
	h.HandleMCP(rec, req)
	sessionID := rec.Header().Get(SessionIDHeader)
	require.NotEmpty(t, sessionID)

	del := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	del.Header.Set(SessionIDHeader, sessionID)
	rec = httptest.NewRecorder()
	h.HandleMCP(rec, del)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, h.StreamableSessionCount())

	// Closing twice fails the lookup, it does not widen the blast radius.
	del = httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	del.Header.Set(SessionIDHeader, sessionID)
	rec = httptest.NewRecorder()
	h.HandleMCP(rec, del)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesUnknownSessionFailsHard(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/messages?sessionId=does-not-exist",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	h.HandleMessages(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No transport found for sessionId", strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, 0, h.SSESessionCount())
}

func TestMessagesMissingSessionIDRejected(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/messages",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	h.HandleMessages(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSSESessionRoundTrip(t *testing.T) {
	h := newTestHandler(t)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux, passthrough)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// First frame advertises the message endpoint with the session ID.
	scanner := bufio.NewScanner(resp.Body)
	var endpoint string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			endpoint = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.NotEmpty(t, endpoint)
	require.Contains(t, endpoint, "/messages?sessionId=")
	assert.Equal(t, 1, h.SSESessionCount())

	// A message posted to the endpoint is answered over the event stream.
	postResp, err := http.Post(ts.URL+endpoint, "application/json", strings.NewReader(initializeBody))
	require.NoError(t, err)
	postResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, postResp.StatusCode)

	var payload string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			payload = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	assert.Contains(t, payload, "serverInfo")
}

func TestSSEDisconnectCleansUp(t *testing.T) {
	h := newTestHandler(t)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux, passthrough)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/sse")
	require.NoError(t, err)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			break
		}
	}
	require.Equal(t, 1, h.SSESessionCount())

	resp.Body.Close()

	assert.Eventually(t, func() bool {
		return h.SSESessionCount() == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSSERejectsNonGET(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/sse", nil)
	rec := httptest.NewRecorder()
	h.HandleSSE(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
