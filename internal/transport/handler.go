package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"

	"mcpgate/pkg/logging"
)

// SessionIDHeader selects the streamable session a request belongs to.
const SessionIDHeader = "Mcp-Session-Id"

// messageEndpoint is the inbound message path advertised to SSE clients.
const messageEndpoint = "/messages"

const (
	// sessionIdleTimeout is how long an event stream may sit idle before the
	// transport gives up on it. Agent sessions routinely pause for hours
	// between tool calls, hence the generous window.
	sessionIdleTimeout = 6 * time.Hour

	// keepAliveInterval is how often a comment frame is written to an open
	// event stream so intermediaries don't reap the connection.
	keepAliveInterval = 30 * time.Second

	// maxMessageBytes caps the size of an accepted JSON-RPC message.
	maxMessageBytes = 4 << 20
)

// Sessions implement mcp-go's ClientSession contract so the MCP server can
// route notifications back to the right connection.
var (
	_ server.ClientSession = (*SSESession)(nil)
	_ server.ClientSession = (*StreamableSession)(nil)
)

// Handler multiplexes MCP sessions over HTTP. It owns one registry per
// transport kind and attaches every live session to the MCP server.
type Handler struct {
	mcpServer  *server.MCPServer
	sse        *Registry[*SSESession]
	streamable *Registry[*StreamableSession]
}

// NewHandler creates a transport handler bound to the given MCP server.
func NewHandler(mcpServer *server.MCPServer) *Handler {
	return &Handler{
		mcpServer:  mcpServer,
		sse:        NewRegistry[*SSESession](),
		streamable: NewRegistry[*StreamableSession](),
	}
}

// RegisterRoutes mounts the transport endpoints on mux, wrapping each with
// gate (typically the bearer middleware).
func (h *Handler) RegisterRoutes(mux *http.ServeMux, gate func(http.Handler) http.Handler) {
	mux.Handle("/sse", gate(http.HandlerFunc(h.HandleSSE)))
	mux.Handle(messageEndpoint, gate(http.HandlerFunc(h.HandleMessages)))
	mux.Handle("/mcp", gate(http.HandlerFunc(h.HandleMCP)))
}

// Close tears down every live session. Used at server shutdown.
func (h *Handler) Close() {
	for _, sess := range h.sse.All() {
		sess.close()
	}
	for _, sess := range h.streamable.All() {
		h.closeStreamable(sess)
	}
}

// SSESessionCount returns the number of live SSE sessions.
func (h *Handler) SSESessionCount() int { return h.sse.Len() }

// StreamableSessionCount returns the number of live streamable sessions.
func (h *Handler) StreamableSessionCount() int { return h.streamable.Len() }

// HandleSSE serves GET /sse: it creates a session, advertises the message
// endpoint, and streams events until the connection dies. Session creation
// is always server-initiated for this kind; a client cannot supply its own
// identifier.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := newSSESession(uuid.NewString())
	sessionID := sess.SessionID()

	if err := h.mcpServer.RegisterSession(r.Context(), sess); err != nil {
		logging.Error("SSE", err, "Failed to register session with MCP server")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	h.sse.Add(sessionID, sess)
	logging.Info("SSE", "Session %s opened", logging.TruncateSessionID(sessionID))

	// Teardown is unconditional and runs exactly once, whether the client
	// disconnected, the server is shutting down, or a write failed.
	defer func() {
		sess.close()
		h.sse.Remove(sessionID)
		h.mcpServer.UnregisterSession(context.Background(), sessionID)
		logging.Info("SSE", "Session %s closed", logging.TruncateSessionID(sessionID))
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(sessionIdleTimeout))

	endpoint := fmt.Sprintf("%s?sessionId=%s", messageEndpoint, sessionID)
	if _, err := fmt.Fprint(w, formatSSEEvent("endpoint", []byte(endpoint))); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			return
		case frame := <-sess.events:
			if _, err := fmt.Fprint(w, frame); err != nil {
				logging.Warn("SSE", "Write to session %s failed: %v", logging.TruncateSessionID(sessionID), err)
				return
			}
			flusher.Flush()
			_ = rc.SetWriteDeadline(time.Now().Add(sessionIdleTimeout))
		case notif := <-sess.notifications:
			data, err := json.Marshal(notif)
			if err != nil {
				logging.Warn("SSE", "Failed to marshal notification: %v", err)
				continue
			}
			if _, err := fmt.Fprint(w, formatSSEEvent("message", data)); err != nil {
				return
			}
			flusher.Flush()
			_ = rc.SetWriteDeadline(time.Now().Add(sessionIdleTimeout))
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			_ = rc.SetWriteDeadline(time.Now().Add(sessionIdleTimeout))
		}
	}
}

// HandleMessages serves POST /messages?sessionId=<id>: it delivers one
// JSON-RPC message to an existing SSE session. The response travels back
// over the event stream; the POST only reflects the delivery outcome.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	sess, ok := h.sse.Get(sessionID)
	if !ok {
		logging.Warn("SSE", "No transport found for session %s", logging.TruncateSessionID(sessionID))
		http.Error(w, "No transport found for sessionId", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	ctx := h.mcpServer.WithContext(r.Context(), sess)
	response := h.mcpServer.HandleMessage(ctx, body)
	if response != nil {
		data, err := json.Marshal(response)
		if err != nil {
			logging.Error("SSE", err, "Failed to marshal response for session %s", logging.TruncateSessionID(sessionID))
			http.Error(w, "Failed to deliver response", http.StatusInternalServerError)
			return
		}
		if err := sess.enqueueMessage(data); err != nil {
			logging.Warn("SSE", "Failed to deliver response: %v", err)
			http.Error(w, "Failed to deliver response", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// HandleMCP serves the streamable HTTP endpoint.
func (h *Handler) HandleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleMCPPost(w, r)
	case http.MethodGet:
		h.handleMCPStream(w, r)
	case http.MethodDelete:
		h.handleMCPDelete(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleMCPPost routes a message to an existing session, or creates one when
// the request carries no session identifier and is an initialize request.
// Every other combination is a hard no-session failure: an unknown
// identifier must never cause a fresh session to be minted around it.
func (h *Handler) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		writeNoSessionError(w)
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)

	switch {
	case sessionID != "":
		sess, ok := h.streamable.Get(sessionID)
		if !ok {
			logging.Warn("Streamable", "No transport found for session %s", logging.TruncateSessionID(sessionID))
			writeNoSessionError(w)
			return
		}
		h.dispatch(w, r, sess, body)

	case isInitializeRequest(body):
		sess := newStreamableSession(uuid.NewString())
		if err := h.mcpServer.RegisterSession(r.Context(), sess); err != nil {
			logging.Error("Streamable", err, "Failed to register session with MCP server")
			writeInternalError(w)
			return
		}
		h.streamable.Add(sess.SessionID(), sess)
		logging.Info("Streamable", "Session %s created", logging.TruncateSessionID(sess.SessionID()))

		// The identifier becomes visible to the caller only now that the
		// registry insert has completed.
		w.Header().Set(SessionIDHeader, sess.SessionID())
		h.dispatch(w, r, sess, body)

	default:
		logging.Warn("Streamable", "Request without session ID is not an initialize request")
		writeNoSessionError(w)
	}
}

// dispatch hands one JSON-RPC message to the MCP server on behalf of sess
// and writes the outcome.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, sess *StreamableSession, body []byte) {
	ctx := h.mcpServer.WithContext(r.Context(), sess)
	response := h.mcpServer.HandleMessage(ctx, body)
	if response == nil {
		// Notifications have no response body.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Headers are already out; only log.
		logging.Warn("Streamable", "Failed to write response for session %s: %v", logging.TruncateSessionID(sess.SessionID()), err)
	}
}

// handleMCPStream serves GET /mcp: a standalone event stream carrying
// server-initiated messages for an existing session.
func (h *Handler) handleMCPStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	sess, ok := h.streamable.Get(sessionID)
	if !ok {
		logging.Warn("Streamable", "No transport found for session %s", logging.TruncateSessionID(sessionID))
		writeNoSessionError(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(sessionIdleTimeout))

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Done():
			return
		case notif := <-sess.notifications:
			data, err := json.Marshal(notif)
			if err != nil {
				logging.Warn("Streamable", "Failed to marshal notification: %v", err)
				continue
			}
			if _, err := fmt.Fprint(w, formatSSEEvent("message", data)); err != nil {
				return
			}
			flusher.Flush()
			_ = rc.SetWriteDeadline(time.Now().Add(sessionIdleTimeout))
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			_ = rc.SetWriteDeadline(time.Now().Add(sessionIdleTimeout))
		}
	}
}

// handleMCPDelete serves DELETE /mcp: explicit session close.
func (h *Handler) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	sess, ok := h.streamable.Get(sessionID)
	if !ok {
		logging.Warn("Streamable", "No transport found for session %s", logging.TruncateSessionID(sessionID))
		writeNoSessionError(w)
		return
	}

	h.closeStreamable(sess)
	logging.Info("Streamable", "Session %s closed", logging.TruncateSessionID(sessionID))
	w.WriteHeader(http.StatusOK)
}

// closeStreamable tears a streamable session down. Idempotent: every step
// tolerates having already run.
func (h *Handler) closeStreamable(sess *StreamableSession) {
	sess.close()
	h.streamable.Remove(sess.SessionID())
	h.mcpServer.UnregisterSession(context.Background(), sess.SessionID())
}

// isInitializeRequest reports whether a raw JSON-RPC message is an
// initialize request.
func isInitializeRequest(body []byte) bool {
	return gjson.GetBytes(body, "method").String() == string(mcp.MethodInitialize)
}

func writeNoSessionError(w http.ResponseWriter) {
	writeJSONRPCError(w, http.StatusBadRequest, "No transport found for sessionId")
}

func writeInternalError(w http.ResponseWriter) {
	writeJSONRPCError(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSONRPCError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32000,"message":%q},"id":null}`, message)
}
