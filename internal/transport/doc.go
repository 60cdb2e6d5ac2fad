// Package transport multiplexes long-lived MCP sessions across HTTP
// requests.
//
// Two transport kinds are supported. The SSE kind pairs a server-initiated
// event stream (GET /sse) with an inbound message endpoint
// (POST /messages?sessionId=...). The streamable HTTP kind carries the whole
// conversation over /mcp, selecting the session with the Mcp-Session-Id
// header; a POST without the header and with an initialize request creates a
// new session.
//
// Each kind has its own registry mapping session identifiers to live
// connections. A request naming a session that is not registered fails hard
// with a no-session error; it never creates state as a side effect, so a
// guessed identifier cannot smuggle a conversation into existence. Teardown
// is idempotent and runs exactly once per session regardless of whether the
// close was client-initiated, server-initiated, or a network failure.
package transport
