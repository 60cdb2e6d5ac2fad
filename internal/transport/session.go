package transport

import (
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
)

// notificationBufferSize bounds how many undelivered server notifications a
// session queues before new ones are dropped.
const notificationBufferSize = 100

// session is the state shared by both transport kinds. It implements
// mcp-go's server.ClientSession so the MCP server can address
// notifications to the owning connection.
type session struct {
	id            string
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string) *session {
	return &session{
		id:            id,
		notifications: make(chan mcp.JSONRPCNotification, notificationBufferSize),
		done:          make(chan struct{}),
	}
}

// SessionID returns the unguessable identifier of this conversation.
func (s *session) SessionID() string {
	return s.id
}

// NotificationChannel returns the channel the MCP server pushes
// notifications into.
func (s *session) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

// Initialize marks the session as initialized.
func (s *session) Initialize() {
	s.initialized.Store(true)
}

// Initialized reports whether the session finished the initialize handshake.
func (s *session) Initialized() bool {
	return s.initialized.Load()
}

// close marks the session dead. Safe to call any number of times.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed once the session has been torn down.
func (s *session) Done() <-chan struct{} {
	return s.done
}
