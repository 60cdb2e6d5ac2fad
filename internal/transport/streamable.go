package transport

import "time"

// StreamableSession is a live streamable-HTTP-kind connection. The session
// outlives any individual HTTP request: POSTs carry requests and responses,
// an optional GET opens a standalone event stream for server-initiated
// messages, and DELETE (or server shutdown) ends the session.
type StreamableSession struct {
	*session

	createdAt time.Time
}

func newStreamableSession(id string) *StreamableSession {
	return &StreamableSession{
		session:   newSession(id),
		createdAt: time.Now(),
	}
}

// CreatedAt returns when the session was initialized.
func (s *StreamableSession) CreatedAt() time.Time {
	return s.createdAt
}
