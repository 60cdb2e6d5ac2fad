package transport

import (
	"fmt"
)

// eventBufferSize bounds how many outbound SSE frames a session queues while
// the stream writer catches up.
const eventBufferSize = 100

// SSESession is a live SSE-kind connection: a server-to-client event stream
// fed by a companion message endpoint. Responses to posted messages travel
// back over the stream, never over the POST that carried them.
type SSESession struct {
	*session

	// events holds pre-formatted SSE frames awaiting the stream writer.
	events chan string
}

func newSSESession(id string) *SSESession {
	return &SSESession{
		session: newSession(id),
		events:  make(chan string, eventBufferSize),
	}
}

// enqueueMessage queues a JSON-RPC message for delivery over the event
// stream. It fails when the session is closed or the stream writer has
// fallen too far behind.
func (s *SSESession) enqueueMessage(data []byte) error {
	frame := formatSSEEvent("message", data)
	select {
	case <-s.done:
		return fmt.Errorf("session %s is closed", s.id)
	case s.events <- frame:
		return nil
	default:
		return fmt.Errorf("session %s event queue is full", s.id)
	}
}

// formatSSEEvent renders one server-sent event frame. Data is expected to be
// a single line (compact JSON); multi-line payloads would need per-line data
// fields.
func formatSSEEvent(event string, data []byte) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
