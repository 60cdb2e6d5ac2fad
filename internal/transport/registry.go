package transport

import "sync"

// Registry is a concurrency-safe mapping from session identifier to a live
// connection of one transport kind. Insert, lookup, and removal share a
// single lock, so a lookup never observes a half-inserted or just-removed
// entry.
//
// The registry owns nothing but the binding; connection lifecycle is driven
// by the HTTP handlers, which remove entries on teardown. Removal is
// unconditional and idempotent: removing an absent identifier is a no-op,
// which makes double-close safe.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
	}
}

// Add binds a session identifier to a connection.
func (r *Registry[T]) Add(sessionID string, conn T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sessionID] = conn
}

// Get returns the connection bound to sessionID, if any.
func (r *Registry[T]) Get(sessionID string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.entries[sessionID]
	return conn, ok
}

// Remove unbinds a session identifier. It reports whether an entry was
// present; removing an absent entry is not an error.
func (r *Registry[T]) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	return ok
}

// Len returns the number of live bindings.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// All returns a snapshot of the current connections.
func (r *Registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]T, 0, len(r.entries))
	for _, conn := range r.entries {
		conns = append(conns, conn)
	}
	return conns
}
