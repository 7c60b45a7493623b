package gateway

import (
	"sync"

	"github.com/aelexs/connection-gateway/internal/domain"
)

// Registry maps connection IDs to live connections. Inserts and removals
// take the write lock; Snapshot copies under the read lock so callers can
// iterate without holding it.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnectionID]*Connection
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnectionID]*Connection)}
}

// Insert adds c. It reports false if the ID is already present.
func (r *Registry) Insert(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[c.id]; exists {
		return false
	}
	r.conns[c.id] = c
	return true
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[id]; !exists {
		return false
	}
	delete(r.conns, id)
	return true
}

// Get returns the connection for id.
func (r *Registry) Get(id domain.ConnectionID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns a point-in-time copy of all live connections.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
