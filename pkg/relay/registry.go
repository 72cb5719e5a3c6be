package relay

import (
	"errors"
	"sync"

	"github.com/ushalabs/beamcast/pkg/logger"
)

// ErrSessionHasHost is returned on an attempt to register a second
// host-role connection into the same session.
var ErrSessionHasHost = errors.New("session already has a host")

// Registry owns the mapping from session ids to their live connections.
// It is the single synchronization point for session membership:
// one mutex guards every session since operations are O(session size)
// and contention is low.
type Registry struct {
	mu       sync.Mutex
	sessions map[string][]*Connection
	log      *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{sessions: make(map[string][]*Connection, 10), log: log}
}

// Register adds a connection to its session's member set.
// The session is created implicitly on the first registration.
func (r *Registry) Register(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.sessions[c.SessionId()]
	if c.IsHost() {
		for _, m := range members {
			if m.IsHost() {
				return ErrSessionHasHost
			}
		}
	}
	r.sessions[c.SessionId()] = append(members, c)
	return nil
}

// Unregister removes a connection from its session; the session entry
// is deleted when its member set becomes empty. Idempotent.
func (r *Registry) Unregister(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.sessions[c.SessionId()]
	for i, m := range members {
		if m == c {
			members = append(members[:i], members[i+1:]...)
			if len(members) == 0 {
				delete(r.sessions, c.SessionId())
				r.log.Debug().Str("sid", c.SessionId()).Msg("session has been dropped")
			} else {
				r.sessions[c.SessionId()] = members
			}
			return
		}
	}
}

// Members returns a point-in-time copy of a session's member set,
// in join order, so that senders can iterate without holding the lock.
func (r *Registry) Members(sid string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.sessions[sid]
	if len(members) == 0 {
		return nil
	}
	snapshot := make([]*Connection, len(members))
	copy(snapshot, members)
	return snapshot
}

// Host returns the session's host connection or nil.
func (r *Registry) Host(sid string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.sessions[sid] {
		if m.IsHost() {
			return m
		}
	}
	return nil
}

// Viewers returns a snapshot of the session's viewer connections.
func (r *Registry) Viewers(sid string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	var viewers []*Connection
	for _, m := range r.sessions[sid] {
		if !m.IsHost() {
			viewers = append(viewers, m)
		}
	}
	return viewers
}

// Viewer resolves a viewer connection by its externally visible id.
func (r *Registry) Viewer(sid string, tag string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.sessions[sid] {
		if !m.IsHost() && m.Tag() == tag {
			return m
		}
	}
	return nil
}

// All returns a snapshot of every registered connection.
func (r *Registry) All() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*Connection
	for _, members := range r.sessions {
		all = append(all, members...)
	}
	return all
}

// HasSession reports whether the session has at least one member.
func (r *Registry) HasSession(sid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[sid]) > 0
}

// Sessions returns the number of active sessions.
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Connections returns the total number of registered connections.
func (r *Registry) Connections() (n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, members := range r.sessions {
		n += len(members)
	}
	return
}
