package websocket

import (
	"sync"

	"liveclass/pkg/types"
)

// Registry tracks every open connection by client id and by room.
type Registry struct {
	mu          sync.RWMutex
	connections map[types.ClientID]*Connection
	rooms       map[string]map[types.ClientID]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[types.ClientID]*Connection),
		rooms:       make(map[string]map[types.ClientID]*Connection),
	}
}

// Register adds a connection. Client ids are relay-assigned, so a clash is a
// bug in the caller rather than a reconnect and is refused.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateClientID
	}
	r.connections[conn.ID()] = conn
	if r.rooms[conn.Room()] == nil {
		r.rooms[conn.Room()] = make(map[types.ClientID]*Connection)
	}
	r.rooms[conn.Room()][conn.ID()] = conn
	return nil
}

// Unregister removes conn if it is still the registered instance for its id.
// Idempotent.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, exists := r.connections[conn.ID()]; !exists || registered != conn {
		return
	}
	delete(r.connections, conn.ID())
	if members, exists := r.rooms[conn.Room()]; exists {
		delete(members, conn.ID())
		if len(members) == 0 {
			delete(r.rooms, conn.Room())
		}
	}
}

func (r *Registry) Get(id types.ClientID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[id]
	return conn, ok
}

// Exists reports whether id is held by an open connection.
func (r *Registry) Exists(id types.ClientID) bool {
	_, ok := r.Get(id)
	return ok
}

// RoomConnections returns the open connections for one room.
func (r *Registry) RoomConnections(room string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(r.rooms[room]))
	for _, conn := range r.rooms[room] {
		out = append(out, conn)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// GetStats returns counters for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_rooms":      len(r.rooms),
	}
}

// CloseAll closes every registered connection. Their read loops then run
// the usual disconnect path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
