package db

import (
	"database/sql"
	"sort"
	"sync"
)

// ConnectionRegistry maps connection identifiers to open target databases.
// It is constructed at startup, shared by the schema introspector and the
// live executor, and safe for concurrent use.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*sql.DB
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[string]*sql.DB)}
}

// Register adds or replaces the database for a connection id.
func (r *ConnectionRegistry) Register(connectionID string, conn *sql.DB) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connectionID] = conn
}

// Conn returns the database for a connection id.
func (r *ConnectionRegistry) Conn(connectionID string) (*sql.DB, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionID]
	return conn, ok
}

// IDs returns the sorted list of registered connection ids.
func (r *ConnectionRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every registered database. Used at shutdown.
func (r *ConnectionRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, conn := range r.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.conns, id)
	}
	return firstErr
}
