package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks live WebSocket connections and their identity bindings.
// A connection starts unidentified; a successful identity handshake binds it
// to a user. Purely process-local, no transport dependency.
type Registry struct {
	mu sync.RWMutex

	// connID -> bound user, present only after identification
	users map[string]uuid.UUID
	// connID -> call the connection participates in, if any
	calls map[string]uuid.UUID
	// userID -> set of connIDs
	conns map[uuid.UUID]map[string]struct{}
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		users: make(map[string]uuid.UUID),
		calls: make(map[string]uuid.UUID),
		conns: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Bind associates a connection with a user after identification.
// Rebinding an already-bound connection moves it to the new user.
func (r *Registry) Bind(connID string, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.users[connID]; ok {
		r.removeConnLocked(prev, connID)
	}

	r.users[connID] = userID
	if r.conns[userID] == nil {
		r.conns[userID] = make(map[string]struct{})
	}
	r.conns[userID][connID] = struct{}{}
}

// Unbind removes a connection and all its bindings. No-op for unknown ids.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID, ok := r.users[connID]; ok {
		r.removeConnLocked(userID, connID)
	}
	delete(r.users, connID)
	delete(r.calls, connID)
}

func (r *Registry) removeConnLocked(userID uuid.UUID, connID string) {
	if set, ok := r.conns[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.conns, userID)
		}
	}
}

// UserOf returns the user bound to a connection
func (r *Registry) UserOf(connID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.users[connID]
	return userID, ok
}

// ConnectionsFor returns all live connection ids for a user
func (r *Registry) ConnectionsFor(userID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.conns[userID]
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(set))
	for connID := range set {
		ids = append(ids, connID)
	}
	return ids
}

// HasConnections reports whether the user has any live connection
func (r *Registry) HasConnections(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// SetCall binds a connection to a call. Only identified connections
// may carry a call binding.
func (r *Registry) SetCall(connID string, callID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[connID]; !ok {
		return
	}
	r.calls[connID] = callID
}

// ClearCall drops a connection's call binding
func (r *Registry) ClearCall(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, connID)
}

// CallOf returns the call a connection is bound to
func (r *Registry) CallOf(connID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	callID, ok := r.calls[connID]
	return callID, ok
}
