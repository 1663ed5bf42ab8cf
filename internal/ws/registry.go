package ws

import (
	"sync"

	"chat-sync/internal/observability"
)

// Registry tracks active websocket sessions per room.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]map[*Session]bool)}
}

// Add registers a session with its room.
func (r *Registry) Add(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[session.roomID]; !ok {
		r.rooms[session.roomID] = make(map[*Session]bool)
	}
	r.rooms[session.roomID][session] = true
	observability.IncWSActive()
}

// Remove unregisters a session.
func (r *Registry) Remove(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessions, ok := r.rooms[session.roomID]; ok {
		if sessions[session] {
			delete(sessions, session)
			observability.DecWSActive()
		}
		if len(sessions) == 0 {
			delete(r.rooms, session.roomID)
		}
	}
}

// Count returns the number of sessions attached to a room.
func (r *Registry) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// CloseAll shuts every session down, used on service shutdown. Sessions
// unregister themselves as their loops exit.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []*Session
	for _, sessions := range r.rooms {
		for session := range sessions {
			all = append(all, session)
		}
	}
	r.mu.RUnlock()

	for _, session := range all {
		session.shutdown()
	}
}
