// Package registry indexes live sessions by id and by map.
package registry

import (
	"sync"

	"github.com/scythe504/horde-backend/internal"
)

// Entry is the registry's view of a session: ids and status only.
type Entry struct {
	SessionID string
	RoomID    string
	MapID     string
	Status    internal.SessionStatus
}

type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]Entry
	byMap    map[string]string
}

func New() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]Entry),
		byMap:    make(map[string]string),
	}
}

// Register fails with a conflict if the map already has a live session.
func (r *SessionRegistry) Register(session *internal.Session) error {
	if session == nil || session.ID == "" {
		return internal.NewValidationError("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return internal.NewConflictError("session %s already registered", session.ID)
	}
	if other, ok := r.byMap[session.MapID]; ok {
		return internal.NewConflictError("map %s already has an active session (%s)", session.MapID, other)
	}

	r.sessions[session.ID] = Entry{
		SessionID: session.ID,
		RoomID:    session.RoomID,
		MapID:     session.MapID,
		Status:    session.Status,
	}
	if session.Status.Live() {
		r.byMap[session.MapID] = session.ID
	}
	return nil
}

func (r *SessionRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	if r.byMap[entry.MapID] == id {
		delete(r.byMap, entry.MapID)
	}
}

// UpdateStatus keeps the map index in sync with the session status. A
// finished session releases its map even before it is unregistered.
func (r *SessionRegistry) UpdateStatus(id string, status internal.SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[id]
	if !ok {
		return
	}
	entry.Status = status
	r.sessions[id] = entry
	if !status.Live() && r.byMap[entry.MapID] == id {
		delete(r.byMap, entry.MapID)
	}
}

func (r *SessionRegistry) FindActiveForMap(mapID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byMap[mapID]
	if !ok {
		return Entry{}, false
	}
	entry, ok := r.sessions[id]
	return entry, ok
}

func (r *SessionRegistry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.sessions[id]
	return entry, ok
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
