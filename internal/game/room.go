package game

import (
	"log"
	"slices"
	"strings"

	"github.com/scythe504/horde-backend/internal"
)

// =============================================================================
// ROOM INDEX
// =============================================================================

func (l *Lobby) entry(roomID string) (*roomEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.rooms[roomID]
	return e, ok
}

// lockRoom returns the room's entry locked. Entries removed while the caller
// waited for the lock are reported as missing.
func (l *Lobby) lockRoom(roomID string) (*roomEntry, error) {
	e, ok := l.entry(roomID)
	if !ok {
		return nil, internal.NewNotFoundError("room %s not found", roomID)
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, internal.NewNotFoundError("room %s not found", roomID)
	}
	return e, nil
}

// snapshotEntries copies the index so callers can lock entries one at a time.
func (l *Lobby) snapshotEntries() []*roomEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*roomEntry, 0, len(l.rooms))
	for _, e := range l.rooms {
		out = append(out, e)
	}
	return out
}

// collect clones every room accepted by keep, oldest first.
func (l *Lobby) collect(keep func(*internal.Room) bool) []*internal.Room {
	out := make([]*internal.Room, 0)
	for _, e := range l.snapshotEntries() {
		e.mu.Lock()
		if !e.removed && keep(e.room) {
			out = append(out, e.room.Clone())
		}
		e.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b *internal.Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (l *Lobby) removeLocked(e *roomEntry) {
	e.removed = true
	l.mu.Lock()
	delete(l.rooms, e.room.ID)
	remaining := len(l.rooms)
	l.mu.Unlock()
	log.Printf("[Lobby.remove] Room %s removed from index. Rooms remaining: %d", e.room.ID, remaining)
}

func (l *Lobby) Get(roomID string) (*internal.Room, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.room.Clone(), nil
}

// List returns every room in the index.
func (l *Lobby) List() []*internal.Room {
	return l.collect(func(*internal.Room) bool { return true })
}

func joinable(r *internal.Room) bool {
	return r.Status == internal.RoomWaiting && !r.IsPrivate && !r.IsFull()
}

// ListAvailable returns public waiting rooms with space left.
func (l *Lobby) ListAvailable() []*internal.Room {
	return l.collect(joinable)
}

// FindJoinable returns the oldest room a new player could join
func (l *Lobby) FindJoinable() (*internal.Room, bool) {
	rooms := l.ListAvailable()
	if len(rooms) == 0 {
		log.Println("[Lobby.FindJoinable] No joinable room found")
		return nil, false
	}
	log.Printf("[Lobby.FindJoinable] Found joinable room %s with %d players", rooms[0].ID, len(rooms[0].Players))
	return rooms[0], true
}

func (l *Lobby) RoomsForUser(userID string) []*internal.Room {
	return l.collect(func(r *internal.Room) bool { return r.HasPlayer(userID) })
}

// RoomOf returns the waiting or running room the user belongs to.
func (l *Lobby) RoomOf(userID string) (*internal.Room, bool) {
	rooms := l.collect(func(r *internal.Room) bool {
		return !r.Status.Terminal() && r.HasPlayer(userID)
	})
	if len(rooms) == 0 {
		return nil, false
	}
	return rooms[len(rooms)-1], true
}

func (l *Lobby) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rooms)
}
