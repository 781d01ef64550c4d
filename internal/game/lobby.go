// Package game owns the room lifecycle: membership, readiness, host
// authority, and the transitions that start and stop a session's driver.
package game

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/events"
	"github.com/scythe504/horde-backend/internal/maps"
	"github.com/scythe504/horde-backend/internal/registry"
	"github.com/scythe504/horde-backend/internal/sim"
	"github.com/scythe504/horde-backend/internal/utils"
)

// roomEntry serialises every operation on one room. Lock order is entry
// first, then the lobby index; the index lock is never held while waiting
// for an entry.
type roomEntry struct {
	mu        sync.Mutex
	room      *internal.Room
	driver    *sim.Driver
	timeLimit *Timer
	removed   bool
}

type Options struct {
	Catalog  *maps.Catalog
	Registry *registry.SessionRegistry
	Bus      events.Publisher
	Sim      sim.Config
	Clock    func() time.Time
	NewID    func() string
}

type Lobby struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry

	catalog  *maps.Catalog
	registry *registry.SessionRegistry
	bus      events.Publisher
	simCfg   sim.Config
	clock    func() time.Time
	newID    func() string
}

// LeaveResult is the room after a departure. Room is nil when the room was
// disbanded.
type LeaveResult struct {
	Room      *internal.Room `json:"room,omitempty"`
	Disbanded bool           `json:"disbanded"`
	NewHostID string         `json:"newHostId,omitempty"`
}

func NewLobby(opts Options) *Lobby {
	if opts.Catalog == nil {
		opts.Catalog = maps.NewCatalog()
	}
	if opts.Registry == nil {
		opts.Registry = registry.New()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = utils.GenerateID
	}
	if opts.Sim.Clock == nil {
		opts.Sim.Clock = opts.Clock
	}
	return &Lobby{
		rooms:    make(map[string]*roomEntry),
		catalog:  opts.Catalog,
		registry: opts.Registry,
		bus:      opts.Bus,
		simCfg:   opts.Sim,
		clock:    opts.Clock,
		newID:    opts.NewID,
	}
}

func (l *Lobby) Catalog() *maps.Catalog { return l.catalog }

func (l *Lobby) publish(eventType string, room *internal.Room, payload any) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(events.Event{Type: eventType, RoomID: room.ID, SessionID: room.SessionID, Payload: payload})
}

func (l *Lobby) publishState(e *roomEntry, player *internal.RoomPlayer) {
	snapshot := e.room.Clone()
	var p *internal.RoomPlayer
	if player != nil {
		cp := *player
		p = &cp
	}
	l.publish(internal.EventRoomState, snapshot, internal.RoomStateData{Room: snapshot, Player: p})
}

func (l *Lobby) touch(room *internal.Room) {
	room.UpdatedAt = l.clock()
}

// =============================================================================
// ROOM LIFECYCLE
// =============================================================================

// CreateRoom makes owner the sole player and host of a new waiting room
func (l *Lobby) CreateRoom(owner internal.User, req CreateRoomRequest) (*internal.Room, error) {
	if owner.ID == "" {
		return nil, internal.NewAuthError("user id is required")
	}

	opts, err := ApplyOptionsPatch(DefaultGameOptions(), req.GameOptions, 1)
	if err != nil {
		return nil, err
	}
	mapID := req.MapID
	if mapID == "" {
		mapID = internal.DefaultMapID
	}
	m, err := l.catalog.Get(mapID)
	if err != nil {
		return nil, err
	}
	applyMap(&opts, m)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("%s's room", utils.DisplayName(owner.Username))
	}

	var hash []byte
	if req.IsPrivate {
		if req.Password == "" {
			return nil, internal.NewValidationError("private rooms require a password")
		}
		if len(req.Password) > utils.MaxPasswordBytes {
			return nil, internal.NewValidationError("password must be at most %d bytes", utils.MaxPasswordBytes)
		}
		if hash, err = utils.HashPassword(req.Password); err != nil {
			return nil, internal.NewResourceError(err, "create room")
		}
	}

	now := l.clock()
	room := &internal.Room{
		ID:           l.newID(),
		Name:         name,
		Description:  req.Description,
		HostID:       owner.ID,
		IsPrivate:    req.IsPrivate,
		PasswordHash: hash,
		Players:      []internal.RoomPlayer{internal.NewRoomPlayer(owner.ID, utils.DisplayName(owner.Username), true, now)},
		GameOptions:  opts,
		Status:       internal.RoomWaiting,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	entry := &roomEntry{room: room}

	l.mu.Lock()
	l.rooms[room.ID] = entry
	total := len(l.rooms)
	l.mu.Unlock()

	log.Printf("[Lobby.CreateRoom] Created room %s (%q) host=%s map=%s private=%t. Total rooms: %d",
		room.ID, room.Name, owner.ID, opts.MapID, room.IsPrivate, total)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	l.publishState(entry, &room.Players[0])
	return room.Clone(), nil
}

// Join adds user to a waiting room. Joining a room the user is already in
// returns the room unchanged.
func (l *Lobby) Join(roomID string, user internal.User, password string) (*internal.Room, error) {
	if user.ID == "" {
		return nil, internal.NewAuthError("user id is required")
	}
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	room := e.room

	if room.HasPlayer(user.ID) {
		return room.Clone(), nil
	}
	if room.Status != internal.RoomWaiting {
		return nil, internal.NewConflictError("room %s is %s", roomID, room.Status)
	}
	if room.IsFull() {
		return nil, internal.NewConflictError("room %s is full (%d/%d)", roomID, len(room.Players), room.GameOptions.MaxPlayers)
	}
	if room.IsPrivate && !utils.CheckPassword(room.PasswordHash, password) {
		return nil, internal.NewAuthError("invalid password for room %s", roomID)
	}

	room.Players = append(room.Players, internal.NewRoomPlayer(user.ID, utils.DisplayName(user.Username), false, l.clock()))
	l.touch(room)

	log.Printf("[Lobby.Join] Added player %s to room %s. Total players: %d/%d",
		user.ID, roomID, room.GetPlayerCount(), room.GameOptions.MaxPlayers)
	l.publishState(e, &room.Players[len(room.Players)-1])
	return room.Clone(), nil
}

// Leave removes the player, migrating the host role if needed. The room is
// disbanded when its last player leaves.
func (l *Lobby) Leave(roomID, userID string) (*LeaveResult, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	room := e.room

	removed, newHost := room.RemovePlayer(userID)
	if !removed {
		return nil, internal.NewNotFoundError("player %s is not in room %s", userID, roomID)
	}
	l.touch(room)

	if e.driver != nil {
		if err := e.driver.RemovePlayer(userID); err != nil {
			log.Printf("[Lobby.Leave] Room %s: failed to remove body for %s: %v", roomID, userID, err)
		}
	}

	log.Printf("[Lobby.Leave] Removed player %s from room %s. Players remaining: %d",
		userID, roomID, len(room.Players))

	if len(room.Players) == 0 {
		l.disbandLocked(e, "last player left")
		return &LeaveResult{Disbanded: true}, nil
	}

	if newHost != "" {
		log.Printf("[Lobby.Leave] Room %s: host migrated to %s", roomID, newHost)
		l.publishState(e, room.GetPlayer(newHost))
	} else {
		l.publishState(e, nil)
	}
	return &LeaveResult{Room: room.Clone(), NewHostID: newHost}, nil
}

// SetReady updates the player's ready flag. A nil ready toggles it.
func (l *Lobby) SetReady(roomID, userID string, ready *bool) (*internal.Room, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	room := e.room

	player := room.GetPlayer(userID)
	if player == nil {
		return nil, internal.NewNotFoundError("player %s is not in room %s", userID, roomID)
	}
	if room.Status != internal.RoomWaiting {
		return nil, internal.NewStateError("room %s is %s, readiness is locked", roomID, room.Status)
	}

	if ready == nil {
		player.Ready = !player.Ready
	} else {
		player.Ready = *ready
	}
	l.touch(room)

	log.Printf("[Lobby.SetReady] Room %s: Player %s ready=%v, all ready=%v",
		roomID, userID, player.Ready, room.AreAllPlayersReady())
	l.publishState(e, player)
	return room.Clone(), nil
}

func (l *Lobby) CanStart(roomID, requesterID string) (bool, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	return e.room.CanStart(requesterID), nil
}

// Start builds the session for a ready room and starts its driver. Nothing
// is registered if the world cannot be initialised.
func (l *Lobby) Start(roomID, requesterID string) (*internal.Session, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	room := e.room

	if !room.CanStart(requesterID) {
		switch {
		case !room.IsHost(requesterID):
			return nil, internal.NewPermissionError("only the host can start room %s", roomID)
		case room.Status != internal.RoomWaiting:
			return nil, internal.NewPermissionError("room %s is %s", roomID, room.Status)
		default:
			return nil, internal.NewPermissionError("not all players in room %s are ready", roomID)
		}
	}

	m, err := l.catalog.Get(room.GameOptions.MapID)
	if err != nil {
		return nil, internal.NewResourceError(err, "load map for room %s", roomID)
	}

	now := l.clock()
	session := sim.NewSession(l.newID(), room.ID, m, room.GameOptions.GameMode, now)
	driver := sim.NewDriver(session, l.bus, l.simCfg)
	if err := driver.Init(m); err != nil {
		log.Printf("[Lobby.Start] Room %s: world init failed: %v", roomID, err)
		return nil, internal.NewResourceError(err, "start room %s", roomID)
	}
	if err := l.registry.Register(session); err != nil {
		driver.Stop()
		log.Printf("[Lobby.Start] Room %s: registration refused: %v", roomID, err)
		return nil, err
	}

	for _, p := range room.Players {
		if err := driver.AddPlayer(p.UserID, p.DisplayName, nil); err != nil {
			driver.Stop()
			l.registry.Unregister(session.ID)
			return nil, internal.NewResourceError(err, "add player %s to session %s", p.UserID, session.ID)
		}
	}
	if err := driver.Start(); err != nil {
		driver.Stop()
		l.registry.Unregister(session.ID)
		return nil, internal.NewResourceError(err, "start session %s", session.ID)
	}
	l.registry.UpdateStatus(session.ID, internal.SessionActive)

	room.Status = internal.RoomInProgress
	room.SessionID = session.ID
	room.StartedAt = &now
	l.touch(room)
	e.driver = driver

	if limit := room.GameOptions.TimeLimit; limit > 0 {
		sessionID := session.ID
		e.timeLimit = StartTimer(fmt.Sprintf("room %s time limit", roomID), time.Duration(limit)*time.Minute, func() {
			l.expireSession(roomID, sessionID)
		})
	}

	snapshot, err := driver.Snapshot()
	if err != nil {
		return nil, internal.NewResourceError(err, "snapshot session %s", session.ID)
	}

	log.Printf("[Lobby.Start] Room %s: session %s started on map %s with %d players",
		roomID, session.ID, m.ID, len(room.Players))

	roomSnap := room.Clone()
	l.publish(internal.EventRoomStarted, roomSnap, internal.RoomStartedData{Room: roomSnap, Session: snapshot})
	zombies, items, err := driver.Spawns()
	if err != nil {
		log.Printf("[Lobby.Start] Room %s: spawn points unavailable: %v", roomID, err)
	}
	l.publish(internal.EventGameInit, roomSnap, internal.GameInitData{
		Session:      snapshot,
		ZombieSpawns: zombies,
		ItemSpawns:   items,
	})
	return snapshot, nil
}

// UpdateMap switches the room's map. Non-host players must ready up again.
func (l *Lobby) UpdateMap(roomID, requesterID, mapID string) (*internal.Room, error) {
	e, err := l.lockWaitingAsHost(roomID, requesterID, "change the map")
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	room := e.room

	m, err := l.catalog.Get(mapID)
	if err != nil {
		return nil, err
	}
	applyMap(&room.GameOptions, m)
	room.ResetReadiness()
	l.touch(room)

	log.Printf("[Lobby.UpdateMap] Room %s: map set to %s", roomID, m.ID)
	l.publishState(e, nil)
	return room.Clone(), nil
}

// UpdateOptions applies a partial options update. Non-host players must
// ready up again.
func (l *Lobby) UpdateOptions(roomID, requesterID string, patch internal.GameOptionsPatch) (*internal.Room, error) {
	e, err := l.lockWaitingAsHost(roomID, requesterID, "change game options")
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	room := e.room

	next, err := ApplyOptionsPatch(room.GameOptions, patch, len(room.Players))
	if err != nil {
		return nil, err
	}
	room.GameOptions = next
	room.ResetReadiness()
	l.touch(room)

	log.Printf("[Lobby.UpdateOptions] Room %s: options %+v", roomID, next)
	l.publishState(e, nil)
	return room.Clone(), nil
}

func (l *Lobby) lockWaitingAsHost(roomID, requesterID, action string) (*roomEntry, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	if !e.room.IsHost(requesterID) {
		e.mu.Unlock()
		return nil, internal.NewPermissionError("only the host can %s", action)
	}
	if e.room.Status != internal.RoomWaiting {
		e.mu.Unlock()
		return nil, internal.NewStateError("room %s is %s", roomID, e.room.Status)
	}
	return e, nil
}
