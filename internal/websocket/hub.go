// Package websocket is the real-time edge: it maps connections to room
// subscriptions, routes inbound actions to the lobby, and fans lobby and
// session events back out.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/events"
	"github.com/scythe504/horde-backend/internal/game"
	"github.com/scythe504/horde-backend/internal/utils"
)

const DefaultGracePeriod = 15 * time.Second

type Config struct {
	GracePeriod   time.Duration
	SendBuffer    int
	AllowedOrigin string
}

type graceKey struct {
	roomID string
	userID string
}

type Hub struct {
	lobby    *game.Lobby
	cfg      Config
	upgrader websocket.Upgrader

	// presence orders connect, disconnect and grace expiry so a reconnect
	// can never be undone by a stale disconnect. Taken before mu.
	presence sync.Mutex

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	grace   map[graceKey]*game.Timer
}

func NewHub(lobby *game.Lobby, cfg Config) *Hub {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	h := &Hub{
		lobby:   lobby,
		cfg:     cfg,
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		grace:   make(map[graceKey]*game.Timer),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.cfg.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == h.cfg.AllowedOrigin
}

// =============================================================================
// WEBSOCKET CONNECTION HANDLING
// =============================================================================

// ServeWS upgrades the request and runs the connection until it closes.
// Query: userId (required), username, roomId, encoding=json|msgpack.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user := internal.User{ID: q.Get("userId"), Username: utils.DisplayName(q.Get("username"))}
	if user.ID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	codec, err := CodecFor(q.Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Hub.ServeWS] Upgrade failed for user %s: %v", user.ID, err)
		return
	}

	client := newClient(h, conn, utils.GenerateID(), user, codec, h.cfg.SendBuffer)
	go client.writePump()

	h.OnConnect(client, q.Get("roomId"))
	client.readPump()
	h.OnDisconnect(client)
}

// OnConnect registers the client and, when it names an existing room,
// pushes a full snapshot. Members are subscribed and any pending grace timer
// is cancelled.
func (h *Hub) OnConnect(c *Client, roomID string) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[Hub.OnConnect] Client %s connected (user=%s encoding=%s room=%q). Total clients: %d",
		c.ID, c.User.ID, c.codec.Name(), roomID, total)

	if roomID == "" {
		return
	}
	room, err := h.lobby.Get(roomID)
	if err != nil {
		c.sendError(err)
		return
	}
	if room.HasPlayer(c.User.ID) {
		h.presence.Lock()
		h.subscribe(c, roomID)
		if h.cancelGrace(roomID, c.User.ID) {
			log.Printf("[Hub.OnConnect] User %s rejoined room %s within grace period", c.User.ID, roomID)
		}
		if err := h.lobby.MarkPresence(roomID, c.User.ID, true); err != nil {
			log.Printf("[Hub.OnConnect] Room %s: presence for %s: %v", roomID, c.User.ID, err)
		}
		h.presence.Unlock()
	}
	if err := h.pushState(c, roomID); err != nil {
		c.sendError(err)
	}
}

// OnDisconnect drops the client. If it was the user's last connection to
// its room, the player is marked inactive and removed after the grace
// period unless they reconnect.
func (h *Hub) OnDisconnect(c *Client) {
	c.close()

	h.presence.Lock()
	defer h.presence.Unlock()

	roomID := c.Room()
	h.mu.Lock()
	delete(h.clients, c)
	if roomID != "" {
		h.removeFromRoomLocked(roomID, c)
	}
	h.mu.Unlock()

	log.Printf("[Hub.OnDisconnect] Client %s disconnected (user=%s room=%q)", c.ID, c.User.ID, roomID)
	if roomID == "" || !h.armGrace(roomID, c.User.ID) {
		return
	}
	if err := h.lobby.MarkPresence(roomID, c.User.ID, false); err != nil {
		log.Printf("[Hub.OnDisconnect] Room %s: presence for %s: %v", roomID, c.User.ID, err)
	}
}

// armGrace starts the removal countdown for userID. It reports false, and
// arms nothing, while the user still has a connection subscribed to the room.
// Callers hold h.presence.
func (h *Hub) armGrace(roomID, userID string) bool {
	key := graceKey{roomID: roomID, userID: userID}
	label := fmt.Sprintf("grace %s/%s", roomID, userID)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.userInRoomLocked(roomID, userID) {
		return false
	}
	if old, ok := h.grace[key]; ok {
		old.Cancel()
	}
	var timer *game.Timer
	timer = game.StartTimer(label, h.cfg.GracePeriod, func() {
		h.presence.Lock()
		defer h.presence.Unlock()

		h.mu.Lock()
		current, ok := h.grace[key]
		if !ok || current != timer {
			h.mu.Unlock()
			return
		}
		delete(h.grace, key)
		connected := h.userInRoomLocked(roomID, userID)
		h.mu.Unlock()
		if connected {
			return
		}

		if _, err := h.lobby.Leave(roomID, userID); err != nil && !errors.Is(err, internal.ErrNotFound) {
			log.Printf("[Hub.grace] Room %s: leave for %s failed: %v", roomID, userID, err)
			return
		}
		log.Printf("[Hub.grace] Room %s: %s did not reconnect, removed", roomID, userID)
	})
	h.grace[key] = timer
	return true
}

// cancelGrace reports whether a pending timer was stopped.
func (h *Hub) cancelGrace(roomID, userID string) bool {
	key := graceKey{roomID: roomID, userID: userID}
	h.mu.Lock()
	defer h.mu.Unlock()
	timer, ok := h.grace[key]
	if !ok {
		return false
	}
	delete(h.grace, key)
	return timer.Cancel()
}

// PendingGrace reports whether userID has a grace timer running in roomID.
func (h *Hub) PendingGrace(roomID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.grace[graceKey{roomID: roomID, userID: userID}]
	return ok
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (h *Hub) subscribe(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev := c.Room(); prev != "" && prev != roomID {
		h.removeFromRoomLocked(prev, c)
	}
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*Client]struct{})
		h.rooms[roomID] = subs
	}
	subs[c] = struct{}{}
	c.setRoom(roomID)
}

func (h *Hub) removeFromRoomLocked(roomID string, c *Client) {
	subs, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
}

func (h *Hub) userInRoomLocked(roomID, userID string) bool {
	for c := range h.rooms[roomID] {
		if c.User.ID == userID {
			return true
		}
	}
	return false
}

// unsubscribeUser detaches every connection of userID from roomID.
func (h *Hub) unsubscribeUser(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		if c.User.ID == userID {
			h.removeFromRoomLocked(roomID, c)
			c.setRoom("")
		}
	}
}

func (h *Hub) clearRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		c.setRoom("")
	}
	delete(h.rooms, roomID)
	for key, timer := range h.grace {
		if key.roomID == roomID {
			timer.Cancel()
			delete(h.grace, key)
		}
	}
}

// Subscribers counts connections subscribed to roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// =============================================================================
// DISPATCH & BROADCAST
// =============================================================================

// Dispatch decodes one inbound frame and routes it. Every failure goes back
// to the sender only.
func (h *Hub) Dispatch(c *Client, raw []byte) {
	msgType, payload, err := c.codec.DecodeEnvelope(raw)
	if err != nil {
		c.sendError(err)
		return
	}
	handle, ok := handlers[msgType]
	if !ok {
		c.sendError(internal.NewProtocolError("unknown action %q", msgType))
		return
	}
	if err := handle(h, c, payload); err != nil {
		if msgType != ActionMove {
			log.Printf("[Hub.Dispatch] %s from user %s failed: %v", msgType, c.User.ID, err)
		}
		c.sendError(err)
	}
}

// pushState sends the full room and session snapshot to one client.
func (h *Hub) pushState(c *Client, roomID string) error {
	room, err := h.lobby.Get(roomID)
	if err != nil {
		return err
	}
	state := internal.ClientStateData{Room: room}
	if room.Status == internal.RoomInProgress {
		if session, err := h.lobby.SessionSnapshot(roomID); err == nil {
			state.Session = session
		}
	}
	c.Send(internal.EventClientState, state)
	return nil
}

// Broadcast sends to every client subscribed to roomID. Each payload is
// encoded once per codec.
func (h *Hub) Broadcast(roomID, msgType string, payload any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.fanOut(targets, msgType, payload)
}

func (h *Hub) broadcastAll(msgType string, payload any) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.fanOut(targets, msgType, payload)
}

func (h *Hub) fanOut(targets []*Client, msgType string, payload any) {
	frames := make(map[string]frame, 2)
	for _, c := range targets {
		f, ok := frames[c.codec.Name()]
		if !ok {
			data, err := c.codec.Encode(msgType, payload)
			if err != nil {
				log.Printf("[Hub.fanOut] %s via %s: %v", msgType, c.codec.Name(), err)
				frames[c.codec.Name()] = frame{}
				continue
			}
			f = frame{kind: c.codec.FrameType(), data: data}
			frames[c.codec.Name()] = f
		}
		if f.data == nil {
			continue
		}
		c.enqueue(f)
	}
}

// Run forwards client-facing bus events until ctx ends or the subscription
// closes.
func (h *Hub) Run(ctx context.Context, sub *events.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.C:
			if !ok {
				return nil
			}
			h.route(e)
		}
	}
}

func (h *Hub) route(e events.Event) {
	switch e.Type {
	case internal.EventRoomState:
		h.Broadcast(e.RoomID, e.Type, e.Payload)
		if data, ok := e.Payload.(internal.RoomStateData); ok && data.Room != nil {
			h.pruneNonMembers(data.Room)
		}
	case internal.EventRoomStarted, internal.EventRoomFinished,
		internal.EventSessionTick, internal.EventSessionWave,
		internal.EventSessionStats, internal.EventSessionStatus:
		h.Broadcast(e.RoomID, e.Type, e.Payload)
	case internal.EventGameInit:
		h.broadcastAll(e.Type, e.Payload)
	case internal.EventRoomDisbanded:
		h.Broadcast(e.RoomID, e.Type, e.Payload)
		h.clearRoom(e.RoomID)
	}
}

// pruneNonMembers detaches connections whose user is no longer in the room.
func (h *Hub) pruneNonMembers(room *internal.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room.ID] {
		if !room.HasPlayer(c.User.ID) {
			h.removeFromRoomLocked(room.ID, c)
			c.setRoom("")
		}
	}
}

// Close cancels grace timers and closes every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, timer := range h.grace {
		timer.Cancel()
		delete(h.grace, key)
	}
	for c := range h.clients {
		c.close()
	}
	log.Printf("[Hub.Close] Closed %d connections", len(h.clients))
}
