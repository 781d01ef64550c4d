package websocket

import (
	"log"

	"github.com/scythe504/horde-backend/internal"
)

// Client to server action names.
const (
	ActionJoin          = "room:join"
	ActionLeave         = "room:leave"
	ActionReady         = "room:ready"
	ActionStart         = "room:start"
	ActionFinish        = "room:finish"
	ActionUpdateMap     = "room:updateMap"
	ActionUpdateOptions = "room:updateOptions"
	ActionMove          = "playerMove"
	ActionWaveStart     = "wave:start"
	ActionWaveProgress  = "wave:progress"
	ActionPlayerStats   = "player:stats"
	ActionPause         = "session:pause"
	ActionResume        = "session:resume"
	ActionResync        = "client:resync"
)

type RoomAction struct {
	RoomID string `json:"roomId"`
}

type JoinAction struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

type ReadyAction struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId,omitempty"`
	Ready    *bool  `json:"ready,omitempty"`
}

type UpdateMapAction struct {
	RoomID string `json:"roomId"`
	MapID  string `json:"mapId"`
}

type UpdateOptionsAction struct {
	RoomID      string                    `json:"roomId"`
	GameOptions internal.GameOptionsPatch `json:"gameOptions"`
}

type MoveAction struct {
	RoomID    string             `json:"roomId,omitempty"`
	Direction internal.Direction `json:"direction"`
}

type WaveStartAction struct {
	RoomID string `json:"roomId,omitempty"`
	Wave   int    `json:"wave"`
}

type WaveProgressAction struct {
	RoomID string `json:"roomId,omitempty"`
	internal.WaveProgress
}

type PlayerStatsAction struct {
	RoomID   string `json:"roomId,omitempty"`
	PlayerID string `json:"playerId"`
	Kills    int    `json:"kills,omitempty"`
	Deaths   int    `json:"deaths,omitempty"`
	Score    int    `json:"score,omitempty"`
}

type handler func(h *Hub, c *Client, payload []byte) error

// bind decodes the payload into A before calling fn, so every handler sees
// a typed action.
func bind[A any](fn func(h *Hub, c *Client, a A) error) handler {
	return func(h *Hub, c *Client, payload []byte) error {
		var a A
		if err := c.codec.DecodePayload(payload, &a); err != nil {
			return internal.NewValidationError("invalid payload: %v", err)
		}
		return fn(h, c, a)
	}
}

var handlers map[string]handler

func init() {
	handlers = map[string]handler{
		ActionJoin:          bind(handleJoin),
		ActionLeave:         bind(handleLeave),
		ActionReady:         bind(handleReady),
		ActionStart:         bind(handleStart),
		ActionFinish:        bind(handleFinish),
		ActionUpdateMap:     bind(handleUpdateMap),
		ActionUpdateOptions: bind(handleUpdateOptions),
		ActionMove:          bind(handleMove),
		ActionWaveStart:     bind(handleWaveStart),
		ActionWaveProgress:  bind(handleWaveProgress),
		ActionPlayerStats:   bind(handlePlayerStats),
		ActionPause:         bind(handlePause(true)),
		ActionResume:        bind(handlePause(false)),
		ActionResync:        bind(handleResync),
	}
}

// roomFor prefers the room named in the action and falls back to the
// connection's subscription.
func roomFor(c *Client, named string) (string, error) {
	if named != "" {
		return named, nil
	}
	if id := c.Room(); id != "" {
		return id, nil
	}
	return "", internal.NewValidationError("roomId is required")
}

func handleJoin(h *Hub, c *Client, a JoinAction) error {
	if a.RoomID == "" {
		return internal.NewValidationError("roomId is required")
	}
	room, err := h.lobby.Join(a.RoomID, c.User, a.Password)
	if err != nil {
		return err
	}
	h.presence.Lock()
	h.subscribe(c, room.ID)
	h.cancelGrace(room.ID, c.User.ID)
	if err := h.lobby.MarkPresence(room.ID, c.User.ID, true); err != nil {
		log.Printf("[Hub.join] Room %s: presence for %s: %v", room.ID, c.User.ID, err)
	}
	h.presence.Unlock()
	return h.pushState(c, room.ID)
}

func handleLeave(h *Hub, c *Client, a RoomAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	h.cancelGrace(roomID, c.User.ID)
	_, err = h.lobby.Leave(roomID, c.User.ID)
	h.unsubscribeUser(roomID, c.User.ID)
	return err
}

func handleReady(h *Hub, c *Client, a ReadyAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	if a.PlayerID != "" && a.PlayerID != c.User.ID {
		return internal.NewPermissionError("cannot change readiness of another player")
	}
	_, err = h.lobby.SetReady(roomID, c.User.ID, a.Ready)
	return err
}

func handleStart(h *Hub, c *Client, a RoomAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	_, err = h.lobby.Start(roomID, c.User.ID)
	return err
}

func handleFinish(h *Hub, c *Client, a RoomAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	_, err = h.lobby.Finish(roomID, c.User.ID)
	return err
}

func handleUpdateMap(h *Hub, c *Client, a UpdateMapAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	if a.MapID == "" {
		return internal.NewValidationError("mapId is required")
	}
	_, err = h.lobby.UpdateMap(roomID, c.User.ID, a.MapID)
	return err
}

func handleUpdateOptions(h *Hub, c *Client, a UpdateOptionsAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	_, err = h.lobby.UpdateOptions(roomID, c.User.ID, a.GameOptions)
	return err
}

func handleMove(h *Hub, c *Client, a MoveAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	if !a.Direction.IsFinite() {
		return internal.NewValidationError("direction must be finite")
	}
	return h.lobby.MovePlayer(roomID, c.User.ID, a.Direction)
}

func handleWaveStart(h *Hub, c *Client, a WaveStartAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	return h.lobby.StartWave(roomID, c.User.ID, a.Wave)
}

func handleWaveProgress(h *Hub, c *Client, a WaveProgressAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	return h.lobby.ReportWaveProgress(roomID, c.User.ID, a.WaveProgress)
}

func handlePlayerStats(h *Hub, c *Client, a PlayerStatsAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	if a.PlayerID == "" {
		return internal.NewValidationError("playerId is required")
	}
	return h.lobby.RecordStats(roomID, c.User.ID, a.PlayerID, internal.StatDeltas{
		Kills:  a.Kills,
		Deaths: a.Deaths,
		Score:  a.Score,
	})
}

func handlePause(paused bool) func(h *Hub, c *Client, a RoomAction) error {
	return func(h *Hub, c *Client, a RoomAction) error {
		roomID, err := roomFor(c, a.RoomID)
		if err != nil {
			return err
		}
		return h.lobby.SetPaused(roomID, c.User.ID, paused)
	}
}

func handleResync(h *Hub, c *Client, a RoomAction) error {
	roomID, err := roomFor(c, a.RoomID)
	if err != nil {
		return err
	}
	return h.pushState(c, roomID)
}
