package internal

type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// Server to client event names.
const (
	EventRoomState     = "room:state"
	EventRoomStarted   = "room:started"
	EventRoomFinished  = "room:finished"
	EventRoomError     = "room:error"
	EventRoomDisbanded = "room:disbanded"
	EventClientState   = "client:state"
	EventGameInit      = "game.init"
	EventSessionTick   = "session:tick"
	EventSessionWave   = "session:wave"
	EventSessionStats  = "session:stats"
	EventSessionStatus = "session:status"

	// Internal-only facts consumed by the persistence recorder.
	EventPlayerJoinedSession = "session.player_joined"
	EventPlayerLeftSession   = "session.player_left"
)

type RoomStateData struct {
	Room   *Room       `json:"room"`
	Player *RoomPlayer `json:"player,omitempty"`
}

type RoomStartedData struct {
	Room    *Room    `json:"room"`
	Session *Session `json:"session"`
}

type RoomFinishedData struct {
	Room    *Room         `json:"room"`
	Session *Session      `json:"session"`
	Results *FinalResults `json:"results,omitempty"`
}

type ErrorData struct {
	Message string    `json:"message"`
	Code    ErrorKind `json:"code,omitempty"`
}

type DisbandedData struct {
	RoomID string `json:"roomId"`
}

type ClientStateData struct {
	Room    *Room    `json:"room,omitempty"`
	Session *Session `json:"session,omitempty"`
}

// GameInitData hands the spawn collaborator the map's non-player spawn points.
type GameInitData struct {
	Session      *Session     `json:"session"`
	ZombieSpawns []SpawnPoint `json:"zombieSpawns"`
	ItemSpawns   []SpawnPoint `json:"itemSpawns"`
}

type BodyState struct {
	UserID   string `json:"userId"`
	Position Vec3   `json:"position"`
	Velocity Vec3   `json:"velocity"`
}

type TickData struct {
	SessionID string      `json:"sessionId"`
	Tick      uint64      `json:"tick"`
	Players   []BodyState `json:"players"`
}

type WaveData struct {
	SessionID   string `json:"sessionId"`
	CurrentWave int    `json:"currentWave"`
	Wave        Wave   `json:"wave"`
	Started     bool   `json:"started,omitempty"`
}

type SessionPlayerData struct {
	SessionID string        `json:"sessionId"`
	Player    SessionPlayer `json:"player"`
	Deltas    *StatDeltas   `json:"deltas,omitempty"`
}

type SessionStatusData struct {
	SessionID string        `json:"sessionId"`
	Status    SessionStatus `json:"status"`
}
