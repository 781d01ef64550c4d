package internal

import (
	"time"
)

const (
	DefaultMaxPlayers = 4
	MaxPlayersLimit   = 16
	MinPlayersToStart = 1
	DefaultMapID      = "default"
)

type RoomStatus string

const (
	RoomWaiting    RoomStatus = "waiting"
	RoomInProgress RoomStatus = "in_progress"
	RoomFinished   RoomStatus = "finished"
	RoomCancelled  RoomStatus = "cancelled"
)

// Terminal reports whether the status can never transition again.
func (s RoomStatus) Terminal() bool {
	return s == RoomFinished || s == RoomCancelled
}

type SessionStatus string

const (
	SessionWaiting  SessionStatus = "waiting"
	SessionActive   SessionStatus = "active"
	SessionPaused   SessionStatus = "paused"
	SessionFinished SessionStatus = "finished"
)

// Live reports whether the session still holds its map.
func (s SessionStatus) Live() bool {
	return s == SessionWaiting || s == SessionActive || s == SessionPaused
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

type GameMode string

const (
	ModeSurvival  GameMode = "survival"
	ModeObjective GameMode = "objective"
	ModePvP       GameMode = "pvp"
)

type SpawnKind string

const (
	SpawnPlayer SpawnKind = "player"
	SpawnZombie SpawnKind = "zombie"
	SpawnItem   SpawnKind = "item"
)

type SpawnPoint struct {
	ID       string    `json:"id"`
	Position Vec3      `json:"position"`
	Rotation Vec3      `json:"rotation"`
	Kind     SpawnKind `json:"type"`
}

type GameOptions struct {
	MaxPlayers   int        `json:"maxPlayers"`
	Difficulty   Difficulty `json:"difficulty"`
	GameMode     GameMode   `json:"gameMode"`
	MapID        string     `json:"mapId"`
	MapName      string     `json:"mapName"`
	FriendlyFire bool       `json:"friendlyFire"`
	// TimeLimit is in minutes; zero means unlimited.
	TimeLimit int `json:"timeLimit,omitempty"`
}

// GameOptionsPatch carries a partial options update. Nil fields are left alone.
type GameOptionsPatch struct {
	MaxPlayers   *int        `json:"maxPlayers,omitempty"`
	Difficulty   *Difficulty `json:"difficulty,omitempty"`
	GameMode     *GameMode   `json:"gameMode,omitempty"`
	FriendlyFire *bool       `json:"friendlyFire,omitempty"`
	TimeLimit    *int        `json:"timeLimit,omitempty"`
}

type RoomPlayer struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"username"`
	Ready       bool      `json:"ready"`
	IsHost      bool      `json:"isHost"`
	JoinedAt    time.Time `json:"joinedAt"`
}

type Room struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	HostID       string       `json:"hostId"`
	IsPrivate    bool         `json:"isPrivate"`
	PasswordHash []byte       `json:"-"`
	Players      []RoomPlayer `json:"players"`
	GameOptions  GameOptions  `json:"gameOptions"`
	Status       RoomStatus   `json:"status"`
	SessionID    string       `json:"sessionId,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

type Wave struct {
	Number          int        `json:"wave"`
	ZombiesSpawned  int        `json:"zombiesSpawned"`
	ZombiesKilled   int        `json:"zombiesKilled"`
	SpawningStopped bool       `json:"spawningStopped"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	Completed       bool       `json:"completed"`
}

type SessionPlayer struct {
	UserID      string     `json:"userId"`
	DisplayName string     `json:"username"`
	Kills       int        `json:"kills"`
	Deaths      int        `json:"deaths"`
	Score       int        `json:"score"`
	JoinTime    time.Time  `json:"joinTime"`
	LeaveTime   *time.Time `json:"leaveTime,omitempty"`
	IsActive    bool       `json:"isActive"`
	Position    Vec3       `json:"position"`
}

type Session struct {
	ID                 string          `json:"id"`
	RoomID             string          `json:"roomId"`
	MapID              string          `json:"mapId"`
	MapName            string          `json:"mapName"`
	GameMode           GameMode        `json:"gameMode"`
	CurrentWave        int             `json:"currentWave"`
	Status             SessionStatus   `json:"status"`
	WaveHistory        []Wave          `json:"waveHistory"`
	Players            []SessionPlayer `json:"players"`
	TotalZombiesKilled int             `json:"totalZombiesKilled"`
	Tick               uint64          `json:"tick"`
	StartTime          time.Time       `json:"startTime"`
	EndTime            *time.Time      `json:"endTime,omitempty"`
}

// StatDeltas are increments applied to a session player's counters.
type StatDeltas struct {
	Kills  int `json:"kills,omitempty"`
	Deaths int `json:"deaths,omitempty"`
	Score  int `json:"score,omitempty"`
}

// WaveProgress is a partial counter update for one wave. Nil fields are untouched.
type WaveProgress struct {
	Wave            int   `json:"wave"`
	ZombiesSpawned  *int  `json:"zombiesSpawned,omitempty"`
	ZombiesKilled   *int  `json:"zombiesKilled,omitempty"`
	SpawningStopped *bool `json:"spawningStopped,omitempty"`
	Completed       *bool `json:"completed,omitempty"`
}

type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_time_start_ms"`
	RespEndTime   int64 `json:"resp_time_end_ms"`
	NetRespTime   int64 `json:"net_resp_time_ms"`
	Data          any   `json:"data"`
}

type PlayerResult struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"username"`
	Kills       int    `json:"kills"`
	Deaths      int    `json:"deaths"`
	Score       int    `json:"score"`
	Position    int    `json:"position"`
}

type FinalResults struct {
	Leaderboard  []PlayerResult `json:"leaderboard"`
	MVP          *PlayerResult  `json:"mvp,omitempty"`
	MostKills    *PlayerResult  `json:"mostKills,omitempty"`
	WavesCleared int            `json:"wavesCleared"`
	TotalPlayers int            `json:"totalPlayers"`
	DurationMs   int64          `json:"durationMs"`
}

// User is the identity claimed by a connection or request. Authentication is
// handled upstream.
type User struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
}
