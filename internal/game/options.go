package game

import (
	"strings"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/maps"
)

// CreateRoomRequest is the body of a room creation call.
type CreateRoomRequest struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	IsPrivate   bool                      `json:"isPrivate"`
	Password    string                    `json:"password,omitempty"`
	MapID       string                    `json:"mapId,omitempty"`
	GameOptions internal.GameOptionsPatch `json:"gameOptions"`
}

func DefaultGameOptions() internal.GameOptions {
	return internal.GameOptions{
		MaxPlayers: internal.DefaultMaxPlayers,
		Difficulty: internal.DifficultyMedium,
		GameMode:   internal.ModeSurvival,
		MapID:      internal.DefaultMapID,
	}
}

// ApplyOptionsPatch validates patch against the current options and returns
// the merged result. playerCount bounds how small maxPlayers may become.
func ApplyOptionsPatch(base internal.GameOptions, patch internal.GameOptionsPatch, playerCount int) (internal.GameOptions, error) {
	next := base

	if patch.MaxPlayers != nil {
		n := *patch.MaxPlayers
		if n < 1 || n > internal.MaxPlayersLimit {
			return base, internal.NewValidationError("maxPlayers must be between 1 and %d, got %d", internal.MaxPlayersLimit, n)
		}
		if n < playerCount {
			return base, internal.NewValidationError("maxPlayers %d is below the current player count %d", n, playerCount)
		}
		next.MaxPlayers = n
	}

	if patch.Difficulty != nil {
		switch d := internal.Difficulty(strings.ToLower(string(*patch.Difficulty))); d {
		case internal.DifficultyEasy, internal.DifficultyMedium, internal.DifficultyHard:
			next.Difficulty = d
		default:
			return base, internal.NewValidationError("unknown difficulty %q", *patch.Difficulty)
		}
	}

	if patch.GameMode != nil {
		switch m := internal.GameMode(strings.ToLower(string(*patch.GameMode))); m {
		case internal.ModeSurvival, internal.ModeObjective, internal.ModePvP:
			next.GameMode = m
		default:
			return base, internal.NewValidationError("unknown game mode %q", *patch.GameMode)
		}
	}

	if patch.TimeLimit != nil {
		if *patch.TimeLimit < 0 {
			return base, internal.NewValidationError("timeLimit must not be negative")
		}
		next.TimeLimit = *patch.TimeLimit
	}

	if patch.FriendlyFire != nil {
		next.FriendlyFire = *patch.FriendlyFire
	}
	return next, nil
}

func applyMap(opts *internal.GameOptions, m *maps.Map) {
	opts.MapID = m.ID
	opts.MapName = m.Name
}
