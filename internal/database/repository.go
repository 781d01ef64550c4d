// Package database mirrors session facts into durable storage. Nothing on
// the simulation path reads from it; the Recorder applies writes off the bus.
package database

import (
	"context"
	"time"

	"github.com/scythe504/horde-backend/internal"
)

type Repository interface {
	// CreateSession stores a full session snapshot, players and waves
	// included. Creating an existing id replaces it.
	CreateSession(ctx context.Context, session *internal.Session) error
	GetSession(ctx context.Context, sessionID string) (*internal.Session, error)
	// FindActiveSessionForMap returns a NotFound error when no waiting or
	// active session holds the map.
	FindActiveSessionForMap(ctx context.Context, mapID string) (*internal.Session, error)

	// AddPlayerToSession inserts the player, or reactivates it on rejoin.
	AddPlayerToSession(ctx context.Context, sessionID string, player internal.SessionPlayer) error
	RemovePlayerFromSession(ctx context.Context, sessionID, userID string, at time.Time) error
	// UpdatePlayerStats stores the player's absolute counters.
	UpdatePlayerStats(ctx context.Context, sessionID string, player internal.SessionPlayer) error

	// UpdateSessionStatus stamps the end time when status is finished.
	UpdateSessionStatus(ctx context.Context, sessionID string, status internal.SessionStatus, at time.Time) error
	StartNewWave(ctx context.Context, sessionID string, wave internal.Wave) error
	// UpdateWaveProgress stores the wave's absolute counters and refreshes
	// the session kill total.
	UpdateWaveProgress(ctx context.Context, sessionID string, wave internal.Wave) error

	// MarkStaleSessions finishes every live session left behind by a
	// previous process and reports how many were closed.
	MarkStaleSessions(ctx context.Context, at time.Time) (int, error)

	Close()
}
