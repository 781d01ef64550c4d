package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/horde-backend/internal"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleSession(id, mapID string) *internal.Session {
	return &internal.Session{
		ID:          id,
		RoomID:      "room-" + id,
		MapID:       mapID,
		MapName:     "Test Map",
		GameMode:    internal.ModeSurvival,
		CurrentWave: 1,
		Status:      internal.SessionActive,
		WaveHistory: []internal.Wave{{Number: 1, StartTime: epoch}},
		Players:     []internal.SessionPlayer{internal.NewSessionPlayer("a", "Alice", epoch)},
		StartTime:   epoch,
	}
}

// exerciseRepository runs the same scenario against any implementation.
func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, repo.CreateSession(ctx, sampleSession("s1", "m1")))

	_, err := repo.GetSession(ctx, "missing")
	assert.True(t, errors.Is(err, internal.ErrNotFound))

	found, err := repo.FindActiveSessionForMap(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "s1", found.ID)
	_, err = repo.FindActiveSessionForMap(ctx, "m2")
	assert.True(t, errors.Is(err, internal.ErrNotFound))

	bob := internal.NewSessionPlayer("b", "Bob", epoch.Add(time.Second))
	require.NoError(t, repo.AddPlayerToSession(ctx, "s1", bob))
	require.NoError(t, repo.RemovePlayerFromSession(ctx, "s1", "b", epoch.Add(time.Minute)))
	require.NoError(t, repo.AddPlayerToSession(ctx, "s1", bob))

	alice := internal.NewSessionPlayer("a", "Alice", epoch)
	alice.Kills, alice.Score = 4, 40
	require.NoError(t, repo.UpdatePlayerStats(ctx, "s1", alice))

	end := epoch.Add(2 * time.Minute)
	require.NoError(t, repo.UpdateWaveProgress(ctx, "s1", internal.Wave{
		Number: 1, ZombiesSpawned: 10, ZombiesKilled: 10, SpawningStopped: true,
		Completed: true, StartTime: epoch, EndTime: &end,
	}))
	require.NoError(t, repo.StartNewWave(ctx, "s1", internal.Wave{Number: 2, StartTime: end}))
	require.NoError(t, repo.UpdateWaveProgress(ctx, "s1", internal.Wave{
		Number: 2, ZombiesSpawned: 3, ZombiesKilled: 1, StartTime: end,
	}))

	got, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got.Players, 2)
	assert.Equal(t, 4, got.GetPlayer("a").Kills)
	assert.Equal(t, 40, got.GetPlayer("a").Score)
	assert.True(t, got.GetPlayer("b").IsActive, "rejoin reactivates without a duplicate row")
	assert.Nil(t, got.GetPlayer("b").LeaveTime)
	require.Len(t, got.WaveHistory, 2)
	assert.Equal(t, 2, got.CurrentWave)
	assert.True(t, got.WaveHistory[0].Completed)
	assert.Equal(t, 11, got.TotalZombiesKilled)

	err = repo.UpdatePlayerStats(ctx, "s1", internal.SessionPlayer{UserID: "ghost"})
	assert.True(t, errors.Is(err, internal.ErrNotFound))

	require.NoError(t, repo.UpdateSessionStatus(ctx, "s1", internal.SessionFinished, epoch.Add(time.Hour)))
	got, err = repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, internal.SessionFinished, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(epoch.Add(time.Hour)))
	_, err = repo.FindActiveSessionForMap(ctx, "m1")
	assert.True(t, errors.Is(err, internal.ErrNotFound))

	require.NoError(t, repo.CreateSession(ctx, sampleSession("s2", "m1")))
	require.NoError(t, repo.CreateSession(ctx, sampleSession("s3", "m3")))
	n, err := repo.MarkStaleSessions(ctx, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = repo.FindActiveSessionForMap(ctx, "m3")
	assert.True(t, errors.Is(err, internal.ErrNotFound))
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemoryRepository())
}

func TestMemoryRepositoryIsolatesCallers(t *testing.T) {
	repo := NewMemoryRepository()
	s := sampleSession("s1", "m1")
	require.NoError(t, repo.CreateSession(context.Background(), s))

	s.Players[0].Kills = 99
	got, err := repo.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Players[0].Kills)
}
