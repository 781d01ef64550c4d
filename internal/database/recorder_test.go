package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/events"
	"github.com/scythe504/horde-backend/internal/game"
)

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func TestRecorderSkipsUnknownSessions(t *testing.T) {
	repo := NewMemoryRepository()
	rec := NewRecorder(repo, func() time.Time { return epoch })
	ctx := context.Background()

	err := rec.Apply(ctx, events.Event{
		Type:      internal.EventPlayerJoinedSession,
		SessionID: "s1",
		Payload:   internal.SessionPlayerData{SessionID: "s1", Player: internal.NewSessionPlayer("a", "Alice", epoch)},
	})
	require.NoError(t, err)
	_, err = repo.GetSession(ctx, "s1")
	assert.Error(t, err)

	require.NoError(t, rec.Apply(ctx, events.Event{
		Type:      internal.EventRoomStarted,
		SessionID: "s1",
		Payload:   internal.RoomStartedData{Session: sampleSession("s1", "m1")},
	}))
	require.NoError(t, rec.Apply(ctx, events.Event{
		Type:      internal.EventRoomState,
		SessionID: "s1",
		Payload:   internal.RoomStateData{},
	}))

	stats := internal.NewSessionPlayer("a", "Alice", epoch)
	stats.Kills = 3
	require.NoError(t, rec.Apply(ctx, events.Event{
		Type:      internal.EventSessionStats,
		SessionID: "s1",
		Payload:   internal.SessionPlayerData{SessionID: "s1", Player: stats},
	}))
	require.NoError(t, rec.Apply(ctx, events.Event{
		Type:      internal.EventSessionStatus,
		SessionID: "s1",
		Payload:   internal.SessionStatusData{SessionID: "s1", Status: internal.SessionPaused},
	}))

	got, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.GetPlayer("a").Kills)
	assert.Equal(t, internal.SessionPaused, got.Status)
}

func TestRecorderMirrorsLobbySession(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	repo := NewMemoryRepository()
	rec := NewRecorder(repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub := bus.Subscribe(events.DefaultBuffer)
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, sub) }()

	lobby := game.NewLobby(game.Options{Bus: bus})
	t.Cleanup(lobby.Shutdown)

	host := internal.User{ID: "host", Username: "Host"}
	room, err := lobby.CreateRoom(host, game.CreateRoomRequest{})
	require.NoError(t, err)
	session, err := lobby.Start(room.ID, host.ID)
	require.NoError(t, err)

	require.NoError(t, lobby.ReportWaveProgress(room.ID, host.ID, internal.WaveProgress{
		Wave:           1,
		ZombiesSpawned: intp(6),
		ZombiesKilled:  intp(6),
		Completed:      boolp(true),
	}))
	require.NoError(t, lobby.StartWave(room.ID, host.ID, 2))
	require.NoError(t, lobby.RecordStats(room.ID, host.ID, host.ID, internal.StatDeltas{Kills: 6, Score: 60}))
	_, err = lobby.Finish(room.ID, host.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := repo.GetSession(context.Background(), session.ID)
		return err == nil && got.Status == internal.SessionFinished
	}, 2*time.Second, 10*time.Millisecond)

	got, err := repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentWave)
	assert.Len(t, got.WaveHistory, 2)
	assert.Equal(t, 6, got.TotalZombiesKilled)
	require.NotNil(t, got.GetPlayer(host.ID))
	assert.Equal(t, 60, got.GetPlayer(host.ID).Score)
	assert.NotNil(t, got.EndTime)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
}
