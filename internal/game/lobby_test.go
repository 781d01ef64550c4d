package game

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/events"
	"github.com/scythe504/horde-backend/internal/maps"
)

type capture struct {
	mu   sync.Mutex
	evts []events.Event
}

func (c *capture) Publish(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evts = append(c.evts, e)
}

func (c *capture) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.evts {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (c *capture) last(eventType string) events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.evts) - 1; i >= 0; i-- {
		if c.evts[i].Type == eventType {
			return c.evts[i]
		}
	}
	return events.Event{}
}

func user(id string) internal.User {
	return internal.User{ID: id, Username: "User " + id}
}

func newTestLobby(t *testing.T) (*Lobby, *capture) {
	t.Helper()
	bus := &capture{}
	// A steady clock keeps join order distinct for host migration checks.
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bunker := *maps.DefaultMap()
	bunker.ID, bunker.Name = "bunker", "Bunker"
	l := NewLobby(Options{
		Bus:     bus,
		Catalog: maps.NewCatalog(&bunker),
		Clock: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Millisecond)
			return now
		},
	})
	t.Cleanup(l.Shutdown)
	return l, bus
}

// roomWith creates a room hosted by the first id and joins the rest.
func roomWith(t *testing.T, l *Lobby, ids ...string) *internal.Room {
	t.Helper()
	room, err := l.CreateRoom(user(ids[0]), CreateRoomRequest{
		GameOptions: internal.GameOptionsPatch{MaxPlayers: intp(internal.MaxPlayersLimit)},
	})
	require.NoError(t, err)
	for _, id := range ids[1:] {
		room, err = l.Join(room.ID, user(id), "")
		require.NoError(t, err)
	}
	return room
}

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func permutations(ids []string) [][]string {
	if len(ids) <= 1 {
		return [][]string{append([]string(nil), ids...)}
	}
	var out [][]string
	for i := range ids {
		rest := append(append([]string(nil), ids[:i]...), ids[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]string{ids[i]}, p...))
		}
	}
	return out
}

func TestCreateRoomDefaults(t *testing.T) {
	l, bus := newTestLobby(t)

	room, err := l.CreateRoom(internal.User{ID: "a", Username: "Alice"}, CreateRoomRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Alice's room", room.Name)
	assert.Equal(t, "a", room.HostID)
	assert.Equal(t, internal.RoomWaiting, room.Status)
	assert.Equal(t, internal.DefaultMaxPlayers, room.GameOptions.MaxPlayers)
	assert.Equal(t, internal.DefaultMapID, room.GameOptions.MapID)
	require.Len(t, room.Players, 1)
	assert.True(t, room.Players[0].IsHost)
	assert.Equal(t, 1, bus.count(internal.EventRoomState))

	_, err = l.CreateRoom(internal.User{}, CreateRoomRequest{})
	assert.True(t, errors.Is(err, internal.ErrAuth))

	_, err = l.CreateRoom(user("a"), CreateRoomRequest{MapID: "atlantis"})
	assert.True(t, errors.Is(err, internal.ErrNotFound))

	_, err = l.CreateRoom(user("a"), CreateRoomRequest{IsPrivate: true})
	assert.True(t, errors.Is(err, internal.ErrValidation))

	_, err = l.CreateRoom(user("a"), CreateRoomRequest{IsPrivate: true, Password: strings.Repeat("x", 73)})
	assert.True(t, errors.Is(err, internal.ErrValidation))

	room, err = l.CreateRoom(user("a"), CreateRoomRequest{MapID: "bunker"})
	require.NoError(t, err)
	assert.Equal(t, "Bunker", room.GameOptions.MapName)
}

func TestJoinRules(t *testing.T) {
	l, _ := newTestLobby(t)

	room, err := l.CreateRoom(user("a"), CreateRoomRequest{})
	require.NoError(t, err)
	ready := true

	// maxPlayers=4: A host, B ready, so A may start
	room, err = l.Join(room.ID, user("b"), "")
	require.NoError(t, err)
	_, err = l.SetReady(room.ID, "b", &ready)
	require.NoError(t, err)
	ok, err := l.CanStart(room.ID, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := l.Join(room.ID, user("b"), "")
	require.NoError(t, err)
	assert.Len(t, again.Players, 2, "joining twice is idempotent")

	for _, id := range []string{"c", "d"} {
		_, err = l.Join(room.ID, user(id), "")
		require.NoError(t, err)
	}
	_, err = l.Join(room.ID, user("e"), "")
	assert.True(t, errors.Is(err, internal.ErrConflict))

	_, err = l.Join("nope", user("e"), "")
	assert.True(t, errors.Is(err, internal.ErrNotFound))

	private, err := l.CreateRoom(user("p"), CreateRoomRequest{IsPrivate: true, Password: "hunter2"})
	require.NoError(t, err)
	_, err = l.Join(private.ID, user("q"), "wrong")
	assert.True(t, errors.Is(err, internal.ErrAuth))
	_, err = l.Join(private.ID, user("q"), "hunter2")
	assert.NoError(t, err)

	_, found := l.FindJoinable()
	assert.False(t, found, "full and private rooms are not joinable")
}

func TestSingleHostAcrossLeaveOrders(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	for _, order := range permutations(ids) {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			l, _ := newTestLobby(t)
			room := roomWith(t, l, ids...)

			remaining := append([]string(nil), ids...)
			for i, id := range order {
				res, err := l.Leave(room.ID, id)
				require.NoError(t, err)

				for j, r := range remaining {
					if r == id {
						remaining = append(remaining[:j], remaining[j+1:]...)
						break
					}
				}

				if i == len(order)-1 {
					assert.True(t, res.Disbanded)
					_, err := l.Get(room.ID)
					assert.True(t, errors.Is(err, internal.ErrNotFound))
					continue
				}
				current, err := l.Get(room.ID)
				require.NoError(t, err)
				assert.Equal(t, 1, current.HostCount())
				// the longest-tenured remaining player holds the role
				assert.Equal(t, remaining[0], current.HostID)
				assert.True(t, current.IsHost(remaining[0]))
			}
		})
	}
}

func TestCanStartOverReadyCombinations(t *testing.T) {
	l, _ := newTestLobby(t)
	room := roomWith(t, l, "host", "b", "c", "d")
	others := []string{"b", "c", "d"}

	for mask := 0; mask < 1<<len(others); mask++ {
		for i, id := range others {
			_, err := l.SetReady(room.ID, id, boolp(mask&(1<<i) != 0))
			require.NoError(t, err)
		}
		ok, err := l.CanStart(room.ID, "host")
		require.NoError(t, err)
		assert.Equal(t, mask == 1<<len(others)-1, ok, "mask %03b", mask)

		ok, err = l.CanStart(room.ID, "b")
		require.NoError(t, err)
		assert.False(t, ok, "only the host can start")
	}

	// nil toggles
	r, err := l.SetReady(room.ID, "b", nil)
	require.NoError(t, err)
	assert.False(t, r.GetPlayer("b").Ready)

	_, err = l.SetReady(room.ID, "ghost", nil)
	assert.True(t, errors.Is(err, internal.ErrNotFound))
}

func TestStartAndSessionRouting(t *testing.T) {
	l, bus := newTestLobby(t)
	room := roomWith(t, l, "a", "b")

	_, err := l.Start(room.ID, "a")
	assert.True(t, errors.Is(err, internal.ErrAuth), "b is not ready")

	_, err = l.SetReady(room.ID, "b", boolp(true))
	require.NoError(t, err)
	_, err = l.Start(room.ID, "b")
	assert.True(t, errors.Is(err, internal.ErrAuth))

	session, err := l.Start(room.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, room.ID, session.RoomID)
	assert.Equal(t, internal.SessionActive, session.Status)
	assert.Equal(t, 1, session.CurrentWave)
	assert.Len(t, session.Players, 2)
	assert.Equal(t, 1, bus.count(internal.EventRoomStarted))
	assert.Equal(t, 1, bus.count(internal.EventGameInit))
	gameInit := bus.last(internal.EventGameInit).Payload.(internal.GameInitData)
	assert.Len(t, gameInit.ZombieSpawns, 2)
	assert.Len(t, gameInit.ItemSpawns, 1)
	assert.Equal(t, session.ID, gameInit.Session.ID)

	current, err := l.Get(room.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.RoomInProgress, current.Status)
	assert.Equal(t, session.ID, current.SessionID)

	_, err = l.SetReady(room.ID, "b", nil)
	assert.True(t, errors.Is(err, internal.ErrState))
	_, err = l.Join(room.ID, user("c"), "")
	assert.True(t, errors.Is(err, internal.ErrConflict))
	_, err = l.Start(room.ID, "a")
	assert.Error(t, err)

	// reconnect churn never duplicates the session player
	require.NoError(t, l.MarkPresence(room.ID, "b", false))
	snap, err := l.SessionSnapshot(room.ID)
	require.NoError(t, err)
	assert.False(t, snap.GetPlayer("b").IsActive)
	require.NoError(t, l.MarkPresence(room.ID, "b", true))
	snap, err = l.SessionSnapshot(room.ID)
	require.NoError(t, err)
	assert.Len(t, snap.Players, 2)
	assert.True(t, snap.GetPlayer("b").IsActive)
	assert.NoError(t, l.MarkPresence(room.ID, "stranger", false))

	assert.NoError(t, l.MovePlayer(room.ID, "a", internal.Direction{X: 1}))

	// wave 2 reaches 10/10, then 4 may not skip ahead but 3 starts
	assert.True(t, errors.Is(l.StartWave(room.ID, "b", 2), internal.ErrAuth))
	require.NoError(t, l.ReportWaveProgress(room.ID, "a", internal.WaveProgress{
		Wave: 1, ZombiesSpawned: intp(4), ZombiesKilled: intp(4), Completed: boolp(true),
	}))
	require.NoError(t, l.StartWave(room.ID, "a", 2))
	require.NoError(t, l.ReportWaveProgress(room.ID, "a", internal.WaveProgress{
		Wave: 2, ZombiesSpawned: intp(10), ZombiesKilled: intp(10), SpawningStopped: boolp(true), Completed: boolp(true),
	}))
	snap, err = l.SessionSnapshot(room.ID)
	require.NoError(t, err)
	w2 := snap.WaveHistory[1]
	assert.True(t, w2.Completed)
	assert.NotNil(t, w2.EndTime)
	assert.True(t, errors.Is(l.StartWave(room.ID, "a", 4), internal.ErrState))
	require.NoError(t, l.StartWave(room.ID, "a", 3))

	require.NoError(t, l.RecordStats(room.ID, "a", "b", internal.StatDeltas{Kills: 3, Score: 30}))
	require.NoError(t, l.SetPaused(room.ID, "a", true))
	entry, ok := l.registry.Get(session.ID)
	require.True(t, ok)
	assert.Equal(t, internal.SessionPaused, entry.Status)
	require.NoError(t, l.SetPaused(room.ID, "a", false))

	_, err = l.Finish(room.ID, "b")
	assert.True(t, errors.Is(err, internal.ErrAuth))
	results, err := l.Finish(room.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, results.WavesCleared)
	require.NotNil(t, results.MVP)
	assert.Equal(t, "b", results.MVP.UserID)
	assert.Equal(t, 1, bus.count(internal.EventRoomFinished))
	assert.Equal(t, 0, l.registry.Len())

	_, err = l.Finish(room.ID, "a")
	assert.True(t, errors.Is(err, internal.ErrState))
	_, err = l.SessionSnapshot(room.ID)
	assert.True(t, errors.Is(err, internal.ErrNotFound))
	assert.True(t, errors.Is(l.StartWave(room.ID, "a", 4), internal.ErrState))
}

func TestOneLiveSessionPerMap(t *testing.T) {
	l, _ := newTestLobby(t)
	first := roomWith(t, l, "a")
	second := roomWith(t, l, "b")

	_, err := l.Start(first.ID, "a")
	require.NoError(t, err)
	_, err = l.Start(second.ID, "b")
	assert.True(t, errors.Is(err, internal.ErrConflict))

	current, err := l.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.RoomWaiting, current.Status)
	assert.Equal(t, 1, l.registry.Len())

	_, err = l.Finish(first.ID, "a")
	require.NoError(t, err)
	_, err = l.Start(second.ID, "b")
	assert.NoError(t, err)
}

func TestTimeLimitExpiry(t *testing.T) {
	l, bus := newTestLobby(t)
	room := roomWith(t, l, "a")
	_, err := l.UpdateOptions(room.ID, "a", internal.GameOptionsPatch{TimeLimit: intp(5)})
	require.NoError(t, err)

	session, err := l.Start(room.ID, "a")
	require.NoError(t, err)

	e, ok := l.entry(room.ID)
	require.True(t, ok)
	e.mu.Lock()
	timer := e.timeLimit
	e.mu.Unlock()
	require.NotNil(t, timer)
	assert.True(t, timer.Active())
	assert.InDelta(t, (5 * time.Minute).Seconds(), timer.Remaining().Seconds(), 1)

	l.expireSession(room.ID, "older-session")
	current, err := l.Get(room.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.RoomInProgress, current.Status)

	l.expireSession(room.ID, session.ID)
	current, err = l.Get(room.ID)
	require.NoError(t, err)
	assert.Equal(t, internal.RoomFinished, current.Status)
	assert.NotNil(t, current.FinishedAt)
	assert.False(t, timer.Active())
	assert.Equal(t, 1, bus.count(internal.EventRoomFinished))
}

func TestDisband(t *testing.T) {
	l, bus := newTestLobby(t)

	waiting := roomWith(t, l, "a", "b")
	assert.True(t, errors.Is(l.Disband(waiting.ID, "b"), internal.ErrAuth))
	require.NoError(t, l.Disband(waiting.ID, "a"))
	_, err := l.Get(waiting.ID)
	assert.True(t, errors.Is(err, internal.ErrNotFound))
	assert.Equal(t, 1, bus.count(internal.EventRoomDisbanded))
	assert.Equal(t, 0, bus.count(internal.EventRoomFinished))

	running := roomWith(t, l, "c")
	_, err = l.Start(running.ID, "c")
	require.NoError(t, err)
	require.NoError(t, l.Disband(running.ID, "c"))
	assert.Equal(t, 2, bus.count(internal.EventRoomDisbanded))
	assert.Equal(t, 1, bus.count(internal.EventRoomFinished))
	assert.Equal(t, 0, l.registry.Len())
	assert.Equal(t, 0, l.Len())

	// the last leaver disbands a running room as well
	solo := roomWith(t, l, "d")
	_, err = l.Start(solo.ID, "d")
	require.NoError(t, err)
	res, err := l.Leave(solo.ID, "d")
	require.NoError(t, err)
	assert.True(t, res.Disbanded)
	assert.Equal(t, 0, l.registry.Len())
}

func TestUpdateMapAndOptions(t *testing.T) {
	l, _ := newTestLobby(t)
	room := roomWith(t, l, "a", "b", "c")
	_, err := l.SetReady(room.ID, "b", boolp(true))
	require.NoError(t, err)

	_, err = l.UpdateOptions(room.ID, "b", internal.GameOptionsPatch{TimeLimit: intp(1)})
	assert.True(t, errors.Is(err, internal.ErrAuth))

	bad := internal.Difficulty("nightmare")
	_, err = l.UpdateOptions(room.ID, "a", internal.GameOptionsPatch{Difficulty: &bad})
	assert.True(t, errors.Is(err, internal.ErrValidation))
	_, err = l.UpdateOptions(room.ID, "a", internal.GameOptionsPatch{MaxPlayers: intp(2)})
	assert.True(t, errors.Is(err, internal.ErrValidation), "below player count")
	_, err = l.UpdateOptions(room.ID, "a", internal.GameOptionsPatch{MaxPlayers: intp(internal.MaxPlayersLimit + 1)})
	assert.True(t, errors.Is(err, internal.ErrValidation))
	_, err = l.UpdateOptions(room.ID, "a", internal.GameOptionsPatch{TimeLimit: intp(-1)})
	assert.True(t, errors.Is(err, internal.ErrValidation))

	current, err := l.Get(room.ID)
	require.NoError(t, err)
	assert.True(t, current.GetPlayer("b").Ready, "rejected updates leave readiness alone")

	hard := internal.Difficulty("HARD")
	updated, err := l.UpdateOptions(room.ID, "a", internal.GameOptionsPatch{Difficulty: &hard, FriendlyFire: boolp(true)})
	require.NoError(t, err)
	assert.Equal(t, internal.DifficultyHard, updated.GameOptions.Difficulty)
	assert.True(t, updated.GameOptions.FriendlyFire)
	assert.False(t, updated.GetPlayer("b").Ready)
	assert.True(t, updated.GetPlayer("a").Ready)

	_, err = l.SetReady(room.ID, "b", boolp(true))
	require.NoError(t, err)
	_, err = l.UpdateMap(room.ID, "a", "atlantis")
	assert.True(t, errors.Is(err, internal.ErrNotFound))
	updated, err = l.UpdateMap(room.ID, "a", "bunker")
	require.NoError(t, err)
	assert.Equal(t, "bunker", updated.GameOptions.MapID)
	assert.Equal(t, "Bunker", updated.GameOptions.MapName)
	assert.False(t, updated.GetPlayer("b").Ready)
}

func TestRoomQueries(t *testing.T) {
	l, _ := newTestLobby(t)
	first := roomWith(t, l, "a", "b")
	second := roomWith(t, l, "c")
	_, err := l.CreateRoom(user("d"), CreateRoomRequest{IsPrivate: true, Password: "x"})
	require.NoError(t, err)

	all := l.List()
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID, "oldest first")

	available := l.ListAvailable()
	require.Len(t, available, 2)
	joinable, ok := l.FindJoinable()
	require.True(t, ok)
	assert.Equal(t, first.ID, joinable.ID)

	mine := l.RoomsForUser("b")
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)

	of, ok := l.RoomOf("c")
	require.True(t, ok)
	assert.Equal(t, second.ID, of.ID)
	_, ok = l.RoomOf("nobody")
	assert.False(t, ok)

	// returned rooms are copies
	all[0].Players[0].Ready = false
	again, err := l.Get(first.ID)
	require.NoError(t, err)
	assert.True(t, again.Players[0].Ready)
}

func checkRoomInvariants(t *testing.T, r *internal.Room) {
	t.Helper()
	seen := make(map[string]bool, len(r.Players))
	for _, p := range r.Players {
		assert.False(t, seen[p.UserID], "player %s listed twice", p.UserID)
		seen[p.UserID] = true
	}
	assert.LessOrEqual(t, len(r.Players), r.GameOptions.MaxPlayers)
	if len(r.Players) > 0 {
		assert.Equal(t, 1, r.HostCount())
		assert.True(t, r.IsHost(r.HostID))
	}
}

func TestConcurrentRoomCommands(t *testing.T) {
	l, _ := newTestLobby(t)
	room, err := l.CreateRoom(user("host"), CreateRoomRequest{})
	require.NoError(t, err)

	stop := make(chan struct{})
	observed := make(chan struct{})
	go func() {
		defer close(observed)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if r, err := l.Get(room.ID); err == nil {
				checkRoomInvariants(t, r)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for round := 0; round < 20; round++ {
				if _, err := l.Join(room.ID, user(id), ""); err != nil {
					assert.True(t, errors.Is(err, internal.ErrConflict) || errors.Is(err, internal.ErrNotFound), "join: %v", err)
					continue
				}
				l.Join(room.ID, user(id), "")
				l.SetReady(room.ID, id, nil)
				l.SetReady(room.ID, id, boolp(true))
				l.Leave(room.ID, id)
			}
		}(fmt.Sprintf("p%d", i))
	}
	wg.Wait()
	close(stop)
	<-observed

	r, err := l.Get(room.ID)
	require.NoError(t, err)
	checkRoomInvariants(t, r)
	require.Len(t, r.Players, 1)
	assert.Equal(t, "host", r.HostID)
}

func TestConcurrentSessionCommandsWhileTicking(t *testing.T) {
	l, _ := newTestLobby(t)
	room := roomWith(t, l, "a", "b")
	_, err := l.SetReady(room.ID, "b", boolp(true))
	require.NoError(t, err)
	_, err = l.Start(room.ID, "a")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mover := []string{"a", "b"}[i%2]
			for n := 0; n < 50; n++ {
				assert.NoError(t, l.MovePlayer(room.ID, mover, internal.Direction{X: float64(n%3 - 1), Z: 1}))
				snap, err := l.SessionSnapshot(room.ID)
				if assert.NoError(t, err) {
					assert.Len(t, snap.Players, 2)
				}
				assert.NoError(t, l.RecordStats(room.ID, "a", mover, internal.StatDeltas{Kills: 1}))
				assert.NoError(t, l.MarkPresence(room.ID, mover, n%2 == 0))
			}
		}(i)
	}
	wg.Wait()

	snap, err := l.SessionSnapshot(room.ID)
	require.NoError(t, err)
	total := 0
	for _, p := range snap.Players {
		total += p.Kills
	}
	assert.Equal(t, 8*50, total)
}
