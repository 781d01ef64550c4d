package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/game"
	"github.com/scythe504/horde-backend/internal/websocket"
)

type envelope struct {
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (http.Handler, *game.Lobby) {
	t.Helper()
	lobby := game.NewLobby(game.Options{})
	t.Cleanup(lobby.Shutdown)
	hub := websocket.NewHub(lobby, websocket.Config{})
	t.Cleanup(hub.Close)
	return New("0", "https://horde.example", lobby, hub).RegisterRoutes(), lobby
}

func call(t *testing.T, h http.Handler, method, path, userID string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
		req.Header.Set("X-Username", "User "+userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Code != http.StatusNoContent {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
		assert.Equal(t, rec.Code, env.StatusCode)
	}
	return rec, env
}

func decodeRoom(t *testing.T, env envelope) internal.Room {
	t.Helper()
	var room internal.Room
	require.NoError(t, json.Unmarshal(env.Data, &room))
	return room
}

func decodeError(t *testing.T, env envelope) internal.ErrorData {
	t.Helper()
	var e internal.ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &e))
	return e
}

func TestHealthAndCORS(t *testing.T) {
	h, _ := newTestServer(t)

	rec, _ := call(t, h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://horde.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec, _ = call(t, h, http.MethodOptions, "/rooms/abc/join", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-User-Id")
}

func TestRoomLifecycleOverREST(t *testing.T) {
	h, lobby := newTestServer(t)

	rec, env := call(t, h, http.MethodGet, "/rooms-available", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = call(t, h, http.MethodPost, "/rooms", "alice", game.CreateRoomRequest{Name: "Night shift"})
	require.Equal(t, http.StatusCreated, rec.Code)
	room := decodeRoom(t, env)
	assert.Equal(t, "Night shift", room.Name)
	assert.Equal(t, "alice", room.HostID)

	rec, env = call(t, h, http.MethodGet, "/rooms-available", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, room.ID, decodeRoom(t, env).ID)

	rec, env = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeRoom(t, env).Players, 2)

	rec, env = call(t, h, http.MethodGet, "/rooms/me", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []internal.Room
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, room.ID, mine[0].ID)

	// bob is not ready yet
	rec, env = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/start", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, internal.KindAuth, decodeError(t, env).Code)

	ready := true
	_, err := lobby.SetReady(room.ID, "bob", &ready)
	require.NoError(t, err)

	rec, env = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/start", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/start", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var session internal.Session
	require.NoError(t, json.Unmarshal(env.Data, &session))
	assert.Equal(t, room.ID, session.RoomID)
	assert.Len(t, session.Players, 2)

	rec, _ = call(t, h, http.MethodPatch, "/rooms/"+room.ID+"/map", "alice", map[string]string{"mapId": internal.DefaultMapID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/finish", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results internal.FinalResults
	require.NoError(t, json.Unmarshal(env.Data, &results))
	assert.Equal(t, 2, results.TotalPlayers)

	rec, env = call(t, h, http.MethodDelete, "/rooms/"+room.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = call(t, h, http.MethodGet, "/rooms/"+room.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, internal.KindNotFound, decodeError(t, env).Code)
}

func TestRESTErrors(t *testing.T) {
	h, _ := newTestServer(t)

	rec, env := call(t, h, http.MethodPost, "/rooms", "", game.CreateRoomRequest{})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, internal.KindAuth, decodeError(t, env).Code)

	rec, _ = call(t, h, http.MethodPost, "/rooms", "alice", game.CreateRoomRequest{IsPrivate: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = call(t, h, http.MethodPost, "/rooms", "alice", game.CreateRoomRequest{IsPrivate: true, Password: "hunter2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	room := decodeRoom(t, env)

	rec, env = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/join", "bob", map[string]string{"password": "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec, _ = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/join", "bob", map[string]string{"password": "hunter2"})
	assert.Equal(t, http.StatusOK, rec.Code)

	maxPlayers := 0
	rec, env = call(t, h, http.MethodPatch, "/rooms/"+room.ID+"/game-options", "alice",
		internal.GameOptionsPatch{MaxPlayers: &maxPlayers})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, internal.KindValidation, decodeError(t, env).Code)

	maxPlayers = 2
	rec, env = call(t, h, http.MethodPatch, "/rooms/"+room.ID+"/game-options", "alice",
		internal.GameOptionsPatch{MaxPlayers: &maxPlayers})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeRoom(t, env).GameOptions.MaxPlayers)

	rec, _ = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/join", "carol", map[string]string{"password": "hunter2"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = call(t, h, http.MethodPatch, "/rooms/"+room.ID+"/map", "alice", map[string]string{"mapId": "atlantis"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewBufferString("{not json"))
	req.Header.Set("X-User-Id", "alice")
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	rec, env = call(t, h, http.MethodPost, "/rooms/"+room.ID+"/leave", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var left game.LeaveResult
	require.NoError(t, json.Unmarshal(env.Data, &left))
	assert.Equal(t, "bob", left.NewHostID)
}

func TestAvailableMaps(t *testing.T) {
	h, _ := newTestServer(t)
	rec, env := call(t, h, http.MethodGet, "/maps/available", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var maps []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &maps))
	require.NotEmpty(t, maps)
	assert.Equal(t, internal.DefaultMapID, maps[0].ID)
}
