package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/game"
	"github.com/scythe504/horde-backend/internal/utils"
)

const (
	headerUserID   = "X-User-Id"
	headerUsername = "X-Username"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.HealthHandler).Methods(http.MethodGet)

	r.HandleFunc("/rooms", s.ListRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.CreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/me", s.MyRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms-available", s.GetRoomToJoin).Methods(http.MethodGet)

	r.HandleFunc("/rooms/{roomId}", s.GetRoom).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}", s.DisbandRoom).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{roomId}/join", s.JoinRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}/leave", s.LeaveRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}/start", s.StartRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}/finish", s.FinishRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}/map", s.UpdateMap).Methods(http.MethodPatch)
	r.HandleFunc("/rooms/{roomId}/game-options", s.UpdateOptions).Methods(http.MethodPatch)

	r.HandleFunc("/maps/available", s.AvailableMaps).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.hub.ServeWS)

	// Preflight requests are answered by the middleware, but mux only runs
	// middleware on matched routes.
	r.Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-User-Id, X-Username")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// If it's a websocket upgrade, skip further CORS checks
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) int {
	switch internal.KindOf(err) {
	case internal.KindValidation, internal.KindProtocol:
		return http.StatusBadRequest
	case internal.KindAuth:
		return http.StatusForbidden
	case internal.KindNotFound:
		return http.StatusNotFound
	case internal.KindConflict, internal.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeResponse(w http.ResponseWriter, startTime int64, status int, data any) {
	endTime := time.Now().UnixMilli()
	resp := internal.Response{
		StatusCode:    status,
		RespStartTime: startTime,
		RespEndTime:   endTime,
		NetRespTime:   endTime - startTime,
		Data:          data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, startTime int64, err error) {
	status := statusFor(err)
	kind := internal.KindOf(err)
	if kind == "" {
		kind = internal.KindResource
	}
	if status == http.StatusInternalServerError {
		log.Printf("[Server] %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeResponse(w, startTime, status, internal.ErrorData{Message: err.Error(), Code: kind})
}

// userFrom reads the caller identity set by the upstream auth layer.
func userFrom(r *http.Request) (internal.User, error) {
	id := strings.TrimSpace(r.Header.Get(headerUserID))
	if id == "" {
		return internal.User{}, internal.NewAuthError("missing %s header", headerUserID)
	}
	return internal.User{ID: id, Username: utils.DisplayName(r.Header.Get(headerUsername))}, nil
}

// decodeBody decodes an optional JSON body into dst.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return internal.NewValidationError("invalid request body: %v", err)
	}
	return nil
}

// handle wraps the common shape of a room call: identity, then fn, then
// the envelope.
func (s *Server) handle(w http.ResponseWriter, r *http.Request, status int, fn func(user internal.User, roomID string) (any, error)) {
	startTime := time.Now().UnixMilli()
	user, err := userFrom(r)
	if err != nil {
		writeError(w, r, startTime, err)
		return
	}
	data, err := fn(user, mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, r, startTime, err)
		return
	}
	writeResponse(w, startTime, status, data)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, time.Now().UnixMilli(), http.StatusOK, map[string]any{
		"message": "ok",
		"rooms":   s.lobby.Len(),
	})
}

func (s *Server) ListRooms(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	rooms := s.lobby.List()
	if r.URL.Query().Get("available") == "true" {
		rooms = s.lobby.ListAvailable()
	}
	writeResponse(w, startTime, http.StatusOK, rooms)
}

func (s *Server) MyRooms(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusOK, func(user internal.User, _ string) (any, error) {
		return s.lobby.RoomsForUser(user.ID), nil
	})
}

func (s *Server) GetRoomToJoin(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	room, ok := s.lobby.FindJoinable()
	if !ok {
		writeResponse(w, startTime, http.StatusNotFound, "No joinable rooms available")
		return
	}
	writeResponse(w, startTime, http.StatusOK, room)
}

func (s *Server) CreateRoom(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusCreated, func(user internal.User, _ string) (any, error) {
		var req game.CreateRoomRequest
		if err := decodeBody(r, &req); err != nil {
			return nil, err
		}
		return s.lobby.CreateRoom(user, req)
	})
}

func (s *Server) GetRoom(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	room, err := s.lobby.Get(mux.Vars(r)["roomId"])
	if err != nil {
		writeError(w, r, startTime, err)
		return
	}
	writeResponse(w, startTime, http.StatusOK, room)
}

func (s *Server) JoinRoom(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusOK, func(user internal.User, roomID string) (any, error) {
		var body struct {
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			return nil, err
		}
		return s.lobby.Join(roomID, user, body.Password)
	})
}

func (s *Server) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusOK, func(user internal.User, roomID string) (any, error) {
		return s.lobby.Leave(roomID, user.ID)
	})
}

func (s *Server) StartRoom(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusOK, func(user internal.User, roomID string) (any, error) {
		return s.lobby.Start(roomID, user.ID)
	})
}

func (s *Server) FinishRoom(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusOK, func(user internal.User, roomID string) (any, error) {
		return s.lobby.Finish(roomID, user.ID)
	})
}

func (s *Server) DisbandRoom(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusOK, func(user internal.User, roomID string) (any, error) {
		if err := s.lobby.Disband(roomID, user.ID); err != nil {
			return nil, err
		}
		return internal.DisbandedData{RoomID: roomID}, nil
	})
}

func (s *Server) UpdateMap(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusOK, func(user internal.User, roomID string) (any, error) {
		var body struct {
			MapID string `json:"mapId"`
		}
		if err := decodeBody(r, &body); err != nil {
			return nil, err
		}
		if body.MapID == "" {
			return nil, internal.NewValidationError("mapId is required")
		}
		return s.lobby.UpdateMap(roomID, user.ID, body.MapID)
	})
}

func (s *Server) UpdateOptions(w http.ResponseWriter, r *http.Request) {
	s.handle(w, r, http.StatusOK, func(user internal.User, roomID string) (any, error) {
		var patch internal.GameOptionsPatch
		if err := decodeBody(r, &patch); err != nil {
			return nil, err
		}
		return s.lobby.UpdateOptions(roomID, user.ID, patch)
	})
}

func (s *Server) AvailableMaps(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, time.Now().UnixMilli(), http.StatusOK, s.lobby.Catalog().List())
}
