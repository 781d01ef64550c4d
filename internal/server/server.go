package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/scythe504/horde-backend/internal/game"
	"github.com/scythe504/horde-backend/internal/websocket"
)

type Server struct {
	port          string
	allowedOrigin string

	lobby *game.Lobby
	hub   *websocket.Hub
}

func New(port, allowedOrigin string, lobby *game.Lobby, hub *websocket.Hub) *Server {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return &Server{port: port, allowedOrigin: allowedOrigin, lobby: lobby, hub: hub}
}

// HTTPServer wraps the router in an http.Server. No write timeout is set:
// websocket connections outlive any single response.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.RegisterRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
