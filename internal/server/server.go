package server

import (
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatroom/internal/auth"
	"github.com/Tyrowin/chatroom/internal/chat"
)

// Server bundles the HTTP surface of the chat service: the WebSocket
// endpoint, the account API and the operational endpoints.
type Server struct {
	cfg         Config
	hub         *Hub
	coordinator *chat.Coordinator
	auth        *auth.Service
	origins     originPolicy
	upgrader    websocket.Upgrader
}

// New creates a Server. The hub is created but not started; call StartHub.
func New(cfg *Config, coord *chat.Coordinator, authSvc *auth.Service) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)

	s := &Server{
		cfg:         sanitized,
		hub:         NewHub(),
		coordinator: coord,
		auth:        authSvc,
		origins:     newOriginPolicy(sanitized.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the server's connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type authResponse struct {
	Message string   `json:"message"`
	User    userView `json:"user"`
	Token   string   `json:"token,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Message string `json:"message"`
}

// healthMessage is the GET / liveness body.
const healthMessage = "Chat API is running!"
