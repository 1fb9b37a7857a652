// Package server wires HTTP handlers into a ServeMux for the chat
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/Tyrowin/chatroom/internal/metrics"
)

// Routes configures and returns an HTTP ServeMux with all application routes.
// The account API is mounted only when an auth service is configured.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)
	mux.Handle("/metrics", metrics.Handler())

	if s.auth != nil {
		mux.Handle("/api/register", s.origins.withCORS(http.HandlerFunc(s.RegisterHandler)))
		mux.Handle("/api/login", s.origins.withCORS(http.HandlerFunc(s.LoginHandler)))
	}
	return mux
}
