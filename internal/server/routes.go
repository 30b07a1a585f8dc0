// Package server wires HTTP handlers into a gorilla/mux router for the relay
// via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures and returns a router with all application routes.
// It sets up the health check, the WebSocket relay, the users and history API,
// and the metrics endpoint.
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", HealthHandler)
	r.HandleFunc("/ws", s.WebSocketHandler)

	// API routes live on the root router so a method mismatch answers 405.
	r.HandleFunc("/api/users", s.UsersHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{user}", s.DeleteUserHandler).Methods(http.MethodDelete)
	// Older clients delete through a GET on this path.
	r.HandleFunc("/api/users/delete/{user}", s.DeleteUserHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", s.MessagesHandler).Methods(http.MethodGet)

	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}
