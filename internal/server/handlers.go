// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the users and history API backed by the message store.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// WebSocketHandler handles WebSocket upgrade requests and manages client connections.
// It validates that the request uses the GET method, upgrades the HTTP connection
// to WebSocket, creates a new Client instance, and starts the client's read/write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, s, r.RemoteAddr)
	log.Printf("Accepted WebSocket client %s as %s", r.RemoteAddr, client.ID())
	if !s.spawn(func() { client.serve(s.ctx) }) {
		client.closeConnection()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay server is running!")
}

// UsersHandler lists every distinct username found in the message history.
func (s *Server) UsersHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "message store not configured", http.StatusServiceUnavailable)
		return
	}

	users, err := s.store.Usernames(r.Context())
	if err != nil {
		log.Printf("Error listing users: %v", err)
		http.Error(w, "failed to list users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, users)
}

// DeleteUserHandler removes every message written under the {user} route variable.
func (s *Server) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "message store not configured", http.StatusServiceUnavailable)
		return
	}

	user := mux.Vars(r)["user"]
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}

	deleted, err := s.store.DeleteUser(r.Context(), user)
	if err != nil {
		log.Printf("Error deleting messages of %q: %v", user, err)
		http.Error(w, "failed to delete user", http.StatusInternalServerError)
		return
	}
	log.Printf("Deleted %d messages of %q", deleted, user)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"deleted": deleted,
	})
}

// MessagesHandler returns the most recent text messages in chronological
// order. The optional limit query parameter is clamped to [1, 500].
func (s *Server) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "message store not configured", http.StatusServiceUnavailable)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	records, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		log.Printf("Error loading history: %v", err)
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}
