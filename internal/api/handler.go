// Package api provides HTTP handlers for the coaching API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/shsh-coach/internal/agent"
	"github.com/ashureev/shsh-coach/internal/coach"
	"github.com/ashureev/shsh-coach/internal/store"
)

// StatsProvider reports collaborator connectivity.
type StatsProvider interface {
	GetStats() agent.Stats
}

// LiveSessions looks up the live state of a connected coaching session.
type LiveSessions interface {
	Snapshot(userID, sessionID string) (coach.Snapshot, bool)
}

// Handler provides common handler utilities.
type Handler struct {
	repo  store.Repository
	stats StatsProvider
	live  LiveSessions
}

// NewHandler creates a new Handler with common dependencies. stats and live
// may be nil.
func NewHandler(repo store.Repository, stats StatsProvider, live LiveSessions) *Handler {
	return &Handler{
		repo:  repo,
		stats: stats,
		live:  live,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
