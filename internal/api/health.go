package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// SessionCounter reports how many coaching sessions are connected.
type SessionCounter interface {
	Count() int
}

// HealthHandler reports readiness of the database and collaborators.
type HealthHandler struct {
	*Handler
	sessions SessionCounter
}

// NewHealthHandler creates a health handler. sessions may be nil.
func NewHealthHandler(base *Handler, sessions SessionCounter) *HealthHandler {
	return &HealthHandler{Handler: base, sessions: sessions}
}

// RegisterHealth registers the readiness route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health pings the database and reports collaborator status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	resp := map[string]interface{}{"status": "ok", "database": "ok"}
	if err := h.repo.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		resp["status"] = "degraded"
		resp["database"] = err.Error()
	}
	if h.stats != nil {
		resp["services"] = h.stats.GetStats()
	}
	if h.sessions != nil {
		resp["live_sessions"] = h.sessions.Count()
	}
	JSON(w, status, resp)
}
