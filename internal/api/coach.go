package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-coach/internal/coach"
	"github.com/ashureev/shsh-coach/internal/domain"
	"github.com/ashureev/shsh-coach/internal/identity"
)

// ClientConfig is the coaching configuration exposed to the frontend.
type ClientConfig struct {
	AdvanceDelay    time.Duration
	CompletionDelay time.Duration
}

// CoachHandler handles coaching endpoints.
type CoachHandler struct {
	*Handler
	client ClientConfig
}

// NewCoachHandler creates a new coaching handler.
func NewCoachHandler(base *Handler, client ClientConfig) *CoachHandler {
	return &CoachHandler{Handler: base, client: client}
}

// RegisterRoutes registers coaching routes.
func (h *CoachHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/progress", h.GetProgress)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{sessionID}", h.GetSession)
	})
}

// GetMe returns the current user's information.
func (h *CoachHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"session_id": identity.SessionIDFromContext(r.Context()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *CoachHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	phases := make([]string, 0, domain.PhaseStakeholderQA+1)
	for p := domain.PhaseGreeting; p <= domain.PhaseStakeholderQA; p++ {
		phases = append(phases, p.Stage())
	}
	resp := map[string]interface{}{
		"advance_delay_ms":    h.client.AdvanceDelay.Milliseconds(),
		"completion_delay_ms": h.client.CompletionDelay.Milliseconds(),
		"max_questions":       coach.MaxQuestions,
		"phases":              phases,
	}
	if h.stats != nil {
		resp["services"] = h.stats.GetStats()
	}
	JSON(w, http.StatusOK, resp)
}

// GetProgress computes the progress percentage for the given position.
func (h *CoachHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	phase, ok := domain.ParsePhase(q.Get("phase"))
	if !ok {
		Error(w, http.StatusBadRequest, "invalid phase")
		return
	}
	greetingDone := false
	if v := q.Get("greeting_done"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid greeting_done")
			return
		}
		greetingDone = b
	}
	counter := 1
	if v := q.Get("counter"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid counter")
			return
		}
		counter = n
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"phase":    phase,
		"progress": coach.Progress(phase, greetingDone, counter),
	})
}

type sessionResponse struct {
	SessionID       string          `json:"session_id"`
	ProjectName     string          `json:"project_name"`
	Phase           domain.Phase    `json:"phase"`
	QuestionCounter int             `json:"question_counter"`
	Progress        int             `json:"progress"`
	Completed       bool            `json:"completed"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Live            *coach.Snapshot `json:"live,omitempty"`
}

func toSessionResponse(cs *domain.CoachingSession) sessionResponse {
	return sessionResponse{
		SessionID:       cs.SessionID,
		ProjectName:     cs.ProjectName,
		Phase:           cs.Phase,
		QuestionCounter: cs.QuestionCounter,
		Progress:        coach.Progress(cs.Phase, cs.Phase > domain.PhaseGreeting, cs.QuestionCounter),
		Completed:       cs.Completed,
		UpdatedAt:       cs.UpdatedAt,
	}
}

// ListSessions returns the caller's persisted coaching sessions.
func (h *CoachHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.repo.ListCoachingSessions(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to list coaching sessions", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, cs := range sessions {
		out = append(out, toSessionResponse(cs))
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

// GetSession returns one persisted session, with live state when it is
// currently connected.
func (h *CoachHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")

	cs, err := h.repo.GetCoachingSession(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to get coaching session", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	if cs == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	resp := toSessionResponse(cs)
	if h.live != nil {
		if snap, ok := h.live.Snapshot(userID, sessionID); ok {
			resp.Live = &snap
			resp.Progress = snap.Progress
		}
	}
	JSON(w, http.StatusOK, resp)
}
