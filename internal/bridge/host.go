package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/shsh-coach/internal/agent"
	"github.com/ashureev/shsh-coach/internal/coach"
	"github.com/ashureev/shsh-coach/internal/domain"
	"github.com/ashureev/shsh-coach/internal/store"
)

const (
	writeTimeout   = 5 * time.Second
	persistTimeout = 5 * time.Second
)

// persistKey is the part of a snapshot that is stored.
type persistKey struct {
	phase          domain.Phase
	counter        int
	lastAnalyzedID string
	complete       bool
}

// wsHost implements coach.HostBridge over a WebSocket. The session calls it
// from a single goroutine, so its fields need no locking.
type wsHost struct {
	conn      *websocket.Conn
	repo      store.Repository
	convLog   agent.ConversationLogger
	logger    *slog.Logger
	userID    string
	sessionID string
	project   string
	createdAt time.Time

	persisted    *persistKey
	lastFeedback *domain.Evaluation
	lastQuestion string
}

var _ coach.HostBridge = (*wsHost)(nil)

func (h *wsHost) OnAcknowledgementStateChange(locked bool) {
	h.write(outboundFrame{Type: frameAckState, Locked: &locked})
}

func (h *wsHost) OnSuggestedRewrite(text string) {
	h.logEvent("out", "suggested_rewrite", text, nil)
	h.write(outboundFrame{Type: frameSuggestedRewrite, Text: text})
}

func (h *wsHost) OnSubmitMessage(text string) {
	h.logEvent("out", "submit_message", text, nil)
	h.write(outboundFrame{Type: frameSubmitMessage, Text: text})
}

func (h *wsHost) OnSessionComplete() {
	h.logEvent("out", "session_complete", "", nil)
	h.write(outboundFrame{Type: frameSessionComplete})
}

func (h *wsHost) OnStateChange(snap coach.Snapshot) {
	h.recordChanges(snap)
	h.persist(snap)
	h.write(outboundFrame{Type: frameState, State: &snap})
}

// recordChanges logs feedback and analysis the first time they appear.
func (h *wsHost) recordChanges(snap coach.Snapshot) {
	if fb := snap.Gate.PendingFeedback; fb != nil && (h.lastFeedback == nil || *h.lastFeedback != *fb) {
		h.logEvent("out", "feedback", fb.Message, map[string]any{
			"phase":             snap.Phase.String(),
			"verdict":           string(fb.Verdict),
			"suggested_rewrite": fb.SuggestedRewrite,
			"technique":         fb.Technique,
		})
	}
	h.lastFeedback = snap.Gate.PendingFeedback

	if a := snap.Analysis; a != nil && a.NextQuestion != h.lastQuestion {
		h.lastQuestion = a.NextQuestion
		h.logEvent("out", "analysis", a.NextQuestion, map[string]any{
			"question_counter": snap.QuestionCounter,
			"technique":        a.Technique,
			"message_id":       snap.LastAnalyzedID,
		})
	}
}

// persist stores the session's progress when it has changed.
func (h *wsHost) persist(snap coach.Snapshot) {
	key := persistKey{
		phase:          snap.Phase,
		counter:        snap.QuestionCounter,
		lastAnalyzedID: snap.LastAnalyzedID,
		complete:       snap.Complete,
	}
	if h.persisted != nil && *h.persisted == key {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	err := h.repo.UpsertCoachingSession(ctx, &domain.CoachingSession{
		SessionID:       h.sessionID,
		UserID:          h.userID,
		ProjectName:     h.project,
		Phase:           key.phase,
		QuestionCounter: key.counter,
		LastAnalyzedID:  key.lastAnalyzedID,
		Completed:       key.complete,
		CreatedAt:       h.createdAt,
	})
	if err != nil {
		h.logger.Warn("[BRIDGE] Failed to persist coaching session", "error", err)
		return
	}
	h.persisted = &key
}

func (h *wsHost) logEvent(direction, eventType, content string, meta map[string]any) {
	h.convLog.Log(agent.ConversationLogEvent{
		UserID:     h.userID,
		SessionID:  h.sessionID,
		Channel:    "coach",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}

func (h *wsHost) write(f outboundFrame) {
	if err := writeJSON(h.conn, f); err != nil {
		h.logger.Debug("[BRIDGE] WebSocket write error", "error", err, "frame", f.Type)
	}
}

func writeJSON(ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
