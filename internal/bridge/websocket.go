package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/shsh-coach/internal/agent"
	"github.com/ashureev/shsh-coach/internal/coach"
	"github.com/ashureev/shsh-coach/internal/domain"
	"github.com/ashureev/shsh-coach/internal/identity"
	"github.com/ashureev/shsh-coach/internal/store"
)

// maxFrameSize bounds one inbound frame; full history frames can be large.
const maxFrameSize = 1 << 20

// SessionFactory creates the coaching session behind one connection.
type SessionFactory func(cfg coach.Config, host coach.HostBridge) (*coach.Session, error)

// NewSessionFactory returns a factory that fills per-connection fields into
// base and attaches the host to deps.
func NewSessionFactory(base coach.Config, deps coach.Deps) SessionFactory {
	return func(cfg coach.Config, host coach.HostBridge) (*coach.Session, error) {
		c := base
		c.SessionID = cfg.SessionID
		c.ProjectName = cfg.ProjectName
		c.Resume = cfg.Resume
		d := deps
		d.Bridge = host
		return coach.NewSession(c, d)
	}
}

// WebSocketHandler serves coaching sessions over WebSocket.
type WebSocketHandler struct {
	repo          store.Repository
	sm            *SessionManager
	newSession    SessionFactory
	limiter       *RateLimiter
	convLog       agent.ConversationLogger
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. limiter and convLog
// may be nil.
func NewWebSocketHandler(repo store.Repository, sm *SessionManager, newSession SessionFactory, limiter *RateLimiter, convLog agent.ConversationLogger, allowedOrigin string, isDev bool) *WebSocketHandler {
	if convLog == nil {
		convLog = agent.NoopConversationLogger()
	}
	return &WebSocketHandler{
		repo:          repo,
		sm:            sm,
		newSession:    newSession,
		limiter:       limiter,
		convLog:       convLog,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// conn is the per-connection state owned by the read loop.
type conn struct {
	ws      *websocket.Conn
	host    *wsHost
	session *coach.Session
	userID  string
	history []domain.Message
	logger  *slog.Logger
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	logger := slog.Default().With("user_id", userID, "session_id", sessionID)
	logger.Info("[BRIDGE] WebSocket connection request", "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	resume, err := h.repo.GetCoachingSession(r.Context(), userID, sessionID)
	if err != nil {
		logger.Warn("[BRIDGE] Failed to load coaching session, starting fresh", "error", err)
		resume = nil
	}
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	if project == "" && resume != nil {
		project = resume.ProjectName
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("[BRIDGE] Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(maxFrameSize)

	host := &wsHost{
		conn:      ws,
		repo:      h.repo,
		convLog:   h.convLog,
		logger:    logger,
		userID:    userID,
		sessionID: sessionID,
		project:   project,
		createdAt: time.Now(),
	}
	if resume != nil {
		host.createdAt = resume.CreatedAt
	}

	sess, err := h.newSession(coach.Config{
		SessionID:   sessionID,
		ProjectName: project,
		Resume:      resume,
	}, host)
	if err != nil {
		logger.Error("[BRIDGE] Failed to start coaching session", "error", err)
		if err := writeJSON(ws, errorFrame(codeInternal, err)); err != nil {
			logger.Debug("Failed to send session start error", "error", err)
		}
		return
	}

	h.sm.Register(userID, sessionID, ws, sess)
	defer h.sm.Unregister(userID, sessionID, ws)
	defer sess.Close()

	c := &conn{ws: ws, host: host, session: sess, userID: userID, logger: logger}
	h.inputLoop(r.Context(), c)
	logger.Info("[BRIDGE] Coaching connection ended")
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("[BRIDGE] WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.logger.Debug("[BRIDGE] WebSocket closed by client")
			} else if ctx.Err() == nil {
				c.logger.Warn("[BRIDGE] WebSocket read error", "error", err)
			}
			return
		}

		var f inboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(errorFrame(codeInvalidFrame, err))
			continue
		}
		h.dispatch(c, f)

		// Update last seen asynchronously with timeout.
		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, c.userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err)
			}
		}()
	}
}

func (h *WebSocketHandler) dispatch(c *conn, f inboundFrame) {
	switch f.Type {
	case frameHistory:
		h.onHistory(c, f.Messages)
	case frameMessage:
		if f.Message == nil {
			c.reply(errorFrame(codeInvalidFrame, nil))
			return
		}
		h.onMessage(c, *f.Message)
	case frameStage:
		c.replyErr(c.session.SetStage(f.Stage))
	case frameAcknowledge:
		c.replyErr(c.session.Acknowledge())
	case frameAcceptRewrite:
		c.replyErr(c.session.AcceptRewrite())
	case frameAskSuggested:
		_, err := c.session.AskSuggestedQuestion()
		c.replyErr(err)
	case framePing:
		c.reply(outboundFrame{Type: framePong})
	default:
		c.reply(outboundFrame{Type: frameError, Error: codeUnknownType, Detail: f.Type})
	}
}

// onHistory replaces the connection's history, typically on reconnect.
func (h *WebSocketHandler) onHistory(c *conn, messages []domain.Message) {
	for i := range messages {
		if !messages[i].Sender.Valid() {
			c.reply(errorFrame(codeInvalidSender, nil))
			return
		}
		if messages[i].ID == "" {
			messages[i].ID = uuid.NewString()
		}
	}
	c.history = messages
	c.replyErr(c.session.Observe(c.history))
}

// onMessage appends one message to the history.
func (h *WebSocketHandler) onMessage(c *conn, m domain.Message) {
	if !m.Sender.Valid() {
		c.reply(errorFrame(codeInvalidSender, nil))
		return
	}
	if m.Sender == domain.SenderTrainee {
		if strings.TrimSpace(m.Content) == "" {
			c.reply(errorFrame(codeEmptyMessage, nil))
			return
		}
		if h.limiter != nil && !h.limiter.Allow(c.userID) {
			c.logger.Warn("[BRIDGE] Trainee message rate limited")
			c.reply(errorFrame(codeRateLimited, nil))
			return
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	} else if c.seen(m.ID) {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	c.history = append(c.history, m)
	c.host.logEvent("in", string(m.Sender)+"_message", m.Content, map[string]any{"message_id": m.ID})
	c.replyErr(c.session.Observe(c.history))
}

func (c *conn) seen(id string) bool {
	for i := range c.history {
		if c.history[i].ID == id {
			return true
		}
	}
	return false
}

func (c *conn) reply(f outboundFrame) {
	if err := writeJSON(c.ws, f); err != nil {
		c.logger.Debug("[BRIDGE] Failed to send reply", "error", err, "frame", f.Type)
	}
}

func (c *conn) replyErr(err error) {
	if err == nil {
		return
	}
	c.logger.Debug("[BRIDGE] Host action rejected", "error", err)
	c.reply(errorFrame(errorCode(err), err))
}
