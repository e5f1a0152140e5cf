package bridge

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/ashureev/shsh-coach/internal/coach"
)

// liveSession is one connected host and the coaching session it drives.
type liveSession struct {
	conn    *websocket.Conn
	session *coach.Session
}

// SessionManager tracks live coaching sessions by user and session ID.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*liveSession
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*liveSession),
	}
}

// GetActive returns the live coaching session for a user and session, or nil.
func (m *SessionManager) GetActive(userID, sessionID string) *coach.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ls, ok := m.active[userID][sessionID]; ok {
		return ls.session
	}
	return nil
}

// Snapshot returns the state of a live session.
func (m *SessionManager) Snapshot(userID, sessionID string) (coach.Snapshot, bool) {
	sess := m.GetActive(userID, sessionID)
	if sess == nil {
		return coach.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// Register adds a connection and its session. A previous connection for the
// same user and session is closed; its handler then tears down its session.
func (m *SessionManager) Register(userID, sessionID string, conn *websocket.Conn, sess *coach.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*liveSession)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing.conn != conn && existing.conn != nil {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = &liveSession{conn: conn, session: sess}
	slog.Info("[BRIDGE] Coaching session registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the current one.
func (m *SessionManager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current.conn == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("[BRIDGE] Coaching session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession disconnects a live session, if any.
func (m *SessionManager) CloseSession(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls, ok := m.active[userID][sessionID]
	if !ok {
		return
	}
	if ls.conn != nil {
		_ = ls.conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	delete(m.active[userID], sessionID)
	if len(m.active[userID]) == 0 {
		delete(m.active, userID)
	}
	slog.Info("[BRIDGE] Coaching session closed", "user_id", userID, "session_id", sessionID)
}

// CloseAll disconnects every live session.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, sessions := range m.active {
		for _, ls := range sessions {
			if ls.conn != nil {
				_ = ls.conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
		}
		delete(m.active, userID)
	}
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}
