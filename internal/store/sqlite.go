package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/shsh-coach/internal/domain"
	"github.com/ashureev/shsh-coach/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // serializes coaching session writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen_at);

	CREATE TABLE IF NOT EXISTS coaching_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		project_name TEXT NOT NULL DEFAULT '',
		phase INTEGER NOT NULL DEFAULT 0,
		question_counter INTEGER NOT NULL DEFAULT 1,
		last_analyzed_id TEXT NOT NULL DEFAULT '',
		completed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_coaching_sessions_updated ON coaching_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

const sessionColumns = `user_id, session_id, project_name, phase, question_counter,
		       last_analyzed_id, completed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.CoachingSession, error) {
	var cs domain.CoachingSession
	var phase int
	var completed int
	var createdAt, updatedAt int64
	if err := row.Scan(
		&cs.UserID, &cs.SessionID, &cs.ProjectName, &phase, &cs.QuestionCounter,
		&cs.LastAnalyzedID, &completed, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	cs.Phase = domain.Phase(phase)
	cs.Completed = completed != 0
	cs.CreatedAt = time.Unix(createdAt, 0)
	cs.UpdatedAt = time.Unix(updatedAt, 0)
	return &cs, nil
}

// GetCoachingSession retrieves one coaching session record.
func (s *SQLiteStore) GetCoachingSession(ctx context.Context, userID, sessionID string) (*domain.CoachingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM coaching_sessions WHERE user_id = ? AND session_id = ?`

	cs, err := scanSession(s.db.QueryRowContext(ctx, query, userID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan coaching session: %w", err)
	}
	return cs, nil
}

// UpsertCoachingSession creates or updates a coaching session record,
// retrying on SQLITE_BUSY with exponential backoff (50ms, 100ms).
func (s *SQLiteStore) UpsertCoachingSession(ctx context.Context, session *domain.CoachingSession) error {
	const attempts = 3
	err := shared.RetryOnConflict(ctx, attempts, 50*time.Millisecond, "upsert_coaching_session", func() error {
		return s.upsertCoachingSessionOnce(ctx, session)
	})
	if err != nil {
		return fmt.Errorf("upsert coaching session %s: %w", session.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) upsertCoachingSessionOnce(ctx context.Context, session *domain.CoachingSession) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `
		INSERT INTO coaching_sessions (
			user_id, session_id, project_name, phase, question_counter,
			last_analyzed_id, completed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			project_name = CASE WHEN excluded.project_name != '' THEN excluded.project_name ELSE coaching_sessions.project_name END,
			phase = MAX(coaching_sessions.phase, excluded.phase),
			question_counter = MAX(coaching_sessions.question_counter, excluded.question_counter),
			last_analyzed_id = CASE WHEN excluded.last_analyzed_id != '' THEN excluded.last_analyzed_id ELSE coaching_sessions.last_analyzed_id END,
			completed = MAX(coaching_sessions.completed, excluded.completed),
			updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	completed := 0
	if session.Completed {
		completed = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		session.UserID, session.SessionID, session.ProjectName,
		int(session.Phase), session.QuestionCounter,
		session.LastAnalyzedID, completed,
		createdAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert coaching session: %w", err)
	}
	return nil
}

// ListCoachingSessions returns a user's sessions, most recently updated first.
func (s *SQLiteStore) ListCoachingSessions(ctx context.Context, userID string) ([]*domain.CoachingSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM coaching_sessions
		WHERE user_id = ? ORDER BY updated_at DESC, session_id`
	return s.querySessions(ctx, query, userID)
}

// GetExpiredSessions returns sessions not updated within retention.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, retention time.Duration) ([]*domain.CoachingSession, error) {
	threshold := time.Now().Add(-retention).Unix()
	query := `SELECT ` + sessionColumns + ` FROM coaching_sessions WHERE updated_at < ?`
	return s.querySessions(ctx, query, threshold)
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*domain.CoachingSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query coaching sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close coaching session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.CoachingSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coaching session row: %w", err)
		}
		sessions = append(sessions, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coaching sessions: %w", err)
	}
	return sessions, nil
}

// DeleteCoachingSession removes a coaching session record.
func (s *SQLiteStore) DeleteCoachingSession(ctx context.Context, userID, sessionID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	query := `DELETE FROM coaching_sessions WHERE user_id = ? AND session_id = ?`
	if _, err := s.db.ExecContext(ctx, query, userID, sessionID); err != nil {
		return fmt.Errorf("delete coaching session: %w", err)
	}
	return nil
}

// DeleteIdleUsers removes users idle longer than ttl that have no sessions left.
func (s *SQLiteStore) DeleteIdleUsers(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `
		DELETE FROM users
		WHERE last_seen_at < ?
		  AND NOT EXISTS (SELECT 1 FROM coaching_sessions cs WHERE cs.user_id = users.user_id)`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("delete idle users: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
