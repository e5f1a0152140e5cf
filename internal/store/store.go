// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-coach/internal/domain"
)

// Repository defines the interface for persisting users and coaching progress.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetCoachingSession retrieves one coaching session record.
	// It returns nil, nil when absent.
	GetCoachingSession(ctx context.Context, userID, sessionID string) (*domain.CoachingSession, error)

	// UpsertCoachingSession creates or updates a coaching session record.
	// Phase, question counter and completion never move backwards.
	UpsertCoachingSession(ctx context.Context, session *domain.CoachingSession) error

	// ListCoachingSessions returns a user's sessions, most recently updated first.
	ListCoachingSessions(ctx context.Context, userID string) ([]*domain.CoachingSession, error)

	// GetExpiredSessions returns sessions not updated within retention.
	GetExpiredSessions(ctx context.Context, retention time.Duration) ([]*domain.CoachingSession, error)

	// DeleteCoachingSession removes a coaching session record.
	DeleteCoachingSession(ctx context.Context, userID, sessionID string) error

	// DeleteIdleUsers removes users idle longer than ttl that have no sessions left.
	DeleteIdleUsers(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
