// Package retention periodically removes stale coaching session records.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/shsh-coach/internal/shared"
	"github.com/ashureev/shsh-coach/internal/store"
)

// ExpireCallback is called for each session record removed by the worker,
// before the record is deleted.
type ExpireCallback func(userID, sessionID string)

// Worker sweeps coaching sessions that have not been updated within Retention.
type Worker struct {
	Repo      store.Repository
	Interval  time.Duration
	Retention time.Duration
	OnExpire  ExpireCallback
	Logger    *slog.Logger

	// retryDelay is the first backoff step for SQLite conflicts.
	retryDelay time.Duration
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger := w.logger()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	logger.Info("Retention worker started", "interval", w.Interval, "retention", w.Retention)

	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			logger.Info("Retention worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// Sweep removes expired sessions once and returns how many were deleted.
func (w *Worker) Sweep(ctx context.Context) int {
	logger := w.logger()

	expired, err := w.Repo.GetExpiredSessions(ctx, w.Retention)
	if err != nil {
		logger.Error("Retention worker failed to get expired sessions", "error", err)
		return 0
	}

	deleted := 0
	for _, cs := range expired {
		if w.OnExpire != nil {
			w.OnExpire(cs.UserID, cs.SessionID)
		}
		if err := w.deleteWithRetry(ctx, cs.UserID, cs.SessionID); err != nil {
			logger.Warn("Retention worker failed to delete session after retries",
				"error", err,
				"user_id", cs.UserID,
				"session_id", cs.SessionID)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		logger.Info("Retention worker removed expired sessions", "count", deleted)
	}

	if users, err := w.Repo.DeleteIdleUsers(ctx, w.Retention); err != nil {
		logger.Error("Retention worker failed to remove idle users", "error", err)
	} else if users > 0 {
		logger.Info("Retention worker removed idle users", "count", users)
	}
	return deleted
}

// deleteWithRetry deletes a session record, riding out SQLITE_BUSY while
// live sessions are still persisting.
func (w *Worker) deleteWithRetry(ctx context.Context, userID, sessionID string) error {
	const attempts = 3
	baseDelay := w.retryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	err := shared.RetryOnConflict(ctx, attempts, baseDelay, "delete_coaching_session", func() error {
		return w.Repo.DeleteCoachingSession(ctx, userID, sessionID)
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
