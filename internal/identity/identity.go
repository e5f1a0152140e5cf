// Package identity gives each browser an anonymous trainee ID and tags every
// request with the coaching session it belongs to.
package identity

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/shsh-coach/internal/domain"
	"github.com/ashureev/shsh-coach/internal/store"
)

const (
	// AnonCookieName holds the trainee's anonymous ID.
	AnonCookieName = "coach_anon_id"
	// SessionHeaderName names the coaching session; the session_id query
	// parameter is accepted too since browsers cannot set WebSocket headers.
	SessionHeaderName = "X-Coach-Session-ID"
	// DefaultSessionIDValue is used when the host names no valid session.
	DefaultSessionIDValue = "default"

	anonPrefix       = "anon_"
	anonCookieMaxAge = 30 * 24 * time.Hour
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

type ctxKey struct{}

// Identity is the caller of one request.
type Identity struct {
	UserID    string
	SessionID string
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// SessionIDFromContext extracts the coaching session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok && id.SessionID != "" {
		return id.SessionID
	}
	return DefaultSessionIDValue
}

func newAnonID() string {
	u := uuid.New()
	return fmt.Sprintf("%s%x", anonPrefix, u[:])
}

func validAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func normalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

func traineeName(userID string) string {
	if len(userID) > len(anonPrefix)+8 {
		return "trainee-" + userID[len(userID)-8:]
	}
	return "trainee"
}

// touchTrainee creates the trainee on first sight and refreshes last_seen_at
// afterwards, so the retention sweep keeps returning trainees.
func touchTrainee(ctx context.Context, repo store.Repository, userID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	now := time.Now()
	if user != nil {
		return repo.UpdateLastSeen(ctx, userID, now)
	}
	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   traineeName(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// anonIDFromRequest returns the cookie's ID, minting one when it is missing or
// malformed. The cookie is re-set either way to slide its expiry.
func anonIDFromRequest(w http.ResponseWriter, r *http.Request, isDev bool) string {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && validAnonID(c.Value) {
		id = c.Value
	} else {
		id = newAnonID()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return normalizeSessionID(sid)
}

// Middleware injects the anonymous trainee identity and the coaching session
// ID supplied by the host.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := anonIDFromRequest(w, r, isDev)

			if err := touchTrainee(r.Context(), repo, userID); err != nil {
				http.Error(w, `{"error":"failed to register trainee"}`, http.StatusInternalServerError)
				return
			}

			id := Identity{UserID: userID, SessionID: sessionIDFromRequest(r)}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
