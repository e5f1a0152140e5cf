//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/shsh-coach/internal/agent"
	"github.com/ashureev/shsh-coach/internal/coach"
	"github.com/ashureev/shsh-coach/internal/domain"
	"github.com/ashureev/shsh-coach/internal/identity"
	"github.com/ashureev/shsh-coach/internal/store"
)

const testUserID = "anon_0123456789abcdef0123456789abcdef"

type fakeRepo struct {
	store.Repository

	mu       sync.Mutex
	users    map[string]*domain.User
	sessions map[string]*domain.CoachingSession
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    make(map[string]*domain.User),
		sessions: make(map[string]*domain.CoachingSession),
	}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) GetCoachingSession(_ context.Context, userID, sessionID string) (*domain.CoachingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.sessions[userID+"/"+sessionID]
	if cs == nil {
		return nil, nil
	}
	copy := *cs
	return &copy, nil
}

func (f *fakeRepo) ListCoachingSessions(_ context.Context, userID string) ([]*domain.CoachingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.CoachingSession
	for _, cs := range f.sessions {
		if cs.UserID == userID {
			copy := *cs
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (f *fakeRepo) putSession(cs domain.CoachingSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[cs.UserID+"/"+cs.SessionID] = &cs
}

type fakeStats struct{}

func (fakeStats) GetStats() agent.Stats {
	return agent.Stats{AnalysisConfigured: true}
}

type fakeLive map[string]coach.Snapshot

func (f fakeLive) Snapshot(userID, sessionID string) (coach.Snapshot, bool) {
	snap, ok := f[userID+"/"+sessionID]
	return snap, ok
}

func newTestRouter(repo *fakeRepo, live LiveSessions) http.Handler {
	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	h := NewCoachHandler(NewHandler(repo, fakeStats{}, live), ClientConfig{
		AdvanceDelay:    2 * time.Second,
		CompletionDelay: 5 * time.Second,
	})
	h.RegisterRoutes(r)
	return r
}

func doGet(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testUserID})
	req.Header.Set(identity.SessionHeaderName, "interview-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", target, err)
	}
	return w, body
}

func TestGetMeCreatesAnonymousUser(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	w, body := doGet(t, newTestRouter(repo, nil), "/api/me")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["user_id"] != testUserID {
		t.Errorf("user_id = %v", body["user_id"])
	}
	if body["session_id"] != "interview-1" {
		t.Errorf("session_id = %v", body["session_id"])
	}
	if u, _ := repo.GetUser(context.Background(), testUserID); u == nil {
		t.Fatal("user was not persisted")
	}
}

func TestGetConfig(t *testing.T) {
	t.Parallel()

	w, body := doGet(t, newTestRouter(newFakeRepo(), nil), "/api/config")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	want := map[string]any{
		"advance_delay_ms":    float64(2000),
		"completion_delay_ms": float64(5000),
		"max_questions":       float64(coach.MaxQuestions),
		"phases":              []any{"greeting", "problem_exploration", "as_is", "stakeholder_qa"},
		"services": map[string]any{
			"evaluator_connected": false,
			"analysis_configured": true,
			"guidance_configured": false,
		},
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Fatalf("config (-want +got):\n%s", diff)
	}
}

func TestGetProgress(t *testing.T) {
	t.Parallel()

	router := newTestRouter(newFakeRepo(), nil)
	tests := []struct {
		query      string
		wantStatus int
		want       float64
	}{
		{"phase=greeting", http.StatusOK, 0},
		{"phase=greeting&greeting_done=true", http.StatusOK, 7},
		{"phase=as_is", http.StatusOK, 13},
		{"phase=stakeholder_qa&counter=10", http.StatusOK, 50},
		{"phase=stakeholder_qa&counter=99", http.StatusOK, 100},
		{"phase=nope", http.StatusBadRequest, 0},
		{"phase=as_is&counter=x", http.StatusBadRequest, 0},
		{"phase=as_is&greeting_done=maybe", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w, body := doGet(t, router, "/api/progress?"+tt.query)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && body["progress"] != tt.want {
				t.Errorf("progress = %v, want %v", body["progress"], tt.want)
			}
		})
	}
}

func TestListSessionsScopedToCaller(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.putSession(domain.CoachingSession{UserID: testUserID, SessionID: "interview-1", Phase: domain.PhaseAsIs, QuestionCounter: 1})
	repo.putSession(domain.CoachingSession{UserID: "anon_other", SessionID: "x", Phase: domain.PhaseStakeholderQA})

	w, body := doGet(t, newTestRouter(repo, nil), "/api/sessions")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	got := sessions[0].(map[string]any)
	if got["session_id"] != "interview-1" || got["phase"] != "AS_IS" || got["progress"] != float64(13) {
		t.Errorf("unexpected session %v", got)
	}
}

func TestGetSessionIncludesLiveState(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	repo.putSession(domain.CoachingSession{UserID: testUserID, SessionID: "interview-1", Phase: domain.PhaseStakeholderQA, QuestionCounter: 4})
	live := fakeLive{testUserID + "/interview-1": {SessionID: "interview-1", Phase: domain.PhaseStakeholderQA, QuestionCounter: 6, Progress: 30}}
	router := newTestRouter(repo, live)

	w, body := doGet(t, router, "/api/sessions/interview-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["progress"] != float64(30) {
		t.Errorf("progress = %v, want live value 30", body["progress"])
	}
	liveBody, ok := body["live"].(map[string]any)
	if !ok || liveBody["question_counter"] != float64(6) {
		t.Errorf("live = %v", body["live"])
	}

	w, _ = doGet(t, router, "/api/sessions/missing")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d, want 404", w.Code)
	}
}
