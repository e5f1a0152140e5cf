package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/shsh-coach/internal/domain"
)

func TestAnalysisClientAnalyze(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		bodies <- body
		_, _ = w.Write([]byte(`{"analysis":{"nextQuestion":"Who approves invoices?","reasoning":"ownership","technique":"Probing","painPoints":["manual entry"]}}`))
	}))
	defer srv.Close()

	client := NewAnalysisClient(srv.URL, srv.Client(), nil)
	analysis, err := client.Analyze(context.Background(), domain.AnalysisRequest{
		Transcript: "We type every invoice by hand.",
		Context: domain.AnalysisContext{
			Phase:                  domain.PhaseAsIs,
			ProblemExplorationDone: true,
			ShowNextPhase:          true,
			QuestionCounter:        3,
		},
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	want := domain.StakeholderAnalysis{
		NextQuestion: "Who approves invoices?",
		Reasoning:    "ownership",
		Technique:    "Probing",
		PainPoints:   []string{"manual entry"},
	}
	if diff := cmp.Diff(want, analysis); diff != "" {
		t.Fatalf("analysis (-want +got):\n%s", diff)
	}

	wantBody := map[string]any{
		"transcript": "We type every invoice by hand.",
		"context": map[string]any{
			"phase":                       "AS_IS",
			"problemExplorationCompleted": true,
			"showNextPhase":               true,
			"asIsCompleted":               false,
			"questionCounter":             float64(3),
		},
		"conversationHistory": []any{},
	}
	if diff := cmp.Diff(wantBody, <-bodies); diff != "" {
		t.Fatalf("request body (-want +got):\n%s", diff)
	}
}

func TestAnalysisClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
		wantErr error
	}{
		{name: "json error field", status: http.StatusBadGateway, body: `{"error":"upstream model failed"}`, wantMsg: "upstream model failed"},
		{name: "json message field", status: http.StatusBadRequest, body: `{"message":"transcript required"}`, wantMsg: "transcript required"},
		{name: "plain body", status: http.StatusInternalServerError, body: "boom\n", wantMsg: "boom"},
		{name: "empty next question", status: http.StatusOK, body: `{"analysis":{"nextQuestion":""}}`, wantErr: errEmptyAnalysis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewAnalysisClient(srv.URL, srv.Client(), nil).Analyze(context.Background(), domain.AnalysisRequest{Transcript: "x"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *StatusError", err)
			}
			if se.StatusCode != tt.status || se.Message != tt.wantMsg {
				t.Fatalf("status error = %+v, want %d %q", se, tt.status, tt.wantMsg)
			}
		})
	}
}

func TestAnalysisClientCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := NewAnalysisClient(srv.URL, srv.Client(), nil).Analyze(ctx, domain.AnalysisRequest{Transcript: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestGuidanceClientGetGuidance(t *testing.T) {
	t.Parallel()

	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		_, _ = w.Write([]byte(`{"title":"As-Is Mapping","description":"Map today's process","why":"baseline","how":"walk it","examples":["Walk me through it"]}`))
	}))
	defer srv.Close()

	g, err := NewGuidanceClient(srv.URL+"/guidance/", srv.Client(), nil).GetGuidance(context.Background(), "as_is")
	if err != nil {
		t.Fatalf("GetGuidance failed: %v", err)
	}
	if path := <-paths; path != "/guidance/as_is" {
		t.Fatalf("path = %q", path)
	}
	want := domain.Guidance{
		Title:       "As-Is Mapping",
		Description: "Map today's process",
		Why:         "baseline",
		How:         "walk it",
		Examples:    []string{"Walk me through it"},
	}
	if diff := cmp.Diff(want, g); diff != "" {
		t.Fatalf("guidance (-want +got):\n%s", diff)
	}
}

func TestGuidanceClientNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewGuidanceClient(srv.URL, srv.Client(), nil).GetGuidance(context.Background(), "unknown")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 StatusError", err)
	}
}

func TestDialRequiresAnalysisURL(t *testing.T) {
	t.Parallel()

	if _, err := Dial(ServicesConfig{}, nil); err == nil {
		t.Fatal("expected error without analysis URL")
	}

	s, err := Dial(ServicesConfig{AnalysisURL: "http://analysis.invalid", GuidanceURL: "http://guidance.invalid"}, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer s.Close()
	want := Stats{AnalysisConfigured: true, GuidanceConfigured: true}
	if diff := cmp.Diff(want, s.GetStats()); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
}
