package coach

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ashureev/shsh-coach/internal/domain"
)

func mustApply(t *testing.T, g Gate, e Event) (Gate, []Effect) {
	t.Helper()
	next, effects, err := g.Apply(e)
	if err != nil {
		t.Fatalf("Apply(%T) unexpected error: %v", e, err)
	}
	return next, effects
}

func good() domain.Evaluation {
	return domain.Evaluation{Verdict: domain.VerdictGood, Message: "Nice", Technique: "Open-ended"}
}

func amber(rewrite string) domain.Evaluation {
	return domain.Evaluation{Verdict: domain.VerdictAmber, Message: "Try again", SuggestedRewrite: rewrite}
}

func TestGateGoodAdvancesExactlyOnePhase(t *testing.T) {
	t.Parallel()

	g := NewGate()
	for want := domain.PhaseProblemExploration; want <= domain.PhaseStakeholderQA; want++ {
		from := g.Phase
		var effects []Effect
		g, effects = mustApply(t, g, TraineeMessage{ID: "m", Text: "hello"})
		if diff := cmp.Diff([]Effect{StartEvaluation{Phase: from, Text: "hello"}}, effects); diff != "" {
			t.Fatalf("trainee message effects (-want +got):\n%s", diff)
		}
		if !g.State().IsEvaluating {
			t.Fatal("expected evaluating state")
		}

		g, effects = mustApply(t, g, Evaluated{Evaluation: good()})
		if g.Status != StatusFeedbackGood || g.State().InputLocked {
			t.Fatalf("status = %s locked = %v, want FEEDBACK_GOOD unlocked", g.Status, g.State().InputLocked)
		}
		if !g.Completed[from] {
			t.Fatalf("phase %s not marked completed", from)
		}
		adv, ok := effects[0].(ScheduleAdvance)
		if !ok {
			t.Fatalf("expected ScheduleAdvance, got %#v", effects)
		}

		g, effects = mustApply(t, g, AdvanceDue{Gen: adv.Gen})
		if g.Phase != want {
			t.Fatalf("phase = %s, want %s", g.Phase, want)
		}
		if g.Feedback != nil || g.Status != StatusIdle {
			t.Fatalf("feedback not cleared after advance: %+v", g)
		}
		wantEffects := []Effect{PhaseEntered{From: from, To: want}, LoadGuidance{Stage: want.Stage()}}
		if diff := cmp.Diff(wantEffects, effects); diff != "" {
			t.Fatalf("advance effects (-want +got):\n%s", diff)
		}
	}
	if !g.ShowNextPhase {
		t.Fatal("greeting completion should set ShowNextPhase")
	}
}

func TestGateStaleAdvanceIsIgnored(t *testing.T) {
	t.Parallel()

	g := NewGate()
	g, _ = mustApply(t, g, TraineeMessage{ID: "m1", Text: "hello"})
	g, effects := mustApply(t, g, Evaluated{Evaluation: good()})
	gen := effects[0].(ScheduleAdvance).Gen

	g, _ = mustApply(t, g, AdvanceDue{Gen: gen})
	g, effects = mustApply(t, g, AdvanceDue{Gen: gen})
	if len(effects) != 0 || g.Phase != domain.PhaseProblemExploration {
		t.Fatalf("second advance moved state: phase=%s effects=%v", g.Phase, effects)
	}
}

func TestGateMessageDuringGoodFeedbackFinishesAdvance(t *testing.T) {
	t.Parallel()

	g := NewGate()
	g, _ = mustApply(t, g, TraineeMessage{ID: "m1", Text: "hello"})
	g, effects := mustApply(t, g, Evaluated{Evaluation: good()})
	gen := effects[0].(ScheduleAdvance).Gen

	g, effects = mustApply(t, g, TraineeMessage{ID: "m2", Text: "what problems?"})
	if g.Phase != domain.PhaseProblemExploration {
		t.Fatalf("phase = %s, want PROBLEM_EXPLORATION", g.Phase)
	}
	last := effects[len(effects)-1]
	if diff := cmp.Diff(StartEvaluation{Phase: domain.PhaseProblemExploration, Text: "what problems?"}, last); diff != "" {
		t.Fatalf("evaluation effect (-want +got):\n%s", diff)
	}

	// The original timer firing later must not advance a second time.
	g, _ = mustApply(t, g, AdvanceDue{Gen: gen})
	if g.Phase != domain.PhaseProblemExploration || g.Status != StatusEvaluating {
		t.Fatalf("late advance changed state: phase=%s status=%s", g.Phase, g.Status)
	}
}

func TestGateBlockingFeedbackLocksInput(t *testing.T) {
	t.Parallel()

	g := NewGate()
	g, _ = mustApply(t, g, TraineeMessage{ID: "m1", Text: "hey"})
	g, effects := mustApply(t, g, Evaluated{Evaluation: amber("Good morning")})

	if diff := cmp.Diff([]Effect{LockChanged{Locked: true}}, effects); diff != "" {
		t.Fatalf("effects (-want +got):\n%s", diff)
	}
	st := g.State()
	if !st.InputLocked || !st.AwaitingAcknowledgement || st.PendingFeedback == nil {
		t.Fatalf("state = %+v, want locked with feedback", st)
	}

	if _, _, err := g.Apply(TraineeMessage{ID: "m2", Text: "hi"}); !errors.Is(err, ErrInputLocked) {
		t.Fatalf("message while locked: err = %v, want ErrInputLocked", err)
	}
}

func TestGateClearBlocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		event   Event
		rewrite string
		want    []Effect
	}{
		{
			name:    "accept rewrite",
			event:   AcceptRewrite{},
			rewrite: "Good morning",
			want: []Effect{
				FeedbackAcknowledged{Verdict: domain.VerdictAmber, Accepted: true},
				SuggestRewrite{Text: "Good morning"},
				LockChanged{Locked: false},
			},
		},
		{
			name:    "accept without rewrite",
			event:   AcceptRewrite{},
			rewrite: "",
			want: []Effect{
				FeedbackAcknowledged{Verdict: domain.VerdictAmber, Accepted: true},
				LockChanged{Locked: false},
			},
		},
		{
			name:    "acknowledge",
			event:   Acknowledge{},
			rewrite: "Good morning",
			want: []Effect{
				FeedbackAcknowledged{Verdict: domain.VerdictAmber},
				LockChanged{Locked: false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate()
			g, _ = mustApply(t, g, TraineeMessage{ID: "m1", Text: "hey"})
			g, _ = mustApply(t, g, Evaluated{Evaluation: amber(tt.rewrite)})

			g, effects := mustApply(t, g, tt.event)
			if diff := cmp.Diff(tt.want, effects); diff != "" {
				t.Fatalf("effects (-want +got):\n%s", diff)
			}
			if g.Status != StatusIdle || g.Feedback != nil || g.Phase != domain.PhaseGreeting {
				t.Fatalf("after clear: status=%s feedback=%v phase=%s", g.Status, g.Feedback, g.Phase)
			}
			if g.Completed[domain.PhaseGreeting] {
				t.Fatal("blocked feedback must not complete the phase")
			}
		})
	}
}

func TestGateAcknowledgeWhenNotBlocked(t *testing.T) {
	t.Parallel()

	for _, e := range []Event{Acknowledge{}, AcceptRewrite{}} {
		if _, _, err := NewGate().Apply(e); !errors.Is(err, ErrNotAwaitingAcknowledgement) {
			t.Errorf("%T on idle gate: err = %v", e, err)
		}
	}
}

func TestGateRejectsSecondMessageWhileEvaluating(t *testing.T) {
	t.Parallel()

	g, _ := mustApply(t, NewGate(), TraineeMessage{ID: "m1", Text: "hello"})
	if _, _, err := g.Apply(TraineeMessage{ID: "m2", Text: "again"}); !errors.Is(err, ErrEvaluationInFlight) {
		t.Fatalf("err = %v, want ErrEvaluationInFlight", err)
	}
	if _, _, err := NewGate().Apply(Evaluated{Evaluation: good()}); !errors.Is(err, ErrNotEvaluating) {
		t.Fatalf("err = %v, want ErrNotEvaluating", err)
	}
}

func TestGateGreetingSkipsToAsIsWhenHostIsThere(t *testing.T) {
	t.Parallel()

	g := NewGate()
	g, _ = mustApply(t, g, TraineeMessage{ID: "m1", Text: "Good morning"})
	// The host moves on while the evaluation is in flight; the phase cannot
	// jump mid-evaluation.
	g, _ = mustApply(t, g, HostStage{Stage: "as_is"})
	if g.Phase != domain.PhaseGreeting {
		t.Fatalf("phase jumped during evaluation: %s", g.Phase)
	}
	g, effects := mustApply(t, g, Evaluated{Evaluation: good()})
	g, _ = mustApply(t, g, AdvanceDue{Gen: effects[0].(ScheduleAdvance).Gen})

	if g.Phase != domain.PhaseAsIs {
		t.Fatalf("phase = %s, want AS_IS", g.Phase)
	}
	if g.ShowNextPhase {
		t.Fatal("show-next-phase step should be skipped")
	}
}

func TestGateHostStageEntersLaterPhase(t *testing.T) {
	t.Parallel()

	g, effects := mustApply(t, NewGate(), HostStage{Stage: "STAKEHOLDER_QA"})
	want := []Effect{
		LoadGuidance{Stage: "STAKEHOLDER_QA"},
		PhaseEntered{From: domain.PhaseGreeting, To: domain.PhaseStakeholderQA},
	}
	if diff := cmp.Diff(want, effects); diff != "" {
		t.Fatalf("effects (-want +got):\n%s", diff)
	}
	if !g.AnalysisReady() {
		t.Fatal("entering Q&A directly should make analysis ready")
	}

	// Phases never move backwards.
	g, _ = mustApply(t, g, HostStage{Stage: "greeting"})
	if g.Phase != domain.PhaseStakeholderQA {
		t.Fatalf("phase moved back to %s", g.Phase)
	}

	// Unknown stages still load guidance.
	_, effects = mustApply(t, g, HostStage{Stage: "wrap_up"})
	if diff := cmp.Diff([]Effect{LoadGuidance{Stage: "wrap_up"}}, effects); diff != "" {
		t.Fatalf("effects (-want +got):\n%s", diff)
	}
}

func TestGateQuestionPhaseDoesNotAdvance(t *testing.T) {
	t.Parallel()

	g, _ := mustApply(t, NewGate(), HostStage{Stage: "qa"})
	g, _ = mustApply(t, g, TraineeMessage{ID: "q1", Text: "How does approval work?"})
	g, effects := mustApply(t, g, Evaluated{Evaluation: good()})
	if _, ok := effects[0].(QuestionAccepted); !ok {
		t.Fatalf("expected QuestionAccepted first, got %#v", effects)
	}
	g, effects = mustApply(t, g, AdvanceDue{Gen: effects[1].(ScheduleAdvance).Gen})
	if g.Phase != domain.PhaseStakeholderQA || g.Feedback != nil || len(effects) != 0 {
		t.Fatalf("q&a advance: phase=%s feedback=%v effects=%v", g.Phase, g.Feedback, effects)
	}
}

func TestAnalysisReadiness(t *testing.T) {
	t.Parallel()

	g := NewGate()
	if g.AnalysisReady() {
		t.Fatal("fresh gate should not be ready")
	}
	g.Completed[domain.PhaseProblemExploration] = true
	if g.AnalysisReady() {
		t.Fatal("problem exploration alone without show-next-phase should not be ready")
	}
	g.ShowNextPhase = true
	if !g.AnalysisReady() {
		t.Fatal("problem exploration + show-next-phase should be ready")
	}
	g = NewGate()
	g.Completed[domain.PhaseAsIs] = true
	if !g.AnalysisReady() {
		t.Fatal("as-is completed should be ready")
	}
}
