package coach

import (
	"errors"
	"fmt"

	"github.com/ashureev/shsh-coach/internal/domain"
)

var (
	// ErrEvaluationInFlight is returned when a trainee message arrives while
	// the previous one is still being evaluated.
	ErrEvaluationInFlight = errors.New("evaluation already in flight")
	// ErrInputLocked is returned when a trainee message arrives while blocking
	// feedback awaits acknowledgement.
	ErrInputLocked = errors.New("input locked until feedback is acknowledged")
	// ErrNotAwaitingAcknowledgement is returned by acknowledge/accept actions
	// when no blocking feedback is pending.
	ErrNotAwaitingAcknowledgement = errors.New("no feedback awaiting acknowledgement")
	// ErrNotEvaluating is returned when an evaluation result arrives with no
	// evaluation in flight.
	ErrNotEvaluating = errors.New("no evaluation in flight")
)

// GateStatus is the acknowledgement-gate position within the current phase.
type GateStatus int

const (
	// StatusIdle accepts the next trainee message.
	StatusIdle GateStatus = iota
	// StatusEvaluating has a trainee message out for evaluation.
	StatusEvaluating
	// StatusFeedbackGood shows positive feedback until the advance delay elapses.
	StatusFeedbackGood
	// StatusFeedbackBlocked shows AMBER/OUT_OF_SCOPE feedback and locks input.
	StatusFeedbackBlocked
	// StatusAcknowledged is never held: clearing blocked feedback reports it
	// through FeedbackAcknowledged and the gate returns to StatusIdle.
	StatusAcknowledged
)

func (s GateStatus) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusEvaluating:
		return "EVALUATING"
	case StatusFeedbackGood:
		return "FEEDBACK_GOOD"
	case StatusFeedbackBlocked:
		return "FEEDBACK_BLOCKED"
	case StatusAcknowledged:
		return "ACKNOWLEDGED"
	}
	return fmt.Sprintf("GateStatus(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s GateStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// GateState is the host-facing view of the gate.
type GateState struct {
	InputLocked             bool               `json:"input_locked"`
	AwaitingAcknowledgement bool               `json:"awaiting_acknowledgement"`
	PendingFeedback         *domain.Evaluation `json:"pending_feedback,omitempty"`
	IsEvaluating            bool               `json:"is_evaluating"`
}

// Gate is the coaching state machine. It is a value: Apply returns the next
// Gate together with the side effects the caller must perform.
type Gate struct {
	Phase         domain.Phase
	Status        GateStatus
	Feedback      *domain.Evaluation
	Completed     [domain.PhaseStakeholderQA + 1]bool
	ShowNextPhase bool

	hostPhase    domain.Phase
	hostPhaseSet bool
	advanceGen   uint64
}

// NewGate returns a gate idle in the greeting phase.
func NewGate() Gate {
	return Gate{Phase: domain.PhaseGreeting, Status: StatusIdle}
}

// State derives the host-facing gate state.
func (g Gate) State() GateState {
	blocked := g.Status == StatusFeedbackBlocked
	return GateState{
		InputLocked:             blocked,
		AwaitingAcknowledgement: blocked,
		PendingFeedback:         g.Feedback,
		IsEvaluating:            g.Status == StatusEvaluating,
	}
}

// GreetingDone reports whether the greeting phase has been passed.
func (g Gate) GreetingDone() bool {
	return g.Completed[domain.PhaseGreeting] || g.ShowNextPhase || g.Phase > domain.PhaseGreeting
}

// AnalysisReady reports whether stakeholder replies should be analyzed.
func (g Gate) AnalysisReady() bool {
	return (g.Completed[domain.PhaseProblemExploration] && g.ShowNextPhase) ||
		g.Completed[domain.PhaseAsIs]
}

// Event is an input to the gate.
type Event interface {
	isEvent()
}

// TraineeMessage is a new trainee message ready for evaluation.
type TraineeMessage struct {
	ID   string
	Text string
}

// Evaluated delivers the evaluator's verdict for the in-flight message.
type Evaluated struct {
	Evaluation domain.Evaluation
}

// AdvanceDue fires when the positive-feedback display delay has elapsed.
type AdvanceDue struct {
	Gen uint64
}

// AcceptRewrite is the trainee accepting the suggested rewrite.
type AcceptRewrite struct{}

// Acknowledge is the trainee dismissing blocking feedback.
type Acknowledge struct{}

// HostStage is the host announcing which stage it is showing.
type HostStage struct {
	Stage string
}

func (TraineeMessage) isEvent() {}
func (Evaluated) isEvent()      {}
func (AdvanceDue) isEvent()     {}
func (AcceptRewrite) isEvent()  {}
func (Acknowledge) isEvent()    {}
func (HostStage) isEvent()      {}

// Effect is a side effect requested by a transition.
type Effect interface {
	isEffect()
}

// StartEvaluation asks for Text to be evaluated against Phase's rubric.
type StartEvaluation struct {
	Phase domain.Phase
	Text  string
}

// ScheduleAdvance asks for AdvanceDue{Gen} after the display delay.
type ScheduleAdvance struct {
	Gen uint64
}

// LockChanged notifies the host that input was locked or unlocked.
type LockChanged struct {
	Locked bool
}

// SuggestRewrite asks the host to populate its input with Text.
type SuggestRewrite struct {
	Text string
}

// LoadGuidance asks for Stage's guidance to be loaded.
type LoadGuidance struct {
	Stage string
}

// PhaseEntered reports a phase change.
type PhaseEntered struct {
	From, To domain.Phase
}

// QuestionAccepted reports a GOOD trainee question in the Q&A phase.
type QuestionAccepted struct{}

// FeedbackAcknowledged reports the pass through ACKNOWLEDGED when the trainee
// clears blocking feedback.
type FeedbackAcknowledged struct {
	Verdict  domain.Verdict
	Accepted bool
}

func (StartEvaluation) isEffect()      {}
func (ScheduleAdvance) isEffect()      {}
func (LockChanged) isEffect()          {}
func (SuggestRewrite) isEffect()       {}
func (LoadGuidance) isEffect()         {}
func (PhaseEntered) isEffect()         {}
func (QuestionAccepted) isEffect()     {}
func (FeedbackAcknowledged) isEffect() {}

// Apply computes the transition for e. On error g is returned unchanged.
func (g Gate) Apply(e Event) (Gate, []Effect, error) {
	switch e := e.(type) {
	case TraineeMessage:
		return g.onTraineeMessage(e)
	case Evaluated:
		return g.onEvaluated(e)
	case AdvanceDue:
		return g.onAdvanceDue(e)
	case AcceptRewrite:
		return g.onClearBlocked(true)
	case Acknowledge:
		return g.onClearBlocked(false)
	case HostStage:
		return g.onHostStage(e)
	}
	return g, nil, fmt.Errorf("unknown gate event %T", e)
}

func (g Gate) onTraineeMessage(e TraineeMessage) (Gate, []Effect, error) {
	var effects []Effect
	switch g.Status {
	case StatusEvaluating:
		return g, nil, ErrEvaluationInFlight
	case StatusFeedbackBlocked:
		return g, nil, ErrInputLocked
	case StatusFeedbackGood:
		// A new message supersedes the positive feedback: finish its
		// display step now, then evaluate in the resulting phase.
		g, effects = g.advance()
	}

	g.Status = StatusEvaluating
	g.Feedback = nil
	effects = append(effects, StartEvaluation{Phase: g.Phase, Text: e.Text})
	return g, effects, nil
}

func (g Gate) onEvaluated(e Evaluated) (Gate, []Effect, error) {
	if g.Status != StatusEvaluating {
		return g, nil, ErrNotEvaluating
	}
	eval := e.Evaluation
	g.Feedback = &eval

	if eval.Verdict.Blocking() {
		g.Status = StatusFeedbackBlocked
		return g, []Effect{LockChanged{Locked: true}}, nil
	}

	g.Status = StatusFeedbackGood
	g.advanceGen++
	effects := []Effect{ScheduleAdvance{Gen: g.advanceGen}}
	if g.Phase == domain.PhaseStakeholderQA {
		effects = append([]Effect{QuestionAccepted{}}, effects...)
	} else {
		g.Completed[g.Phase] = true
	}
	return g, effects, nil
}

func (g Gate) onAdvanceDue(e AdvanceDue) (Gate, []Effect, error) {
	if g.Status != StatusFeedbackGood || e.Gen != g.advanceGen {
		// Superseded by a later message or already advanced.
		return g, nil, nil
	}
	next, effects := g.advance()
	return next, effects, nil
}

// advance clears positive feedback and moves one phase forward. The Q&A phase
// has no successor, so only the feedback is cleared there.
func (g Gate) advance() (Gate, []Effect) {
	g.Feedback = nil
	g.Status = StatusIdle
	from := g.Phase

	switch {
	case from == domain.PhaseStakeholderQA:
		return g, nil
	case from == domain.PhaseGreeting && g.hostPhaseSet && g.hostPhase == domain.PhaseAsIs:
		// The host already moved on to as-is mapping; skip showing the
		// intermediate phase.
		g.Phase = domain.PhaseAsIs
		g.ShowNextPhase = false
	default:
		g.Phase = from.Next()
		if from == domain.PhaseGreeting {
			g.ShowNextPhase = true
		}
	}

	return g, []Effect{
		PhaseEntered{From: from, To: g.Phase},
		LoadGuidance{Stage: g.Phase.Stage()},
	}
}

func (g Gate) onClearBlocked(accept bool) (Gate, []Effect, error) {
	if g.Status != StatusFeedbackBlocked || g.Feedback == nil {
		return g, nil, ErrNotAwaitingAcknowledgement
	}
	cleared := *g.Feedback
	rewrite := cleared.SuggestedRewrite

	g.Feedback = nil
	g.Status = StatusIdle

	effects := []Effect{FeedbackAcknowledged{Verdict: cleared.Verdict, Accepted: accept}}
	if accept && rewrite != "" {
		effects = append(effects, SuggestRewrite{Text: rewrite})
	}
	effects = append(effects, LockChanged{Locked: false})
	return g, effects, nil
}

func (g Gate) onHostStage(e HostStage) (Gate, []Effect, error) {
	effects := []Effect{LoadGuidance{Stage: e.Stage}}

	p, ok := domain.ParsePhase(e.Stage)
	if !ok {
		return g, effects, nil
	}
	g.hostPhase = p
	g.hostPhaseSet = true

	// The host may enter a later phase directly; phases only move forward
	// and never while an evaluation or feedback is outstanding.
	if p > g.Phase && g.Status == StatusIdle {
		from := g.Phase
		for skipped := from; skipped < p; skipped++ {
			g.Completed[skipped] = true
		}
		g.Phase = p
		g.ShowNextPhase = true
		effects = append(effects, PhaseEntered{From: from, To: p})
	}
	return g, effects, nil
}
