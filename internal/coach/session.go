// Package coach drives a stakeholder-interview coaching session: it gates
// trainee messages on rubric feedback, advances through the interview phases,
// and requests next-question analysis after stakeholder replies.
package coach

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/shsh-coach/internal/domain"
)

// Session defaults.
const (
	DefaultAdvanceDelay    = 2 * time.Second
	DefaultCompletionDelay = 5 * time.Second
	DefaultAnalysisTimeout = 30 * time.Second
	DefaultHistoryWindow   = 10
)

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("coaching session closed")
	// ErrNoSuggestion is returned when no analysis has suggested a question yet.
	ErrNoSuggestion = errors.New("no suggested question available")
)

// AnalysisService suggests the trainee's next question after a stakeholder reply.
type AnalysisService interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (domain.StakeholderAnalysis, error)
}

// Config holds per-session settings.
type Config struct {
	SessionID       string
	ProjectName     string
	AdvanceDelay    time.Duration
	CompletionDelay time.Duration
	AnalysisTimeout time.Duration
	// HistoryWindow is how many recent trainee messages accompany an
	// analysis request.
	HistoryWindow int
	// Resume restores phase and counter from a persisted session.
	Resume *domain.CoachingSession
}

// Deps are the collaborators of a session.
type Deps struct {
	Evaluator *EvaluatorAdapter
	Analysis  AnalysisService
	Guidance  *GuidanceCache
	Bridge    HostBridge
	Logger    *slog.Logger
}

// Session is one trainee's coaching session. All state transitions happen
// under mu; collaborator calls run on goroutines with mu released and
// re-enter through it.
type Session struct {
	cfg       Config
	evaluator *EvaluatorAdapter
	analysis  AnalysisService
	guidance  *GuidanceCache
	logger    *slog.Logger
	out       *outbox

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.Mutex
	closed          bool
	gate            Gate
	trigger         AnalysisTrigger
	history         []domain.Message
	lastEvaluatedID string
	hostStage       string
	timers          map[*time.Timer]struct{}
	completeSent    bool
}

// NewSession creates a session and starts delivering bridge notifications.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if deps.Evaluator == nil {
		return nil, errors.New("coach: evaluator adapter is required")
	}
	if deps.Analysis == nil {
		return nil, errors.New("coach: analysis service is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Guidance == nil {
		deps.Guidance = NewGuidanceCache(nil, 0, deps.Logger)
	}
	if deps.Bridge == nil {
		deps.Bridge = NopBridge{}
	}
	if cfg.AdvanceDelay <= 0 {
		cfg.AdvanceDelay = DefaultAdvanceDelay
	}
	if cfg.CompletionDelay <= 0 {
		cfg.CompletionDelay = DefaultCompletionDelay
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		evaluator: deps.Evaluator.WithProject(cfg.ProjectName),
		analysis:  deps.Analysis,
		guidance:  deps.Guidance,
		logger:    deps.Logger.With("session_id", cfg.SessionID),
		out:       newOutbox(deps.Bridge),
		ctx:       ctx,
		cancel:    cancel,
		gate:      NewGate(),
		trigger:   newAnalysisTrigger(),
		timers:    make(map[*time.Timer]struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r := cfg.Resume; r != nil {
		if r.Phase > domain.PhaseGreeting {
			if err := s.apply(HostStage{Stage: r.Phase.Stage()}); err != nil {
				s.logger.Warn("[COACH] Failed to restore phase", "phase", r.Phase.String(), "error", err)
			}
		}
		s.trigger.Restore(r.QuestionCounter, r.LastAnalyzedID, r.Completed)
		s.completeSent = s.trigger.Complete()
	}
	s.loadGuidance(s.gate.Phase.Stage())
	s.notifyState()

	s.logger.Info("[COACH] Session started",
		"project", cfg.ProjectName,
		"phase", s.gate.Phase.String(),
		"question_counter", s.trigger.Counter(),
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.SessionID }

// Observe supplies the latest conversation history. History is append-only;
// re-observing an unchanged history has no effect.
func (s *Session) Observe(history []domain.Message) error {
	cp := make([]domain.Message, len(history))
	copy(cp, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.history = cp
	s.runWatchers()
	return nil
}

// SetStage records the stage the host is currently showing.
func (s *Session) SetStage(stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.hostStage = stage
	if err := s.apply(HostStage{Stage: stage}); err != nil {
		return err
	}
	s.runWatchers()
	return nil
}

// Acknowledge dismisses blocking feedback without using the rewrite.
func (s *Session) Acknowledge() error {
	return s.clearBlocked(Acknowledge{})
}

// AcceptRewrite dismisses blocking feedback and hands the suggested rewrite
// to the host input.
func (s *Session) AcceptRewrite() error {
	return s.clearBlocked(AcceptRewrite{})
}

func (s *Session) clearBlocked(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.apply(e); err != nil {
		return err
	}
	s.runWatchers()
	return nil
}

// AskSuggestedQuestion submits the current suggested question on the
// trainee's behalf and returns it.
func (s *Session) AskSuggestedQuestion() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	if s.gate.Status == StatusFeedbackBlocked {
		return "", ErrInputLocked
	}
	current := s.trigger.Current()
	if current == nil || current.NextQuestion == "" {
		return "", ErrNoSuggestion
	}
	q := current.NextQuestion
	s.out.push(func(b HostBridge) { b.OnSubmitMessage(q) })
	return q, nil
}

// Snapshot returns a copy of the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close cancels outstanding work, stops timers and waits for queued bridge
// notifications to be delivered.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	s.trigger.Cancel()
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
	}
	s.timers = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.out.close()
	s.logger.Info("[COACH] Session closed")
}

// apply runs a gate transition and its effects. Caller holds mu.
func (s *Session) apply(e Event) error {
	next, effects, err := s.gate.Apply(e)
	if err != nil {
		return err
	}
	s.gate = next
	for _, eff := range effects {
		s.execute(eff)
	}
	s.notifyState()
	return nil
}

func (s *Session) execute(eff Effect) {
	switch eff := eff.(type) {
	case StartEvaluation:
		s.startEvaluation(eff.Phase, eff.Text)
	case ScheduleAdvance:
		gen := eff.Gen
		s.after(s.cfg.AdvanceDelay, func() {
			_ = s.apply(AdvanceDue{Gen: gen})
			s.runWatchers()
		})
	case LockChanged:
		locked := eff.Locked
		s.out.push(func(b HostBridge) { b.OnAcknowledgementStateChange(locked) })
	case SuggestRewrite:
		text := eff.Text
		s.out.push(func(b HostBridge) { b.OnSuggestedRewrite(text) })
	case LoadGuidance:
		s.loadGuidance(eff.Stage)
	case PhaseEntered:
		s.logger.Info("[COACH] Phase entered", "from", eff.From.String(), "to", eff.To.String())
	case FeedbackAcknowledged:
		s.logger.Info("[GATE] Feedback acknowledged",
			"status", StatusAcknowledged.String(),
			"verdict", string(eff.Verdict),
			"accepted_rewrite", eff.Accepted,
		)
	case QuestionAccepted:
		if s.trigger.RecordExchange() {
			s.scheduleCompletion()
		}
	}
}

// runWatchers reacts to the newest message. Caller holds mu.
func (s *Session) runWatchers() {
	newest := domain.Newest(s.history)
	if newest == nil {
		return
	}
	switch newest.Sender {
	case domain.SenderTrainee:
		s.watchTrainee(*newest)
	case domain.SenderStakeholder:
		s.watchStakeholder(*newest)
	}
}

func (s *Session) watchTrainee(m domain.Message) {
	if m.ID == s.lastEvaluatedID || strings.TrimSpace(m.Content) == "" {
		return
	}
	// Claim the message before applying so effects observe it as handled.
	prev := s.lastEvaluatedID
	s.lastEvaluatedID = m.ID
	if err := s.apply(TraineeMessage{ID: m.ID, Text: m.Content}); err != nil {
		s.lastEvaluatedID = prev
		s.logger.Debug("[GATE] Trainee message deferred",
			"message_id", m.ID,
			"status", s.gate.Status.String(),
			"reason", err,
		)
	}
}

func (s *Session) watchStakeholder(m domain.Message) {
	if !s.trigger.Eligible(&m, s.gate.AnalysisReady()) {
		return
	}

	d := s.trigger.Fire(s.ctx, m.ID)
	if d.wrapUp {
		s.logger.Info("[ANALYSIS] Question limit reached, publishing wrap-up", "message_id", m.ID)
		s.scheduleCompletion()
		s.notifyState()
		return
	}

	req := domain.AnalysisRequest{
		Transcript: m.Content,
		Context: domain.AnalysisContext{
			Phase:                  s.gate.Phase,
			ProblemExplorationDone: s.gate.Completed[domain.PhaseProblemExploration],
			ShowNextPhase:          s.gate.ShowNextPhase,
			AsIsDone:               s.gate.Completed[domain.PhaseAsIs],
			QuestionCounter:        s.trigger.Counter(),
		},
		ConversationHistory: domain.RecentFrom(s.history, domain.SenderTrainee, s.cfg.HistoryWindow),
	}
	tok := d.token
	s.logger.Info("[ANALYSIS] Requesting next question",
		"message_id", m.ID,
		"question_counter", req.Context.QuestionCounter,
	)
	s.notifyState()

	s.spawn(func() {
		callCtx, cancel := context.WithTimeout(tok.ctx, s.cfg.AnalysisTimeout)
		analysis, err := s.analysis.Analyze(callCtx, req)
		cancel()

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.resolveAnalysis(tok, analysis, err)
	})
}

func (s *Session) resolveAnalysis(tok *analysisToken, analysis domain.StakeholderAnalysis, err error) {
	switch s.trigger.Resolve(tok, analysis, err) {
	case resolutionStale:
		s.logger.Debug("[ANALYSIS] Discarding superseded result", "message_id", tok.messageID)
		return
	case resolutionFailed:
		s.logger.Warn("[ANALYSIS] Request failed", "message_id", tok.messageID, "error", err)
	case resolutionPublished:
		s.logger.Info("[ANALYSIS] Published next question",
			"message_id", tok.messageID,
			"question_counter", s.trigger.Counter(),
		)
	case resolutionWrapUp:
		s.logger.Info("[ANALYSIS] Question limit reached, publishing wrap-up", "message_id", tok.messageID)
		s.scheduleCompletion()
	}
	s.notifyState()
}

func (s *Session) startEvaluation(phase domain.Phase, text string) {
	s.spawn(func() {
		eval := s.evaluator.Evaluate(s.ctx, phase, text)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		s.logger.Info("[GATE] Evaluated trainee message",
			"phase", phase.String(),
			"verdict", string(eval.Verdict),
		)
		if err := s.apply(Evaluated{Evaluation: eval}); err != nil {
			s.logger.Warn("[GATE] Dropping evaluation", "error", err)
			return
		}
		s.runWatchers()
	})
}

func (s *Session) loadGuidance(stage string) {
	if _, ok := s.guidance.Cached(stage); ok {
		return
	}
	s.spawn(func() {
		if _, ok := s.guidance.Get(s.ctx, stage); !ok {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.closed && s.guidanceStage() == stage {
			s.notifyState()
		}
	})
}

// guidanceStage is the stage whose guidance is shown: the host's stage once
// the greeting is done, otherwise the gate's phase.
func (s *Session) guidanceStage() string {
	if s.hostStage != "" && s.gate.GreetingDone() {
		return s.hostStage
	}
	return s.gate.Phase.Stage()
}

func (s *Session) scheduleCompletion() {
	s.after(s.cfg.CompletionDelay, func() {
		if s.completeSent {
			return
		}
		s.completeSent = true
		s.logger.Info("[COACH] Session complete", "question_counter", s.trigger.Counter())
		s.out.push(func(b HostBridge) { b.OnSessionComplete() })
	})
}

func (s *Session) notifyState() {
	snap := s.snapshotLocked()
	s.out.push(func(b HostBridge) { b.OnStateChange(snap) })
}

func (s *Session) snapshotLocked() Snapshot {
	state := s.gate.State()
	if state.PendingFeedback != nil {
		fb := *state.PendingFeedback
		state.PendingFeedback = &fb
	}
	snap := Snapshot{
		SessionID:       s.cfg.SessionID,
		ProjectName:     s.cfg.ProjectName,
		Phase:           s.gate.Phase,
		Status:          s.gate.Status,
		Gate:            state,
		GreetingDone:    s.gate.GreetingDone(),
		ShowNextPhase:   s.gate.ShowNextPhase,
		QuestionCounter: s.trigger.Counter(),
		Progress:        Progress(s.gate.Phase, s.gate.GreetingDone(), s.trigger.Counter()),
		Analyzing:       s.trigger.InFlight(),
		LastAnalyzedID:  s.trigger.LastAnalyzedID(),
		GuidanceStage:   s.guidanceStage(),
		Complete:        s.trigger.Complete(),
	}
	if a := s.trigger.Current(); a != nil {
		cp := *a
		snap.Analysis = &cp
	}
	if g, ok := s.guidance.Cached(snap.GuidanceStage); ok {
		snap.Guidance = &g
	}
	return snap
}

// spawn runs fn on a goroutine that Close waits for. Caller holds mu.
func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// after runs fn under mu once d has elapsed, unless the session closes first.
// Caller holds mu.
func (s *Session) after(d time.Duration, fn func()) {
	s.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer s.wg.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		delete(s.timers, t)
		fn()
	})
	s.timers[t] = struct{}{}
}
