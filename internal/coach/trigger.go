package coach

import (
	"context"
	"errors"

	"github.com/ashureev/shsh-coach/internal/domain"
)

// WrapUpQuestion is published instead of a remote analysis once the session
// reaches MaxQuestions.
const WrapUpQuestion = "Thank you so much for your time today. Before we finish, is there anything else about this process you think I should know?"

// WrapUpAnalysis is the locally synthesized final analysis.
var WrapUpAnalysis = domain.StakeholderAnalysis{
	NextQuestion: WrapUpQuestion,
	Reasoning:    "The interview has covered the planned number of questions; close it politely and leave room for anything missed.",
	Technique:    "Closing",
}

// analysisToken identifies one dispatched analysis request. A result is only
// applied while its token is still the trigger's in-flight token.
type analysisToken struct {
	messageID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// dispatch describes what the caller must do after Fire.
type dispatch struct {
	token  *analysisToken // remote request to send; nil for a local wrap-up
	wrapUp bool
}

// resolution is the outcome of applying an analysis result.
type resolution int

const (
	resolutionStale resolution = iota
	resolutionFailed
	resolutionPublished
	resolutionWrapUp
)

// initialQuestionCounter is the counter value of a fresh session.
const initialQuestionCounter = 1

// maxAnalysisAttempts bounds requests for one stakeholder message. A failed
// message is retried once when it is observed again.
const maxAnalysisAttempts = 2

// AnalysisTrigger decides when stakeholder replies are analyzed and enforces
// single-flight dispatch. It is not safe for concurrent use; Session guards it.
type AnalysisTrigger struct {
	counter        int
	lastAnalyzedID string
	failedID       string
	failures       int
	inflight       *analysisToken
	current        *domain.StakeholderAnalysis
	complete       bool
}

func newAnalysisTrigger() AnalysisTrigger {
	return AnalysisTrigger{counter: initialQuestionCounter}
}

// Counter returns the number of analyzed exchanges.
func (t *AnalysisTrigger) Counter() int { return t.counter }

// Current returns the latest published analysis, or nil.
func (t *AnalysisTrigger) Current() *domain.StakeholderAnalysis { return t.current }

// InFlight reports whether a request is outstanding.
func (t *AnalysisTrigger) InFlight() bool { return t.inflight != nil }

// Complete reports whether the wrap-up has been issued.
func (t *AnalysisTrigger) Complete() bool { return t.complete }

// LastAnalyzedID returns the ID of the last stakeholder message analyzed.
func (t *AnalysisTrigger) LastAnalyzedID() string { return t.lastAnalyzedID }

// Restore seeds the trigger from persisted session state.
func (t *AnalysisTrigger) Restore(counter int, lastAnalyzedID string, complete bool) {
	t.counter = min(max(counter, initialQuestionCounter), MaxQuestions)
	t.lastAnalyzedID = lastAnalyzedID
	t.complete = complete || t.counter >= MaxQuestions
}

// Eligible reports whether newest should be analyzed now.
func (t *AnalysisTrigger) Eligible(newest *domain.Message, ready bool) bool {
	switch {
	case !ready || t.complete || newest == nil:
		return false
	case newest.Sender != domain.SenderStakeholder:
		return false
	case newest.ID == t.lastAnalyzedID:
		return false
	case newest.ID == t.failedID && t.failures >= maxAnalysisAttempts:
		return false
	case t.inflight != nil && t.inflight.messageID == newest.ID:
		return false
	}
	return true
}

// Fire supersedes any in-flight request and claims msgID. When the next
// exchange would reach MaxQuestions the wrap-up is published immediately and
// no remote request is needed.
func (t *AnalysisTrigger) Fire(parent context.Context, msgID string) dispatch {
	t.cancelInflight()

	if t.counter+1 >= MaxQuestions {
		t.finish(msgID)
		return dispatch{wrapUp: true}
	}

	ctx, cancel := context.WithCancel(parent)
	t.inflight = &analysisToken{messageID: msgID, ctx: ctx, cancel: cancel}
	return dispatch{token: t.inflight}
}

// Resolve applies the result of the request identified by tok.
func (t *AnalysisTrigger) Resolve(tok *analysisToken, analysis domain.StakeholderAnalysis, err error) resolution {
	if tok == nil || tok != t.inflight {
		return resolutionStale
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && tok.ctx.Err() != nil {
			return resolutionStale
		}
		t.inflight = nil
		t.recordFailure(tok.messageID)
		tok.cancel()
		return resolutionFailed
	}

	t.inflight = nil
	tok.cancel()
	if t.counter+1 >= MaxQuestions {
		t.finish(tok.messageID)
		return resolutionWrapUp
	}
	t.counter++
	t.lastAnalyzedID = tok.messageID
	t.current = &analysis
	return resolutionPublished
}

func (t *AnalysisTrigger) recordFailure(msgID string) {
	if msgID != t.failedID {
		t.failedID, t.failures = msgID, 0
	}
	t.failures++
}

// RecordExchange counts a trainee question accepted outside the stakeholder
// path. It reports whether that exchange completed the session.
func (t *AnalysisTrigger) RecordExchange() bool {
	if t.complete {
		return false
	}
	if t.counter+1 >= MaxQuestions {
		t.cancelInflight()
		t.finish(t.lastAnalyzedID)
		return true
	}
	t.counter++
	return false
}

// Cancel aborts any in-flight request.
func (t *AnalysisTrigger) Cancel() {
	t.cancelInflight()
}

func (t *AnalysisTrigger) finish(msgID string) {
	t.counter = MaxQuestions
	t.lastAnalyzedID = msgID
	t.complete = true
	wrap := WrapUpAnalysis
	t.current = &wrap
}

func (t *AnalysisTrigger) cancelInflight() {
	if t.inflight != nil {
		t.inflight.cancel()
		t.inflight = nil
	}
}
