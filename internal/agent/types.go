// Package agent implements clients for the coaching collaborators: the rubric
// evaluator, the stakeholder analysis service and the guidance service.
package agent

import (
	"github.com/ashureev/shsh-coach/internal/domain"
)

// analysisContext is the wire form of domain.AnalysisContext.
type analysisContext struct {
	Phase                  string `json:"phase"`
	ProblemExplorationDone bool   `json:"problemExplorationCompleted"`
	ShowNextPhase          bool   `json:"showNextPhase"`
	AsIsDone               bool   `json:"asIsCompleted"`
	QuestionCounter        int    `json:"questionCounter"`
}

// analysisRequest is the body posted to the analysis service.
type analysisRequest struct {
	Transcript          string          `json:"transcript"`
	Context             analysisContext `json:"context"`
	ConversationHistory []string        `json:"conversationHistory"`
}

func analysisRequestFromDomain(r domain.AnalysisRequest) analysisRequest {
	history := r.ConversationHistory
	if history == nil {
		history = []string{}
	}
	return analysisRequest{
		Transcript: r.Transcript,
		Context: analysisContext{
			Phase:                  r.Context.Phase.String(),
			ProblemExplorationDone: r.Context.ProblemExplorationDone,
			ShowNextPhase:          r.Context.ShowNextPhase,
			AsIsDone:               r.Context.AsIsDone,
			QuestionCounter:        r.Context.QuestionCounter,
		},
		ConversationHistory: history,
	}
}

// analysisPayload is the wire form of domain.StakeholderAnalysis.
type analysisPayload struct {
	NextQuestion string   `json:"nextQuestion"`
	Reasoning    string   `json:"reasoning"`
	Technique    string   `json:"technique"`
	Insights     []string `json:"insights,omitempty"`
	PainPoints   []string `json:"painPoints,omitempty"`
	Blockers     []string `json:"blockers,omitempty"`
}

type analysisResponse struct {
	Analysis analysisPayload `json:"analysis"`
}

func (p analysisPayload) toDomain() domain.StakeholderAnalysis {
	return domain.StakeholderAnalysis{
		NextQuestion: p.NextQuestion,
		Reasoning:    p.Reasoning,
		Technique:    p.Technique,
		Insights:     p.Insights,
		PainPoints:   p.PainPoints,
		Blockers:     p.Blockers,
	}
}

// guidancePayload is the wire form of domain.Guidance.
type guidancePayload struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Why         string   `json:"why"`
	How         string   `json:"how"`
	Examples    []string `json:"examples"`
}

func (p guidancePayload) toDomain() domain.Guidance {
	return domain.Guidance{
		Title:       p.Title,
		Description: p.Description,
		Why:         p.Why,
		How:         p.How,
		Examples:    p.Examples,
	}
}
