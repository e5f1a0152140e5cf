package domain

// AnalysisContext carries the phase flags that made a stakeholder message eligible for analysis.
type AnalysisContext struct {
	Phase                  Phase `json:"phase"`
	ProblemExplorationDone bool  `json:"problem_exploration_done"`
	ShowNextPhase          bool  `json:"show_next_phase"`
	AsIsDone               bool  `json:"as_is_done"`
	QuestionCounter        int   `json:"question_counter"`
}

// AnalysisRequest asks the analysis service for the trainee's next question.
type AnalysisRequest struct {
	Transcript          string          `json:"transcript"`
	Context             AnalysisContext `json:"context"`
	ConversationHistory []string        `json:"conversation_history"`
}
