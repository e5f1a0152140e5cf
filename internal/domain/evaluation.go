package domain

import (
	"fmt"
	"strings"
)

// Verdict classifies a trainee message.
type Verdict string

const (
	// VerdictGood lets the trainee continue.
	VerdictGood Verdict = "GOOD"
	// VerdictAmber requires acknowledgement before continuing.
	VerdictAmber Verdict = "AMBER"
	// VerdictOutOfScope marks a message unrelated to the session subject.
	VerdictOutOfScope Verdict = "OUT_OF_SCOPE"
)

// ParseVerdict normalises a verdict string from an external evaluator.
func ParseVerdict(s string) (Verdict, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch Verdict(norm) {
	case VerdictGood, VerdictAmber, VerdictOutOfScope:
		return Verdict(norm), nil
	case "OOS":
		return VerdictOutOfScope, nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// Blocking reports whether the verdict gates further input.
func (v Verdict) Blocking() bool {
	return v != VerdictGood
}

// Evaluation is the feedback for a single trainee message.
type Evaluation struct {
	Verdict          Verdict `json:"verdict"`
	Message          string  `json:"message"`
	SuggestedRewrite string  `json:"suggested_rewrite,omitempty"`
	Reasoning        string  `json:"reasoning"`
	Technique        string  `json:"technique"`
}

// Guidance describes what a stage is about and how to approach it.
type Guidance struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Why         string   `json:"why"`
	How         string   `json:"how"`
	Examples    []string `json:"examples"`
}

// StakeholderAnalysis suggests the trainee's next question after a stakeholder reply.
type StakeholderAnalysis struct {
	NextQuestion string   `json:"next_question"`
	Reasoning    string   `json:"reasoning"`
	Technique    string   `json:"technique"`
	Insights     []string `json:"insights,omitempty"`
	PainPoints   []string `json:"pain_points,omitempty"`
	Blockers     []string `json:"blockers,omitempty"`
}
