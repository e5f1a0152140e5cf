package domain

import (
	"fmt"
	"strings"
)

// Phase is one step of a coaching session. Phases only move forward.
type Phase int

const (
	// PhaseGreeting is the opening introduction.
	PhaseGreeting Phase = iota
	// PhaseProblemExploration probes the stakeholder's problem.
	PhaseProblemExploration
	// PhaseAsIs maps the current process.
	PhaseAsIs
	// PhaseStakeholderQA is free-form questioning of the stakeholder.
	PhaseStakeholderQA
)

var phaseNames = [...]string{
	PhaseGreeting:           "GREETING",
	PhaseProblemExploration: "PROBLEM_EXPLORATION",
	PhaseAsIs:               "AS_IS",
	PhaseStakeholderQA:      "STAKEHOLDER_QA",
}

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Valid reports whether p is one of the four known phases.
func (p Phase) Valid() bool {
	return p >= PhaseGreeting && p <= PhaseStakeholderQA
}

// Next returns the following phase. The last phase is its own successor.
func (p Phase) Next() Phase {
	if p >= PhaseStakeholderQA {
		return PhaseStakeholderQA
	}
	return p + 1
}

// Stage returns the host-facing stage key for the phase.
func (p Phase) Stage() string {
	return strings.ToLower(p.String())
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, ok := ParsePhase(string(text))
	if !ok {
		return fmt.Errorf("unknown phase %q", text)
	}
	*p = parsed
	return nil
}

// ParsePhase maps a phase name or host stage key to a Phase.
// Matching ignores case and accepts '-' or ' ' in place of '_'.
func ParsePhase(s string) (Phase, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "GREETING":
		return PhaseGreeting, true
	case "PROBLEM_EXPLORATION", "PROBLEM":
		return PhaseProblemExploration, true
	case "AS_IS", "ASIS":
		return PhaseAsIs, true
	case "STAKEHOLDER_QA", "QA", "STAKEHOLDER":
		return PhaseStakeholderQA, true
	}
	return 0, false
}
