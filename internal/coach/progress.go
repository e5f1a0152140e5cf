package coach

import "github.com/ashureev/shsh-coach/internal/domain"

// MaxQuestions is the number of analyzed exchanges after which the session
// wraps up.
const MaxQuestions = 20

// Fixed progress percentages for the scripted phases.
const (
	progressGreetingDone = 7
	progressProblem      = 7
	progressAsIs         = 13
)

// Progress returns the session completion percentage in [0,100].
// It depends only on its arguments.
func Progress(phase domain.Phase, greetingDone bool, counter int) int {
	switch phase {
	case domain.PhaseGreeting:
		if greetingDone {
			return progressGreetingDone
		}
		return 0
	case domain.PhaseProblemExploration:
		return progressProblem
	case domain.PhaseAsIs:
		return progressAsIs
	case domain.PhaseStakeholderQA:
		counter = min(max(counter, 0), MaxQuestions)
		return (counter*100 + MaxQuestions/2) / MaxQuestions
	}
	return 0
}
