package coach

import (
	"testing"

	"github.com/ashureev/shsh-coach/internal/domain"
)

func TestProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		phase        domain.Phase
		greetingDone bool
		counter      int
		want         int
	}{
		{"greeting in progress", domain.PhaseGreeting, false, 1, 0},
		{"greeting done", domain.PhaseGreeting, true, 1, 7},
		{"problem exploration", domain.PhaseProblemExploration, true, 1, 7},
		{"as is", domain.PhaseAsIs, true, 4, 13},
		{"qa first question", domain.PhaseStakeholderQA, true, 1, 5},
		{"qa halfway", domain.PhaseStakeholderQA, true, 10, 50},
		{"qa three questions", domain.PhaseStakeholderQA, true, 3, 15},
		{"qa complete", domain.PhaseStakeholderQA, true, 20, 100},
		{"qa clamps high", domain.PhaseStakeholderQA, true, 25, 100},
		{"qa clamps low", domain.PhaseStakeholderQA, true, -3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Progress(tt.phase, tt.greetingDone, tt.counter)
			if got != tt.want {
				t.Fatalf("Progress(%s, %v, %d) = %d, want %d", tt.phase, tt.greetingDone, tt.counter, got, tt.want)
			}
			if again := Progress(tt.phase, tt.greetingDone, tt.counter); again != got {
				t.Fatalf("Progress not stable: %d then %d", got, again)
			}
		})
	}
}
