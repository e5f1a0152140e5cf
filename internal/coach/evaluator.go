package coach

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/shsh-coach/internal/classifier"
	"github.com/ashureev/shsh-coach/internal/domain"
)

// DefaultEvaluatorTimeout bounds a single remote evaluation.
const DefaultEvaluatorTimeout = 15 * time.Second

// EvaluatorService judges trainee text against one phase's rubric.
type EvaluatorService interface {
	Evaluate(ctx context.Context, text string) (domain.Evaluation, error)
}

// EvaluatorAdapter picks the remote evaluator for a phase and falls back to
// the local classifier on any failure. Evaluate never fails.
type EvaluatorAdapter struct {
	evaluators  map[domain.Phase]EvaluatorService
	timeout     time.Duration
	projectName string
	logger      *slog.Logger
}

// NewEvaluatorAdapter creates an adapter over per-phase evaluators. Phases
// missing from evaluators are always classified locally.
func NewEvaluatorAdapter(evaluators map[domain.Phase]EvaluatorService, timeout time.Duration, logger *slog.Logger) *EvaluatorAdapter {
	if timeout <= 0 {
		timeout = DefaultEvaluatorTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[domain.Phase]EvaluatorService, len(evaluators))
	for p, svc := range evaluators {
		if svc != nil {
			m[p] = svc
		}
	}
	return &EvaluatorAdapter{evaluators: m, timeout: timeout, logger: logger}
}

// WithProject returns a copy of the adapter whose local Q&A fallback judges
// relevance against projectName.
func (a *EvaluatorAdapter) WithProject(projectName string) *EvaluatorAdapter {
	cp := *a
	cp.projectName = projectName
	return &cp
}

// Evaluate judges text for phase.
func (a *EvaluatorAdapter) Evaluate(ctx context.Context, phase domain.Phase, text string) domain.Evaluation {
	svc, ok := a.evaluators[phase]
	if !ok {
		return classifier.Classify(phase, text, a.projectName)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	eval, err := svc.Evaluate(callCtx, text)
	if err == nil {
		if v, perr := domain.ParseVerdict(string(eval.Verdict)); perr == nil && eval.Message != "" {
			eval.Verdict = v
			return eval
		}
		a.logger.Warn("[EVAL] Malformed evaluation, using local classifier",
			"phase", phase.String(),
			"verdict", string(eval.Verdict),
		)
		return classifier.Classify(phase, text, a.projectName)
	}

	a.logger.Warn("[EVAL] Remote evaluation failed, using local classifier",
		"phase", phase.String(),
		"error", err,
	)
	return classifier.Classify(phase, text, a.projectName)
}
