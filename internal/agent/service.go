package agent

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ServicesConfig locates the coaching collaborators.
type ServicesConfig struct {
	EvaluatorAddr   string
	AnalysisURL     string
	GuidanceURL     string
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	KeepaliveTime   time.Duration
	KeepaliveExpiry time.Duration
}

// Services bundles the collaborator clients used by a coaching session.
// Any client may be nil when its collaborator is not configured.
type Services struct {
	Evaluator *EvaluatorClient
	Analysis  *AnalysisClient
	Guidance  *GuidanceClient
}

// Dial connects to every configured collaborator. An unreachable evaluator is
// not fatal: sessions fall back to the local classifier.
func Dial(cfg ServicesConfig, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AnalysisURL == "" {
		return nil, fmt.Errorf("analysis service URL is required")
	}
	s := &Services{}

	if cfg.EvaluatorAddr != "" {
		ev, err := NewEvaluatorClient(EvaluatorClientConfig{
			Address:          cfg.EvaluatorAddr,
			ConnectTimeout:   cfg.ConnectTimeout,
			KeepaliveTime:    cfg.KeepaliveTime,
			KeepaliveTimeout: cfg.KeepaliveExpiry,
		}, logger)
		if err != nil {
			logger.Warn("Evaluator unavailable, using local classifier", "address", cfg.EvaluatorAddr, "error", err)
		} else {
			s.Evaluator = ev
		}
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	s.Analysis = NewAnalysisClient(cfg.AnalysisURL, httpClient, logger)
	if cfg.GuidanceURL != "" {
		s.Guidance = NewGuidanceClient(cfg.GuidanceURL, httpClient, logger)
	}
	return s, nil
}

// Stats reports which collaborators are connected.
type Stats struct {
	EvaluatorConnected bool `json:"evaluator_connected"`
	AnalysisConfigured bool `json:"analysis_configured"`
	GuidanceConfigured bool `json:"guidance_configured"`
}

// GetStats returns collaborator statistics.
func (s *Services) GetStats() Stats {
	return Stats{
		EvaluatorConnected: s.Evaluator != nil,
		AnalysisConfigured: s.Analysis != nil,
		GuidanceConfigured: s.Guidance != nil,
	}
}

// Close releases resources.
func (s *Services) Close() {
	if s.Evaluator != nil {
		s.Evaluator.Close()
	}
}
