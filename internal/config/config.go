// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port             string        `env:"PORT"              envDefault:"8080"`
	FrontendURL      string        `env:"FRONTEND_URL"`
	DBPath           string        `env:"DB_PATH"           envDefault:"./data/coach.db"`
	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"720h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL"  envDefault:"1h"`

	Services  ServicesConfig
	Coach     CoachConfig
	RateLimit RateLimitConfig

	ConversationLog ConversationLogConfig
}

// ServicesConfig locates the external coaching collaborators.
type ServicesConfig struct {
	EvaluatorAddr    string        `env:"EVALUATOR_ADDR"`
	AnalysisURL      string        `env:"ANALYSIS_URL"`
	GuidanceURL      string        `env:"GUIDANCE_URL"`
	ConnectTimeout   time.Duration `env:"EVALUATOR_CONNECT_TIMEOUT" envDefault:"5s"`
	EvaluatorTimeout time.Duration `env:"EVALUATOR_TIMEOUT"         envDefault:"15s"`
	AnalysisTimeout  time.Duration `env:"ANALYSIS_TIMEOUT"          envDefault:"30s"`
	GuidanceTimeout  time.Duration `env:"GUIDANCE_TIMEOUT"          envDefault:"10s"`
}

// CoachConfig tunes coaching session timing.
type CoachConfig struct {
	AdvanceDelay    time.Duration `env:"ADVANCE_DELAY"    envDefault:"2s"`
	CompletionDelay time.Duration `env:"COMPLETION_DELAY" envDefault:"5s"`
	HistoryWindow   int           `env:"HISTORY_WINDOW"   envDefault:"10"`
}

// RateLimitConfig bounds trainee messages per user.
type RateLimitConfig struct {
	Messages int           `env:"RATE_LIMIT_MESSAGES" envDefault:"30"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW"   envDefault:"1m"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `env:"CONVERSATION_LOG_ENABLED"        envDefault:"true"`
	Dir           string `env:"CONVERSATION_LOG_DIR"            envDefault:"./data/logs/conversations"`
	GlobalEnabled bool   `env:"CONVERSATION_LOG_GLOBAL_ENABLED" envDefault:"false"`
	GlobalPath    string `env:"CONVERSATION_LOG_GLOBAL_PATH"    envDefault:"./data/logs/conversations/all.ndjson"`
	QueueSize     int    `env:"CONVERSATION_LOG_QUEUE_SIZE"     envDefault:"1000"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.SessionRetention <= 0 {
		return errors.New("SESSION_RETENTION must be > 0")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("CLEANUP_INTERVAL must be > 0")
	}
	if c.Services.AnalysisURL == "" {
		return errors.New("ANALYSIS_URL cannot be empty")
	}
	for name, d := range map[string]time.Duration{
		"EVALUATOR_CONNECT_TIMEOUT": c.Services.ConnectTimeout,
		"EVALUATOR_TIMEOUT":         c.Services.EvaluatorTimeout,
		"ANALYSIS_TIMEOUT":          c.Services.AnalysisTimeout,
		"GUIDANCE_TIMEOUT":          c.Services.GuidanceTimeout,
		"ADVANCE_DELAY":             c.Coach.AdvanceDelay,
		"COMPLETION_DELAY":          c.Coach.CompletionDelay,
		"RATE_LIMIT_WINDOW":         c.RateLimit.Window,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.Coach.HistoryWindow <= 0 {
		return errors.New("HISTORY_WINDOW must be > 0")
	}
	if c.RateLimit.Messages <= 0 {
		return errors.New("RATE_LIMIT_MESSAGES must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
