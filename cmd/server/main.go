// Coaching gate server: hosts stakeholder-interview coaching sessions over WebSocket.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/shsh-coach/internal/agent"
	"github.com/ashureev/shsh-coach/internal/api"
	"github.com/ashureev/shsh-coach/internal/bridge"
	"github.com/ashureev/shsh-coach/internal/coach"
	"github.com/ashureev/shsh-coach/internal/config"
	"github.com/ashureev/shsh-coach/internal/domain"
	"github.com/ashureev/shsh-coach/internal/identity"
	"github.com/ashureev/shsh-coach/internal/middleware"
	"github.com/ashureev/shsh-coach/internal/retention"
	"github.com/ashureev/shsh-coach/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected")

	services, err := agent.Dial(agent.ServicesConfig{
		EvaluatorAddr:  cfg.Services.EvaluatorAddr,
		AnalysisURL:    cfg.Services.AnalysisURL,
		GuidanceURL:    cfg.Services.GuidanceURL,
		ConnectTimeout: cfg.Services.ConnectTimeout,
		RequestTimeout: 2 * cfg.Services.AnalysisTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Coaching collaborators shared by every session.
	evaluators := make(map[domain.Phase]coach.EvaluatorService)
	if services.Evaluator != nil {
		// The Q&A phase is judged by the local question classifier only.
		for p := domain.PhaseGreeting; p < domain.PhaseStakeholderQA; p++ {
			evaluators[p] = services.Evaluator.ForPhase(p)
		}
	}
	var guidanceSvc coach.GuidanceService
	if services.Guidance != nil {
		guidanceSvc = services.Guidance
	}
	guidance := coach.NewGuidanceCache(guidanceSvc, cfg.Services.GuidanceTimeout, logger)

	newSession := bridge.NewSessionFactory(coach.Config{
		AdvanceDelay:    cfg.Coach.AdvanceDelay,
		CompletionDelay: cfg.Coach.CompletionDelay,
		AnalysisTimeout: cfg.Services.AnalysisTimeout,
		HistoryWindow:   cfg.Coach.HistoryWindow,
	}, coach.Deps{
		Evaluator: coach.NewEvaluatorAdapter(evaluators, cfg.Services.EvaluatorTimeout, logger),
		Analysis:  services.Analysis,
		Guidance:  guidance,
		Logger:    logger,
	})

	sm := bridge.NewSessionManager()
	limiter := bridge.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, services, sm)
	healthHandler := api.NewHealthHandler(baseHandler, sm)
	coachHandler := api.NewCoachHandler(baseHandler, api.ClientConfig{
		AdvanceDelay:    cfg.Coach.AdvanceDelay,
		CompletionDelay: cfg.Coach.CompletionDelay,
	})
	wsHandler := bridge.NewWebSocketHandler(repo, sm, newSession, limiter, conversationLogger, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Public routes.
	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		coachHandler.RegisterRoutes(r)
		r.Get("/ws/coach", wsHandler.ServeHTTP)
	})

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		guidance.Preload(gctx,
			domain.PhaseGreeting.Stage(),
			domain.PhaseProblemExploration.Stage(),
			domain.PhaseAsIs.Stage(),
			domain.PhaseStakeholderQA.Stage(),
		)
		return nil
	})

	worker := &retention.Worker{
		Repo:      repo,
		Interval:  cfg.CleanupInterval,
		Retention: cfg.SessionRetention,
		OnExpire:  sm.CloseSession,
		Logger:    logger,
	}
	g.Go(func() error { return worker.Run(gctx) })

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Hijacked WebSocket connections are not closed by Shutdown.
		sm.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
