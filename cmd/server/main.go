// Budget Sentinel dashboard backend.
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

	"github.com/ashureev/budget-sentinel/internal/agent"
	"github.com/ashureev/budget-sentinel/internal/api"
	"github.com/ashureev/budget-sentinel/internal/config"
	"github.com/ashureev/budget-sentinel/internal/dashboard"
	"github.com/ashureev/budget-sentinel/internal/middleware"
	"github.com/ashureev/budget-sentinel/internal/realtime"
	"github.com/ashureev/budget-sentinel/internal/scheduler"
	"github.com/ashureev/budget-sentinel/internal/store"
	"github.com/ashureev/budget-sentinel/internal/workflow"
	"github.com/ashureev/budget-sentinel/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const startupSyncTimeout = 10 * time.Second

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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "agent_url", cfg.Agent.BaseURL)

	journal, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize call journal", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := journal.Close(); closeErr != nil {
			slog.Error("Failed to close call journal", "error", closeErr)
		}
	}()

	if err := journal.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Call journal ready", "path", cfg.DBPath)

	agentClient := agent.NewHTTPClient(cfg.Agent.BaseURL, agent.Timeouts{
		Status:  cfg.Agent.StatusTimeout,
		Default: cfg.Agent.Timeout,
		Long:    cfg.Agent.LongTimeout,
	}, journal, logger)

	clock := scheduler.SystemClock{}
	hub := realtime.NewHub(logger)
	state := dashboard.NewStore(clock, hub)
	sched := scheduler.New(clock, logger)

	svc := workflow.NewService(workflow.Deps{
		Agent:     agentClient,
		Store:     state,
		Scheduler: sched,
		Clock:     clock,
		Logger:    logger,
	}, cfg.Workflow, cfg.FallbackMode)

	syncCtx, cancelSync := context.WithTimeout(context.Background(), startupSyncTimeout)
	if err := svc.Sync(syncCtx); err != nil {
		slog.Warn("Initial dashboard sync failed, starting from fallback", "error", err, "fallback", cfg.FallbackMode)
		svc.SeedFallback()
	} else {
		slog.Info("Initial dashboard sync complete")
	}
	cancelSync()

	base := api.NewHandler(svc, logger)
	budgetHandler := api.NewBudgetHandler(base, cfg.Upload.MaxBytes)
	expenseHandler := api.NewExpenseHandler(base)
	agentsHandler := api.NewAgentsHandler(base, journal)
	dashboardHandler := api.NewDashboardHandler(base)
	wsHandler := realtime.NewWebSocketHandler(hub, state, cfg.AllowedOrigins(), cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.RequestIDHeader(func(r *http.Request) string {
		return chiMiddleware.GetReqID(r.Context())
	}))
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	r.Route("/api", func(r chi.Router) {
		budgetHandler.RegisterRoutes(r)
		expenseHandler.RegisterRoutes(r)
		agentsHandler.RegisterRoutes(r)
		dashboardHandler.RegisterRoutes(r)
	})

	r.Get("/ws/dashboard", wsHandler.ServeHTTP)

	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: websocket subscribers hold the connection open.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartPruneWorker(ctx, journal, cfg.JournalRetention)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		slog.Warn("Deferred tasks still running at shutdown", "error", err)
	}

	slog.Info("Server stopped successfully", "subscribers", hub.Count())
}
