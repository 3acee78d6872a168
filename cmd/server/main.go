// Carebot - Virtual Health Assistant Server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/carebot/internal/api"
	"github.com/ashureev/carebot/internal/assistant"
	"github.com/ashureev/carebot/internal/completion"
	"github.com/ashureev/carebot/internal/config"
	"github.com/ashureev/carebot/internal/domain"
	"github.com/ashureev/carebot/internal/identity"
	"github.com/ashureev/carebot/internal/middleware"
	"github.com/ashureev/carebot/internal/render"
	"github.com/ashureev/carebot/internal/session"
	"github.com/ashureev/carebot/internal/store"
	"github.com/ashureev/carebot/internal/stream"
	"github.com/ashureev/carebot/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.Store.Backend,
		"model", cfg.Completion.Model,
		"offline", cfg.Completion.Mock,
	)

	// Initialize dependencies.
	repo, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize transcript store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Transcript store health check failed", "error", err)
		os.Exit(1)
	}

	// Conversations never outlive the process that held them.
	purged, err := repo.Purge(context.Background())
	if err != nil {
		slog.Error("Failed to purge stale transcripts", "error", err)
		os.Exit(1)
	}
	slog.Info("Transcript store ready", "backend", cfg.Store.Backend, "turns_purged", purged)

	var client completion.Client
	if cfg.Completion.Mock {
		client = completion.NewScripted()
		slog.Warn("COMPLETION_MOCK enabled: replies are scripted and no provider is contacted")
	} else {
		client = completion.NewOpenAI(
			completion.WithBaseURL(cfg.Completion.BaseURL),
			completion.WithTimeout(cfg.Completion.Timeout),
		)
	}

	svc, err := assistant.NewService(client, domain.CompletionOptions{
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
	})
	if err != nil {
		slog.Error("Failed to initialize chat service", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := assistant.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	sessions := session.NewManager(repo)
	conns := stream.NewConnManager()
	renderer := render.New()

	// Initialize handlers.
	baseHandler := api.NewHandler(sessions, renderer, conns, cfg)
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, sessions)
	chatHandler := assistant.NewHandler(svc, sessions, renderer, conversationLogger, cfg)
	defer chatHandler.Close()
	wsHandler := stream.NewWebSocketHandler(svc, sessions, conns, stream.Options{
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		RateLimiter:   chatHandler.RateLimiter(),
		Logger:        conversationLogger,
		Renderer:      renderer,
		Reveal:        cfg.Reveal,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	sessionHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartTTLWorker(ctx, sessions, cfg.Session.SweepInterval, cfg.Session.TTL, conns.CloseSession)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	conns.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func openStore(cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreSQLite:
		return store.NewSQLite(cfg.SQLiteDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
