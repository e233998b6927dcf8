// quired - collaborative note-taking engine daemon.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/quirelabs/quire/internal/api"
	"github.com/quirelabs/quire/internal/bus"
	"github.com/quirelabs/quire/internal/capture"
	"github.com/quirelabs/quire/internal/config"
	"github.com/quirelabs/quire/internal/export"
	"github.com/quirelabs/quire/internal/identity"
	"github.com/quirelabs/quire/internal/meeting"
	"github.com/quirelabs/quire/internal/middleware"
	"github.com/quirelabs/quire/internal/remote"
	"github.com/quirelabs/quire/internal/store"
	"github.com/quirelabs/quire/internal/summary"
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

	slog.Info("Starting quired",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"remote", cfg.RemoteEnabled())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	events := bus.NewEvents()
	defer events.Close()

	// Remote store client (optional; the engine runs local-only without it).
	var rem meeting.Remote
	if cfg.RemoteEnabled() {
		rem = remote.NewClient(cfg.RemoteBaseURL, logger)
		slog.Info("Remote store client initialized", "base_url", cfg.RemoteBaseURL)
	} else {
		slog.Info("Remote store disabled, documents stay local")
	}

	recognizer := capture.NewWSRecognizer(cfg.RecognizerURL, logger)
	slog.Info("Recognizer configured", "url", cfg.RecognizerURL, "locale", cfg.Locale)

	// Gemini polish for locally produced summaries (optional).
	polisher := summary.NewPolisher(cfg.GeminiAPIKeys, cfg.GeminiModel, logger)
	if polisher != nil {
		slog.Info("Gemini summary polish enabled", "model", cfg.GeminiModel)
	} else {
		slog.Info("Gemini summary polish disabled (no API keys)")
	}

	// Docx export of finalized meetings (optional).
	var exporter meeting.Exporter
	if cfg.ExportDir != "" {
		exporter = export.NewDocxWriter(cfg.ExportDir, logger)
		slog.Info("Docx export enabled", "dir", cfg.ExportDir)
	} else {
		slog.Info("Docx export disabled")
	}

	manager := meeting.NewManager(meeting.ManagerConfig{
		Store:            repo,
		Remote:           rem,
		Recognizer:       recognizer,
		Events:           events,
		Logger:           logger,
		Polisher:         polisher,
		Exporter:         exporter,
		Locale:           cfg.Locale,
		AudioDir:         filepath.Join(cfg.DataDir, "audio"),
		DebounceWait:     cfg.DebounceWait,
		SaveThrottle:     cfg.SaveThrottle,
		StatusRevert:     cfg.StatusRevert,
		SummaryInterval:  cfg.SummaryInterval,
		RestartDelay:     cfg.RestartDelay,
		IdleTTL:          cfg.MeetingIdleTTL,
		ArchiveRetention: cfg.ArchiveRetention,
	})

	// Initialize handlers.
	handler := api.NewHandler(manager)
	healthHandler := api.NewHealthHandler(repo)
	eventsWS := api.NewEventsHandler(events, cfg.AllowedOrigins, cfg.IsDevelopment())
	audioWS := api.NewAudioHandler(manager, cfg.AllowedOrigins, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	// WebSocket endpoints.
	r.Get("/ws/events", eventsWS.ServeHTTP)
	r.Get("/ws/meetings/{meetingID}/audio", audioWS.ServeHTTP)

	// WriteTimeout stays 0 so websocket streams are never cut mid-write.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reaper finalizes abandoned meetings and applies archive retention.
	manager.StartReaper(ctx)

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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Finalize running meetings and flush pending edits once the
	// listener has stopped accepting work.
	manager.Close(shutdownCtx)

	slog.Info("Server stopped successfully")
}
