// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/inkwell/internal/api"
	"github.com/starford/inkwell/internal/docservice"
	"github.com/starford/inkwell/internal/mcpserver"
	"github.com/starford/inkwell/internal/revlog"
	"github.com/starford/inkwell/internal/sse"
	"github.com/starford/inkwell/internal/storage"
	"github.com/starford/inkwell/internal/watcher"
)

// runtime is the wiring shared by the HTTP server and the MCP server.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	revs   *revlog.DB
	svc    *docservice.Service
}

func (rt *runtime) close() {
	rt.svc.Close()
	if err := rt.revs.Close(); err != nil {
		rt.logger.Warn("close revision log", slog.String("error", err.Error()))
	}
}

func setup(app *application, logOut io.Writer, pub docservice.Publisher) (*runtime, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		// Initialize structured JSON logger.
		logger = slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
			Level: cfg.App.LogLevel,
		}))
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("editor_mode", cfg.Editor.Mode),
		slog.String("ai_provider", cfg.AI.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	revs, err := revlog.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init revision log: %w", err)
	}

	collab := app.collab
	if collab == nil {
		collab = cfg.AI.Collaborator()
	}

	opts := []docservice.Option{
		docservice.WithSettings(cfg.Editor.Settings()),
		docservice.WithLogger(logger),
	}
	if pub != nil {
		opts = append(opts, docservice.WithPublisher(pub))
	}
	svc := docservice.NewService(store, revs, collab, opts...)

	return &runtime{cfg: cfg, logger: logger, revs: revs, svc: svc}, nil
}

// watch keeps open sessions in sync with the vault until ctx ends.
func (rt *runtime) watch(ctx context.Context) {
	err := watcher.Watch(ctx, rt.cfg.Vault.Path, watcher.DefaultDelay, rt.logger, rt.svc.HandleFileEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		rt.logger.Warn("vault watcher stopped", slog.String("error", err.Error()))
	}
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	// SSE broker.
	broker := sse.NewBroker(sse.DefaultProgressThrottle)
	defer broker.Close()

	rt, err := setup(app, os.Stdout, broker)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, logger := rt.cfg, rt.logger

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.revs.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Reload open sessions when their files change on disk.
	g.Go(func() error {
		rt.watch(gCtx)
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown ends the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdin/stdout. Logs go to stderr so they
// never interleave with the protocol stream.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	rt, err := setup(app, os.Stderr, nil)
	if err != nil {
		return err
	}
	defer rt.close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go rt.watch(watchCtx)

	rt.logger.Info("Serving MCP over stdio")
	if err := mcpserver.New(rt.svc).ServeStdio(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
