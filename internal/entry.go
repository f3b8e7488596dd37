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
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/api"
	"github.com/starford/othala/internal/document"
	"github.com/starford/othala/internal/mcpserver"
	"github.com/starford/othala/internal/sse"
)

func (a *application) logger() *slog.Logger {
	var w io.Writer = os.Stdout
	if a.logOutput != nil {
		w = a.logOutput
	}
	return NewLogger(a.config.App, w)
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger()
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("documents_root", cfg.Documents.Root),
		slog.String("media_url", cfg.Documents.MediaURL),
		slog.String("templates_root", cfg.Templates.Root),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("version", cfg.Issuers.Version),
		slog.String("log_level", cfg.App.LogLevel.String()))

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	stack, err := NewStack(cfg, logger, document.WithPublisher(broker))
	if err != nil {
		return err
	}
	defer stack.Close()

	// Restore documents whose files went missing while the service was down.
	if _, err := stack.Service.Reconcile(ctx); err != nil {
		logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health, metrics and media are unauthenticated.
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		pingCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		body := map[string]string{"status": "ok", "render": stack.Breaker.State().String()}
		if err := stack.Requests.Ping(pingCtx); err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			writeStatus(w, http.StatusServiceUnavailable, body)
			return
		}
		writeStatus(w, http.StatusOK, body)
	})
	r.Handle("/metrics", stack.Metrics.Handler())
	r.Mount(strings.TrimSuffix(cfg.Documents.MediaURL, "/"), api.NewMediaRouter(stack.Service))

	r.Mount("/api", api.NewRouter(stack.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Templates.Watch {
		g.Go(func() error {
			err := stack.Templates.Watch(gCtx, func(names []string) {
				logger.Info("templates changed", slog.Any("names", names))
				broker.PublishTemplates(names)
			})
			if err != nil {
				logger.Error("template watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Render.Timeout+5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// ServeMCP serves the MCP tools on stdin/stdout. Logs go to stderr unless
// redirected, since stdout carries the protocol.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.logger()
	slog.SetDefault(logger)

	stack, err := NewStack(app.config, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	logger.Info("Starting MCP server (stdio)", slog.String("version", app.config.Issuers.Version))
	return mcpserver.New(stack.Service, app.config.Issuers.Version).Serve(ctx, os.Stdin, os.Stdout)
}

func writeStatus(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
