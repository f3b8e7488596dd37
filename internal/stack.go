package internal

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/starford/othala/internal/circuit"
	"github.com/starford/othala/internal/document"
	"github.com/starford/othala/internal/issuer/kinds"
	"github.com/starford/othala/internal/metrics"
	"github.com/starford/othala/internal/render"
	"github.com/starford/othala/internal/requests"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/templates"
)

// NewLogger builds the process logger from the app section.
func NewLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Stack is the issuing pipeline wired from configuration. The server and the
// one-shot commands share it.
type Stack struct {
	Service   *document.Service
	Templates *templates.Resolver
	Metrics   *metrics.Metrics
	Breaker   *circuit.Breaker
	Requests  *requests.DB
}

// NewStack opens the documents root and the request log and wires the
// document service. Extra options are applied after the configured ones.
func NewStack(cfg *Config, logger *slog.Logger, opts ...document.Option) (*Stack, error) {
	if err := os.MkdirAll(cfg.Documents.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create documents dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Documents.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	reg, err := kinds.Registry(cfg.Issuers.Enabled)
	if err != nil {
		return nil, fmt.Errorf("init issuers: %w", err)
	}

	assets, err := render.NewAssets(cfg.Render.AssetsRoot)
	if err != nil {
		return nil, fmt.Errorf("init assets: %w", err)
	}

	tplOpts := []templates.Option{
		templates.WithOverrides(cfg.Templates.Overrides),
		templates.WithLogger(logger),
	}
	if cfg.Templates.Root != "" {
		tplOpts = append(tplOpts, templates.WithRoot(cfg.Templates.Root))
	}
	resolver := templates.NewResolver(tplOpts...)

	renderer := render.New(store,
		render.WithAssets(assets),
		render.WithGenerator(render.Generator(cfg.Issuers.Version)),
		render.WithAuthor(cfg.Render.Author),
		render.WithLogger(logger),
	)

	db, err := requests.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init request log: %w", err)
	}

	m := metrics.New()
	breaker := circuit.New("render",
		circuit.WithFailureThreshold(cfg.Render.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.Render.SuccessThreshold),
		circuit.WithCooldown(cfg.Render.Cooldown),
	)

	svcOpts := append([]document.Option{
		document.WithRequestLog(db),
		document.WithMetrics(m),
		document.WithBreaker(breaker),
		document.WithWorkers(cfg.Render.Workers),
		document.WithTimeout(cfg.Render.Timeout),
		document.WithLogger(logger),
	}, opts...)

	return &Stack{
		Service:   document.New(reg, resolver, renderer, store, cfg.Documents.MediaURL, svcOpts...),
		Templates: resolver,
		Metrics:   m,
		Breaker:   breaker,
		Requests:  db,
	}, nil
}

// Close releases the request log.
func (s *Stack) Close() error {
	return s.Requests.Close()
}
