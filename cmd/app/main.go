package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	json "github.com/goccy/go-json"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/othala/internal"
	"github.com/starford/othala/internal/docpath"
	"github.com/starford/othala/internal/document"
	"github.com/starford/othala/internal/issuer"
	pkgconfig "github.com/starford/othala/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// loadOptionalConfig is used by one-shot commands, which work on defaults
// when no config file exists.
func loadOptionalConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadOptionalConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

// withStack runs fn against a pipeline whose logs go to stderr, keeping
// stdout for command output.
func withStack(cmd *cli.Command, fn func(*internal.Stack) error) error {
	cfg, err := loadOptionalConfig(cmd)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(cfg.App, os.Stderr)
	stack, err := internal.NewStack(cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

func readQuery(src string, stdin io.Reader) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func urlOptions(cmd *cli.Command) []docpath.URLOption {
	if host := cmd.String("host"); host != "" {
		return []docpath.URLOption{docpath.WithHost(host)}
	}
	return nil
}

func create(ctx context.Context, cmd *cli.Command) error {
	query, err := readQuery(cmd.String("query"), os.Stdin)
	if err != nil {
		return err
	}
	var opts []document.CreateOption
	if raw := cmd.String("identifier"); raw != "" {
		id, err := issuer.ParseIdentifier(raw)
		if err != nil {
			return err
		}
		opts = append(opts, document.WithIdentifier(id))
	}

	return withStack(cmd, func(s *internal.Stack) error {
		res, err := s.Service.CreateDocument(ctx, cmd.String("kind"), query, opts...)
		if err != nil {
			return err
		}
		id := res.Artifact.Identifier
		return printJSON(cmd.Root().Writer, map[string]any{
			"request_id":  res.RequestID,
			"document_id": id.String(),
			"path":        res.Artifact.Path,
			"url":         s.Service.GetDocumentURL(id, urlOptions(cmd)...),
			"context":     res.Context.Values,
		})
	})
}

func regenerate(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		res, err := s.Service.Regenerate(ctx, cmd.String("request"))
		if err != nil {
			return err
		}
		return printJSON(cmd.Root().Writer, map[string]any{
			"request_id":  res.RequestID,
			"document_id": res.Artifact.Identifier.String(),
			"path":        res.Artifact.Path,
			"checksum":    res.Artifact.Checksum,
		})
	})
}

func listKinds(_ context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		return printJSON(cmd.Root().Writer, s.Service.Kinds())
	})
}

func main() {
	cmd := &cli.Command{
		Name:   "othala",
		Usage:  "Schema-driven PDF document issuer",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "create",
				Usage:  "Issue one document and print its identifiers",
				Action: create,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Qualified kind or unambiguous short name", Required: true},
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "JSON query file, - for stdin", Value: "-"},
					&cli.StringFlag{Name: "identifier", Usage: "Document identifier (UUID); random when empty"},
					&cli.StringFlag{Name: "host", Usage: "Host making the printed URL absolute"},
				},
			},
			{
				Name:   "regenerate",
				Usage:  "Render a logged request again under its identifier",
				Action: regenerate,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "request", Aliases: []string{"r"}, Usage: "Request ID", Required: true},
				},
			},
			{
				Name:   "kinds",
				Usage:  "List issuable kinds and their query fields",
				Action: listKinds,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools over stdio",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
