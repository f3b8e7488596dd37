// Package render expands a validated context through its template pair and
// compiles the result into a PDF.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/docpath"
	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/templates"
)

// Generator returns the creator string written into every PDF.
func Generator(version string) string {
	return "Othala, version " + version
}

// Expanded holds the two text blobs produced from a template pair.
type Expanded struct {
	Structure []byte
	Style     []byte
}

// Artifact is a persisted PDF.
type Artifact struct {
	Identifier issuer.Identifier `json:"identifier"`
	Name       string            `json:"name"`
	Path       string            `json:"path"`
	Size       int64             `json:"size"`
	Checksum   string            `json:"checksum"`
	Metadata   issuer.Metadata   `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Renderer turns contexts into persisted PDFs.
type Renderer struct {
	store     storage.Provider
	assets    *Assets
	generator string
	author    string
	logger    *slog.Logger
}

type Option func(*Renderer)

// WithAssets sets the image loader used for path references.
func WithAssets(a *Assets) Option {
	return func(r *Renderer) { r.assets = a }
}

// WithGenerator sets the creator string, see Generator.
func WithGenerator(g string) Option {
	return func(r *Renderer) { r.generator = g }
}

// WithAuthor is used when a kind describes no authors.
func WithAuthor(a string) Option {
	return func(r *Renderer) { r.author = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

func New(store storage.Provider, opts ...Option) *Renderer {
	r := &Renderer{
		store:     store,
		assets:    &Assets{},
		generator: Generator("dev"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render expands, compiles and persists c. ctx is checked between steps; once
// the write has started it runs to completion.
func (r *Renderer) Render(ctx context.Context, c *issuer.Context, pair templates.Pair) (*Artifact, error) {
	expanded, err := r.Expand(ctx, c, pair)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pdf, err := r.Compile(c, expanded)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Persist(c, pdf)
}

// Expand executes both templates against the context values. The same
// context always yields the same blobs.
func (r *Renderer) Expand(ctx context.Context, c *issuer.Context, pair templates.Pair) (Expanded, error) {
	if !c.Validated() {
		return Expanded{}, &apperr.MissingContextError{Kind: pair.Kind}
	}
	if pair.Structure == nil || pair.Style == nil {
		return Expanded{}, fmt.Errorf("render: %s: incomplete template pair", c.Kind)
	}

	var out Expanded
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Structure, err = execute(pair.Structure, c.Values)
		return err
	})
	g.Go(func() (err error) {
		out.Style, err = execute(pair.Style, c.Values)
		return err
	})
	if err := g.Wait(); err != nil {
		return Expanded{}, r.fail(c, false, err)
	}
	return out, nil
}

func execute(t *template.Template, data map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("expand %s: %w", t.Name(), err)
	}
	return buf.Bytes(), nil
}

// Compile parses the expanded blobs and draws the PDF.
func (r *Renderer) Compile(c *issuer.Context, e Expanded) ([]byte, error) {
	if !c.Validated() {
		return nil, &apperr.MissingContextError{}
	}
	layout, err := ParseLayout(e.Structure)
	if err != nil {
		return nil, r.fail(c, false, err)
	}
	style, err := ParseStyle(e.Style)
	if err != nil {
		return nil, r.fail(c, false, err)
	}
	pdf, err := Compile(layout, style, r.meta(c), r.assets)
	if err != nil {
		return nil, r.fail(c, !errors.Is(err, ErrUnsupportedText), err)
	}
	return pdf, nil
}

func (r *Renderer) meta(c *issuer.Context) Meta {
	md := c.Metadata()
	authors := md.Authors
	if len(authors) == 0 && r.author != "" {
		authors = []string{r.author}
	}
	return Meta{
		Title:    md.Title,
		Authors:  authors,
		Subject:  md.Description,
		Keywords: md.Keywords,
		Creator:  r.generator,
		Date:     c.CreatedAt,
	}
}

// Persist atomically writes pdf as {identifier}.pdf; the last write wins.
func (r *Renderer) Persist(c *issuer.Context, pdf []byte) (*Artifact, error) {
	if !c.Validated() {
		return nil, &apperr.MissingContextError{}
	}
	name := docpath.FileName(c.Identifier)
	if err := r.store.Write(name, pdf); err != nil {
		return nil, r.fail(c, true, err)
	}
	return &Artifact{
		Identifier: c.Identifier,
		Name:       name,
		Path:       docpath.New(r.store.Root(), "").Path(c.Identifier),
		Size:       int64(len(pdf)),
		Checksum:   storage.Checksum(pdf),
		Metadata:   c.Metadata(),
		CreatedAt:  c.CreatedAt,
	}, nil
}

func (r *Renderer) fail(c *issuer.Context, retryable bool, err error) error {
	r.logger.Error("render: failed",
		slog.String("kind", c.Kind),
		slog.String("identifier", c.Identifier.String()),
		slog.Bool("retryable", retryable),
		slog.String("error", err.Error()))
	return &apperr.RenderError{Kind: c.Kind, Identifier: c.Identifier.String(), Retryable: retryable, Err: err}
}
