// Package document runs the issuing pipeline: validate the query, derive and
// validate the context, resolve templates, render and persist the PDF.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/circuit"
	"github.com/starford/othala/internal/docpath"
	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/metrics"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/render"
	"github.com/starford/othala/internal/requests"
	"github.com/starford/othala/internal/sse"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/templates"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultWorkers = 4
)

// Publisher receives document notifications.
type Publisher interface {
	PublishDocument(typ string, e sse.DocumentEvent)
}

// Result is the outcome of a successful CreateDocument or Regenerate.
type Result struct {
	RequestID string           `json:"request_id,omitempty"`
	Artifact  *render.Artifact `json:"artifact"`
	URL       string           `json:"url"`
	Context   *issuer.Context  `json:"-"`
	Query     map[string]any   `json:"-"`
}

// Preview is the expanded template pair of a context, before compilation.
type Preview struct {
	Kind       string            `json:"kind"`
	Identifier issuer.Identifier `json:"identifier"`
	Structure  string            `json:"structure"`
	Style      string            `json:"style"`
	Context    map[string]any    `json:"context"`
}

// Service coordinates the registry, templates, renderer and request log.
type Service struct {
	registry  *issuer.Registry
	templates *templates.Resolver
	renderer  *render.Renderer
	store     storage.Provider
	paths     docpath.Resolver

	log       requests.Log
	publisher Publisher
	metrics   *metrics.Metrics
	breaker   *circuit.Breaker
	pool      *semaphore.Weighted
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

// WithRequestLog records every created document; required by Regenerate.
func WithRequestLog(l requests.Log) Option {
	return func(s *Service) { s.log = l }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithWorkers bounds the number of concurrent renders.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pool = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithTimeout bounds one render (expand, compile and persist).
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces time.Now as the source of creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a document service. Paths are resolved under the store root.
func New(reg *issuer.Registry, resolver *templates.Resolver, renderer *render.Renderer, store storage.Provider, mediaURL string, opts ...Option) *Service {
	s := &Service{
		registry:  reg,
		templates: resolver,
		renderer:  renderer,
		store:     store,
		paths:     docpath.New(store.Root(), mediaURL),
		breaker:   circuit.New("render"),
		pool:      semaphore.NewWeighted(DefaultWorkers),
		timeout:   DefaultTimeout,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the kinds the service issues.
func (s *Service) Registry() *issuer.Registry {
	return s.registry
}

type createOptions struct {
	identifier issuer.Identifier
}

// CreateOption tunes a single CreateDocument call.
type CreateOption func(*createOptions)

// WithIdentifier renders under id instead of a fresh random identifier.
func WithIdentifier(id issuer.Identifier) CreateOption {
	return func(o *createOptions) { o.identifier = id }
}

// CreateDocument issues a document of kind from rawQuery (a map, a struct, or
// JSON as string, bytes or reader).
func (s *Service) CreateDocument(ctx context.Context, kind string, rawQuery any, opts ...CreateOption) (*Result, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	def, err := s.registry.Resolve(kind)
	if err != nil {
		return nil, err
	}

	id := o.identifier
	if id.IsZero() {
		id = issuer.NewIdentifier()
	} else if s.log != nil {
		if _, err := s.log.GetByDocument(ctx, id.String()); err == nil {
			return nil, fmt.Errorf("document: %s: %w", id, apperr.ErrConflict)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	c, err := s.issue(def, rawQuery, id)
	if err != nil {
		return nil, err
	}
	pair, err := s.templates.Resolve(def)
	if err != nil {
		return nil, err
	}
	art, err := s.render(ctx, c, pair)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Artifact: art,
		URL:      s.paths.URL(c.Identifier),
		Context:  c,
		Query:    c.Query,
	}
	if s.log != nil {
		rec, err := s.record(c, art)
		if err != nil {
			return nil, err
		}
		if err := s.log.Insert(ctx, rec); err != nil {
			return nil, err
		}
		res.RequestID = rec.ID
	}

	s.metrics.IncrementCreated(def.Kind)
	s.logger.Info("document: created",
		slog.String("kind", def.Kind),
		slog.String("identifier", c.Identifier.String()),
		slog.String("request_id", res.RequestID))
	s.publish(sse.DocumentCreated, def.Kind, res)
	return res, nil
}

func (s *Service) issue(def *issuer.Definition, rawQuery any, id issuer.Identifier) (*issuer.Context, error) {
	c, err := def.Issue(rawQuery, id, s.now().UTC().Truncate(time.Second))
	if err != nil {
		var ve *apperr.ValidationError
		if errors.As(err, &ve) {
			s.metrics.IncrementValidationFailure(def.Kind, ve.Stage)
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) record(c *issuer.Context, art *render.Artifact) (models.DocumentRequest, error) {
	values, err := json.Marshal(c.Values)
	if err != nil {
		return models.DocumentRequest{}, fmt.Errorf("document: encode context: %w", err)
	}
	rec := models.DocumentRequest{
		ID:         uuid.NewString(),
		Issuer:     c.Kind,
		CreatedOn:  c.CreatedAt,
		UpdatedOn:  c.CreatedAt,
		DocumentID: c.Identifier.String(),
		Context:    values,
		Checksum:   art.Checksum,
	}
	if c.Query != nil {
		query, err := json.Marshal(c.Query)
		if err != nil {
			return models.DocumentRequest{}, fmt.Errorf("document: encode query: %w", err)
		}
		rec.ContextQuery = query
	}
	return rec, nil
}

type outcome struct {
	art *render.Artifact
	err error
}

// render runs the renderer on the worker pool, under the timeout and breaker.
// A render that outlives its timeout keeps its worker until it returns; it
// stops before persisting unless the write had already started.
func (s *Service) render(ctx context.Context, c *issuer.Context, pair templates.Pair) (*render.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.breaker.Allow(); err != nil {
		s.metrics.IncrementRenderFailure(c.Kind)
		return nil, &apperr.RenderError{Kind: c.Kind, Identifier: c.Identifier.String(), Retryable: true, Err: err}
	}
	if err := s.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer s.pool.Release(1)
		defer cancel()
		art, err := s.renderer.Render(rctx, c, pair)
		done <- outcome{art: art, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-rctx.Done():
		// the render may have finished just before cancel fired
		select {
		case o = <-done:
		default:
			o.err = rctx.Err()
		}
	}
	s.metrics.ObserveRender(c.Kind, time.Since(start))

	if o.err == nil {
		s.succeeded()
		return o.art, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(o.err, context.DeadlineExceeded) {
		o.err = &apperr.RenderError{
			Kind:       c.Kind,
			Identifier: c.Identifier.String(),
			Retryable:  true,
			Err:        fmt.Errorf("timed out after %s: %w", s.timeout, o.err),
		}
	}
	s.metrics.IncrementRenderFailure(c.Kind)
	if apperr.IsRetryable(o.err) {
		s.failed()
	}
	return nil, o.err
}

func (s *Service) succeeded() {
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.Info("document: render circuit closed", slog.String("breaker", s.breaker.Name()))
		s.metrics.SetCircuitOpen(false)
	}
}

func (s *Service) failed() {
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.Warn("document: render circuit opened", slog.String("breaker", s.breaker.Name()))
		s.metrics.SetCircuitOpen(true)
	}
}

func (s *Service) publish(typ, kind string, res *Result) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishDocument(typ, sse.DocumentEvent{
		Kind:       kind,
		Identifier: res.Artifact.Identifier.String(),
		RequestID:  res.RequestID,
		URL:        res.URL,
	})
}

// Preview validates and derives a context like CreateDocument and returns the
// expanded templates without compiling or persisting anything.
func (s *Service) Preview(ctx context.Context, kind string, rawQuery any) (*Preview, error) {
	def, err := s.registry.Resolve(kind)
	if err != nil {
		return nil, err
	}
	c, err := s.issue(def, rawQuery, issuer.NewIdentifier())
	if err != nil {
		return nil, err
	}
	pair, err := s.templates.Resolve(def)
	if err != nil {
		return nil, err
	}
	e, err := s.renderer.Expand(ctx, c, pair)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Kind:       def.Kind,
		Identifier: c.Identifier,
		Structure:  string(e.Structure),
		Style:      string(e.Style),
		Context:    c.Values,
	}, nil
}

var errNoRequestLog = errors.New("document: request log is not configured")

// Regenerate re-renders the document of a logged request under its original
// identifier. The stored context is validated again first.
func (s *Service) Regenerate(ctx context.Context, requestID string) (*Result, error) {
	if s.log == nil {
		return nil, errNoRequestLog
	}
	rec, err := s.log.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.regenerate(ctx, rec)
}

func (s *Service) regenerate(ctx context.Context, rec models.DocumentRequest) (*Result, error) {
	def, err := s.registry.Resolve(rec.Issuer)
	if err != nil {
		return nil, err
	}
	id, err := issuer.ParseIdentifier(rec.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("document: request %s: %w", rec.ID, err)
	}
	c, err := def.Restore(rec.Context, id, rec.CreatedOn.UTC())
	if err != nil {
		var ve *apperr.ValidationError
		if errors.As(err, &ve) {
			s.metrics.IncrementValidationFailure(def.Kind, ve.Stage)
		}
		return nil, err
	}
	pair, err := s.templates.Resolve(def)
	if err != nil {
		return nil, err
	}
	art, err := s.render(ctx, c, pair)
	if err != nil {
		return nil, err
	}
	if err := s.log.Touch(ctx, rec.ID, art.Checksum, s.now().UTC()); err != nil {
		return nil, err
	}

	res := &Result{RequestID: rec.ID, Artifact: art, URL: s.paths.URL(id), Context: c}
	s.logger.Info("document: regenerated",
		slog.String("kind", def.Kind),
		slog.String("identifier", id.String()),
		slog.String("request_id", rec.ID))
	s.publish(sse.DocumentRegenerated, def.Kind, res)
	return res, nil
}

// Reconcile regenerates every logged document whose file is missing and
// returns how many were written. Failures are logged and skipped.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if s.log == nil {
		return 0, nil
	}
	recs, err := s.log.All(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, err := s.store.Stat(rec.DocumentID + docpath.Extension)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("reconcile: stat failed", slog.String("document_id", rec.DocumentID), slog.String("error", err.Error()))
			continue
		}
		if _, err := s.regenerate(ctx, rec); err != nil {
			s.logger.Warn("reconcile: regenerate failed",
				slog.String("request_id", rec.ID),
				slog.String("document_id", rec.DocumentID),
				slog.String("error", err.Error()))
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info("reconcile: done", slog.Int("regenerated", n))
	}
	if orphans, err := s.orphans(recs); err != nil {
		s.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
	} else if len(orphans) > 0 {
		s.logger.Warn("reconcile: documents without a logged request", slog.Int("count", len(orphans)))
	}
	return n, nil
}

// Orphans returns stored documents that no logged request refers to.
func (s *Service) Orphans(ctx context.Context) ([]models.DocumentFile, error) {
	if s.log == nil {
		return nil, errNoRequestLog
	}
	recs, err := s.log.All(ctx)
	if err != nil {
		return nil, err
	}
	return s.orphans(recs)
}

func (s *Service) orphans(recs []models.DocumentRequest) ([]models.DocumentFile, error) {
	files, err := s.store.List()
	if err != nil {
		return nil, err
	}
	logged := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		logged[rec.DocumentID+docpath.Extension] = struct{}{}
	}
	var out []models.DocumentFile
	for _, f := range files {
		if _, ok := logged[f.Name]; !ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// GetDocumentPath returns where the document of id is (or will be) stored.
func (s *Service) GetDocumentPath(id issuer.Identifier) string {
	return s.paths.Path(id)
}

// GetDocumentURL returns the public URL of the document of id.
func (s *Service) GetDocumentURL(id issuer.Identifier, opts ...docpath.URLOption) string {
	return s.paths.URL(id, opts...)
}

// GetRequest returns one logged request.
func (s *Service) GetRequest(ctx context.Context, id string) (models.DocumentRequest, error) {
	if s.log == nil {
		return models.DocumentRequest{}, errNoRequestLog
	}
	return s.log.Get(ctx, id)
}

// ListRequests returns logged requests newest first, optionally for one kind.
func (s *Service) ListRequests(ctx context.Context, limit, offset int, kind string) ([]models.DocumentRequest, int, error) {
	if s.log == nil {
		return nil, 0, errNoRequestLog
	}
	if kind != "" {
		def, err := s.registry.Resolve(kind)
		if err != nil {
			return nil, 0, err
		}
		kind = def.Kind
	}
	return s.log.List(ctx, limit, offset, kind)
}

// ReadDocument returns the stored PDF of id and its file metadata.
func (s *Service) ReadDocument(id issuer.Identifier) ([]byte, models.DocumentFile, error) {
	name := docpath.FileName(id)
	info, err := s.store.Stat(name)
	if err != nil {
		return nil, models.DocumentFile{}, err
	}
	data, err := s.store.Read(name)
	if err != nil {
		return nil, models.DocumentFile{}, err
	}
	return data, info, nil
}
