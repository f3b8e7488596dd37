package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/othala/internal/document"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *document.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/kinds", h.ListKinds)

	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Get("/documents/{id}", h.GetDocument)
	r.Post("/documents/{id}/regenerate", h.RegenerateDocument)

	r.Post("/previews", h.PreviewDocument)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}

// NewMediaRouter serves rendered PDFs. It is mounted at the media URL and is
// public: document identifiers are unguessable.
func NewMediaRouter(svc *document.Service) chi.Router {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/{name}", h.ServeMedia)
	return r
}
