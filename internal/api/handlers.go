package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/docpath"
	"github.com/starford/othala/internal/document"
	"github.com/starford/othala/internal/issuer"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *document.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *document.Service) *Handler {
	return &Handler{svc: svc}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON"))
		return false
	}
	return true
}

// urlOptions makes returned URLs absolute when the caller asks for it with
// ?absolute=true.
func urlOptions(r *http.Request) []docpath.URLOption {
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("absolute")); !ok {
		return nil
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return []docpath.URLOption{docpath.WithHost(r.Host), docpath.WithScheme(scheme)}
}

// CreateDocument handles POST /api/documents.
//
//	@Summary		Issue a document
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDocumentRequest	true	"Kind and query"
//	@Param			absolute	query	bool	false	"Return an absolute URL"
//	@Success		201		{object}	DocumentResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Kind == "" || len(bytes.TrimSpace(req.Query)) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("kind and query are required"))
		return
	}

	var opts []document.CreateOption
	if req.Identifier != "" {
		id, err := issuer.ParseIdentifier(req.Identifier)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("identifier must be a UUID"))
			return
		}
		opts = append(opts, document.WithIdentifier(id))
	}

	res, err := h.svc.CreateDocument(r.Context(), req.Kind, []byte(req.Query), opts...)
	if err != nil {
		writeError(w, "create document", err)
		return
	}
	resp := h.response(r, res)
	resp.Context = res.Context.Values
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) response(r *http.Request, res *document.Result) DocumentResponse {
	art := res.Artifact
	return DocumentResponse{
		RequestID:  res.RequestID,
		DocumentID: art.Identifier.String(),
		URL:        h.svc.GetDocumentURL(art.Identifier, urlOptions(r)...),
		Path:       art.Path,
		Checksum:   art.Checksum,
		Size:       art.Size,
		Metadata:   art.Metadata,
	}
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List logged document requests, newest first
//	@Tags			documents
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			kind	query		string	false	"Filter by kind or short name"
//	@Success		200		{object}	RequestListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListRequests(r.Context(), limit, offset, q.Get("kind"))
	if err != nil {
		writeError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, RequestListResponse{Requests: items, Total: total})
}

// GetDocument handles GET /api/documents/{id}.
//
//	@Summary		Get a logged document request
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Request ID"
//	@Success		200	{object}	models.DocumentRequest
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RegenerateDocument handles POST /api/documents/{id}/regenerate.
//
//	@Summary		Render a logged document again under its identifier
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Request ID"
//	@Success		200	{object}	DocumentResponse
//	@Failure		404	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/regenerate [post]
func (h *Handler) RegenerateDocument(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Regenerate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "regenerate document", err)
		return
	}
	writeJSON(w, http.StatusOK, h.response(r, res))
}

// PreviewDocument handles POST /api/previews.
//
//	@Summary		Expand the templates of a query without rendering
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PreviewRequest	true	"Kind and query"
//	@Success		200		{object}	document.Preview
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/previews [post]
func (h *Handler) PreviewDocument(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Kind == "" || len(bytes.TrimSpace(req.Query)) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("kind and query are required"))
		return
	}
	p, err := h.svc.Preview(r.Context(), req.Kind, []byte(req.Query))
	if err != nil {
		writeError(w, "preview document", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListKinds handles GET /api/kinds.
//
//	@Summary		List issuable kinds and their query fields
//	@Tags			kinds
//	@Produce		json
//	@Success		200	{object}	KindsResponse
//	@Security		BearerAuth
//	@Router			/kinds [get]
func (h *Handler) ListKinds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, KindsResponse{Kinds: h.svc.Kinds()})
}

// ServeMedia handles GET {media_url}{id}.pdf. Names that are not an
// identifier followed by .pdf are never looked up.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := docpath.ParseFileName(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	data, info, err := h.svc.ReadDocument(id)
	if errors.Is(err, apperr.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, "serve media", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("ETag", strconv.Quote(info.Checksum))
	http.ServeContent(w, r, info.Name, info.UpdatedAt, bytes.NewReader(data))
}
