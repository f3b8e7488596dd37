package api

import (
	json "github.com/goccy/go-json"

	"github.com/starford/othala/internal/document"
	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/models"
)

// CreateDocumentRequest is the request body for issuing a document.
type CreateDocumentRequest struct {
	Kind       string          `json:"kind" example:"howard.invoice" validate:"required"`
	Query      json.RawMessage `json:"query" validate:"required"`
	Identifier string          `json:"identifier,omitempty" example:"53ced5ac-d3af-4b08-8ead-096a8cd007a4"`
}

// PreviewRequest is the request body for expanding templates without rendering.
type PreviewRequest struct {
	Kind  string          `json:"kind" example:"invoice" validate:"required"`
	Query json.RawMessage `json:"query" validate:"required"`
}

// DocumentResponse is returned after a document is created or regenerated.
type DocumentResponse struct {
	RequestID  string          `json:"request_id,omitempty"`
	DocumentID string          `json:"document_id" validate:"required"`
	URL        string          `json:"url" example:"/media/53ced5ac-d3af-4b08-8ead-096a8cd007a4.pdf" validate:"required"`
	Path       string          `json:"path" validate:"required"`
	Checksum   string          `json:"checksum"`
	Size       int64           `json:"size"`
	Metadata   issuer.Metadata `json:"metadata"`
	Context    map[string]any  `json:"context,omitempty"`
}

// RequestListResponse wraps paginated request log listings.
type RequestListResponse struct {
	Requests []models.DocumentRequest `json:"requests" validate:"required"`
	Total    int                      `json:"total" example:"42" validate:"required"`
}

// KindsResponse lists issuable kinds.
type KindsResponse struct {
	Kinds []document.KindInfo `json:"kinds" validate:"required"`
}
