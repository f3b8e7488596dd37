// Package models defines the persisted types shared by storage, the request
// log and the adapters.
package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// DocumentFile describes a rendered PDF on disk.
type DocumentFile struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentRequest is one entry of the request log. ID is unrelated to
// DocumentID; neither can be derived from the other.
type DocumentRequest struct {
	ID           string          `json:"id"`
	Issuer       string          `json:"issuer"`
	CreatedOn    time.Time       `json:"created_on"`
	UpdatedOn    time.Time       `json:"updated_on"`
	DocumentID   string          `json:"document_id"`
	Context      json.RawMessage `json:"context"`
	ContextQuery json.RawMessage `json:"context_query,omitempty"`
	Checksum     string          `json:"checksum"`
}
