// Package storage defines the document file-system abstraction.
package storage

import "github.com/starford/othala/internal/models"

// Provider is the interface for document file operations. Names are relative
// to the documents root.
type Provider interface {
	// List returns metadata for every .pdf file directly under the root.
	List() ([]models.DocumentFile, error)
	// Stat returns metadata for one file; apperr.ErrNotFound when absent.
	Stat(name string) (models.DocumentFile, error)
	// Read returns the raw bytes of the file.
	Read(name string) ([]byte, error)
	// Write atomically replaces the file with content.
	Write(name string, content []byte) error
	// Root is the absolute documents directory.
	Root() string
}
