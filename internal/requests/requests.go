package requests

import (
	"context"
	"time"

	"github.com/starford/othala/internal/models"
)

// Log defines the request log operations.
// Consumers should depend on this interface rather than the concrete *DB type.
type Log interface {
	Insert(ctx context.Context, r models.DocumentRequest) error
	Get(ctx context.Context, id string) (models.DocumentRequest, error)
	GetByDocument(ctx context.Context, documentID string) (models.DocumentRequest, error)
	List(ctx context.Context, limit, offset int, issuer string) ([]models.DocumentRequest, int, error)
	Touch(ctx context.Context, id, checksum string, updatedOn time.Time) error
	All(ctx context.Context) ([]models.DocumentRequest, error)
	Close() error
}

// Verify *DB satisfies Log at compile time.
var _ Log = (*DB)(nil)
