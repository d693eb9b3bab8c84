package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
)

// DocumentStore defines the interface for document persistence.
type DocumentStore interface {
	// Create saves a new document to the store.
	Create(ctx context.Context, doc *domain.Document) error

	// GetByID retrieves a document by its unique ID.
	// Returns ErrDocumentNotFound if the document does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error)

	// Update saves changes to an existing document's status and metadata.
	// Returns ErrDocumentNotFound if the document does not exist.
	Update(ctx context.Context, doc *domain.Document) error

	// Delete removes a document. Used to roll back entity creation when
	// the generation job cannot be enqueued.
	Delete(ctx context.Context, id uuid.UUID) error

	// CountBySessionSince counts documents created by a session after the
	// given time. Backs the quota guard.
	CountBySessionSince(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error)

	// WithTx returns a new DocumentStore instance that uses the provided
	// transaction.
	WithTx(tx *sql.Tx) DocumentStore
}
