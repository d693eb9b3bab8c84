package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
)

// RenderStore defines the interface for render persistence.
type RenderStore interface {
	// Create saves a new render to the store.
	Create(ctx context.Context, render *domain.Render) error

	// GetByID retrieves a render by its unique ID.
	// Returns ErrRenderNotFound if the render does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Render, error)

	// Update saves changes to an existing render's status and metadata.
	// Returns ErrRenderNotFound if the render does not exist.
	Update(ctx context.Context, render *domain.Render) error

	// Delete removes a render. Used to roll back entity creation when the
	// generation job cannot be enqueued.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListBySession retrieves all renders for a session, newest first.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*domain.Render, error)

	// CountBySessionSince counts renders created by a session after the
	// given time. Backs the quota guard.
	CountBySessionSince(ctx context.Context, sessionID uuid.UUID, since time.Time) (int, error)

	// ListStuckProcessing retrieves renders that have been in processing
	// status since before the cutoff. Backs the orphan sweep.
	ListStuckProcessing(ctx context.Context, cutoff time.Time) ([]*domain.Render, error)

	// WithTx returns a new RenderStore instance that uses the provided
	// transaction.
	WithTx(tx *sql.Tx) RenderStore
}
