package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/lucidspace/atelier-api/internal/domain"
)

// AssetStore defines the interface for asset persistence.
type AssetStore interface {
	// Create saves a new asset to the store.
	Create(ctx context.Context, asset *domain.Asset) error

	// GetByID retrieves an asset by its unique ID.
	// Returns ErrAssetNotFound if the asset does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Asset, error)

	// Update saves changes to an existing asset's status and metadata.
	// Returns ErrAssetNotFound if the asset does not exist.
	Update(ctx context.Context, asset *domain.Asset) error

	// WithTx returns a new AssetStore instance that uses the provided
	// transaction.
	WithTx(tx *sql.Tx) AssetStore
}
